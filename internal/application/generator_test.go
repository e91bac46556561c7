package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/prreviewer/internal/domain/model"
)

const testModel = "claude-test"

func TestReviewGenerator_EmptyInput(t *testing.T) {
	llm := &mockInference{model: testModel}

	results := NewReviewGenerator(llm, DefaultReviewOptions()).Generate(context.Background(), nil)

	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.EqualValues(t, 0, llm.calls.Load())
}

func TestReviewGenerator_SkipsFilesWithoutPatch(t *testing.T) {
	llm := &mockInference{model: testModel}
	changes := []model.FileChange{
		{Filename: "main.go", Status: model.FileModified, Patch: "+fmt.Println()"},
		{Filename: "logo.png", Status: model.FileAdded},
	}

	results := NewReviewGenerator(llm, DefaultReviewOptions()).Generate(context.Background(), changes)

	require.Len(t, results, 2)
	assert.Equal(t, model.ReviewSucceeded, results[0].Status)
	assert.Equal(t, "Looks good overall.", results[0].Review)
	assert.Equal(t, testModel, results[0].Model)

	assert.Equal(t, "logo.png", results[1].File)
	assert.Equal(t, model.ReviewSkipped, results[1].Status)
	assert.Equal(t, ReasonNoPatch, results[1].Error)
	assert.Empty(t, results[1].Review)

	assert.EqualValues(t, 1, llm.calls.Load(), "skipped files never reach inference")
}

func TestReviewGenerator_IsolatesFailures(t *testing.T) {
	llm := &mockInference{
		model: testModel,
		textFor: func(prompt string) (string, error) {
			switch {
			case strings.Contains(prompt, "File: broken.go"):
				return "", errors.New("throttled")
			case strings.Contains(prompt, "File: empty.go"):
				return "   \n", nil
			default:
				return "  Fine.  \n", nil
			}
		},
	}
	changes := []model.FileChange{
		{Filename: "broken.go", Status: model.FileModified, Patch: "+a"},
		{Filename: "empty.go", Status: model.FileModified, Patch: "+b"},
		{Filename: "ok.go", Status: model.FileModified, Patch: "+c"},
	}

	results := NewReviewGenerator(llm, DefaultReviewOptions()).Generate(context.Background(), changes)

	require.Len(t, results, 3)
	assert.Equal(t, model.ReviewFailed, results[0].Status)
	assert.Contains(t, results[0].Error, "throttled")
	assert.Empty(t, results[0].Review)

	assert.Equal(t, model.ReviewFailed, results[1].Status)
	assert.Contains(t, results[1].Error, "empty review content")

	assert.Equal(t, model.ReviewSucceeded, results[2].Status)
	assert.Equal(t, "Fine.", results[2].Review)
}

func TestReviewGenerator_OneResultPerFileInOrder(t *testing.T) {
	llm := &mockInference{
		model: testModel,
		textFor: func(prompt string) (string, error) {
			line := strings.SplitN(strings.SplitN(prompt, "File: ", 2)[1], "\n", 2)[0]
			return "review of " + line, nil
		},
	}

	var changes []model.FileChange
	for i := range 25 {
		change := model.FileChange{Filename: fmt.Sprintf("f%02d.go", i), Status: model.FileModified}
		if i%3 != 0 {
			change.Patch = "+x"
		}
		changes = append(changes, change)
	}

	opts := DefaultReviewOptions()
	opts.Concurrency = 3
	results := NewReviewGenerator(llm, opts).Generate(context.Background(), changes)

	require.Len(t, results, len(changes))
	for i, r := range results {
		assert.Equal(t, changes[i].Filename, r.File)
		if changes[i].HasPatch() {
			assert.Equal(t, "review of "+changes[i].Filename, r.Review)
		} else {
			assert.Equal(t, model.ReviewSkipped, r.Status)
		}
	}
	assert.LessOrEqual(t, llm.maxSeen.Load(), int32(3))
}

func TestReviewGenerator_PanicConfinedToFile(t *testing.T) {
	llm := &mockInference{
		model: testModel,
		textFor: func(prompt string) (string, error) {
			if strings.Contains(prompt, "File: bad.go") {
				panic("nil map write")
			}
			return "ok", nil
		},
	}
	changes := []model.FileChange{
		{Filename: "bad.go", Patch: "+a"},
		{Filename: "good.go", Patch: "+b"},
	}

	results := NewReviewGenerator(llm, DefaultReviewOptions()).Generate(context.Background(), changes)

	require.Len(t, results, 2)
	assert.Equal(t, model.ReviewFailed, results[0].Status)
	assert.Contains(t, results[0].Error, "nil map write")
	assert.Equal(t, model.ReviewSucceeded, results[1].Status)
}

func TestBuildReviewPrompt(t *testing.T) {
	prompt := BuildReviewPrompt(model.FileChange{
		Filename: "internal/app.go",
		Status:   model.FileRenamed,
		Patch:    "@@ -1 +1 @@\n-old\n+new",
	})

	assert.Contains(t, prompt, "high-level summary")
	assert.Contains(t, prompt, "potential bugs")
	assert.Contains(t, prompt, "Suggestions")
	assert.Contains(t, prompt, "File: internal/app.go\n")
	assert.Contains(t, prompt, "Status: renamed\n")
	assert.Contains(t, prompt, "Diff:\n@@ -1 +1 @@\n-old\n+new")
}
