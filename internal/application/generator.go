package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/prreviewer/internal/domain/model"
	"github.com/ericfisherdev/prreviewer/internal/domain/port/driven"
)

// ReasonNoPatch is recorded on files that were skipped for lack of a diff.
const ReasonNoPatch = "no patch content"

// ReviewOptions bounds each inference call and the per-file parallelism.
type ReviewOptions struct {
	MaxTokens   int
	Temperature float64
	Concurrency int
}

// DefaultReviewOptions returns the settings used when none are configured.
func DefaultReviewOptions() ReviewOptions {
	return ReviewOptions{MaxTokens: 1000, Temperature: 0.5, Concurrency: 4}
}

// ReviewGenerator produces one review per changed file. Failures are recorded
// per file and never abort the batch.
type ReviewGenerator struct {
	llm  driven.Inference
	opts ReviewOptions
}

// NewReviewGenerator creates a ReviewGenerator bound to one execution's client.
func NewReviewGenerator(llm driven.Inference, opts ReviewOptions) *ReviewGenerator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &ReviewGenerator{llm: llm, opts: opts}
}

// Generate returns results in the same order as changes. It never returns an
// error; an unexpected failure outside a single file yields one failed result
// describing it.
func (g *ReviewGenerator) Generate(ctx context.Context, changes []model.FileChange) (results []model.ReviewResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("review generation panicked", "panic", r)
			results = []model.ReviewResult{model.FailedReview("", fmt.Sprintf("review generation failed: %v", r), g.modelName())}
		}
	}()

	results = make([]model.ReviewResult, len(changes))
	if len(changes) == 0 {
		return results
	}

	eg := new(errgroup.Group)
	eg.SetLimit(g.opts.Concurrency)

	for i, change := range changes {
		eg.Go(func() error {
			results[i] = g.reviewFile(ctx, change)
			return nil
		})
	}
	_ = eg.Wait()

	succeeded, failed, skipped := model.CountReviews(results)
	slog.Info("reviews generated",
		"files", len(results),
		"succeeded", succeeded,
		"failed", failed,
		"skipped", skipped,
	)

	return results
}

// reviewFile reviews a single file. A panic is confined to this file's result.
func (g *ReviewGenerator) reviewFile(ctx context.Context, change model.FileChange) (result model.ReviewResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("file review panicked", "file", change.Filename, "panic", r)
			result = model.FailedReview(change.Filename, fmt.Sprintf("unexpected error for %s: %v", change.Filename, r), g.modelName())
		}
	}()

	if !change.HasPatch() {
		slog.Warn("no patch content, skipping", "file", change.Filename)
		return model.SkippedReview(change.Filename, ReasonNoPatch)
	}

	slog.Debug("sending diff for review", "file", change.Filename, "diff_len", len(change.Patch))

	completion, err := g.llm.Complete(ctx, driven.CompletionRequest{
		Prompt:      BuildReviewPrompt(change),
		MaxTokens:   g.opts.MaxTokens,
		Temperature: g.opts.Temperature,
	})
	if err != nil {
		slog.Error("inference call failed", "file", change.Filename, "error", err)
		return model.FailedReview(change.Filename, fmt.Sprintf("inference error for %s: %v", change.Filename, err), g.modelName())
	}

	modelName := completion.Model
	if modelName == "" {
		modelName = g.modelName()
	}

	text := strings.TrimSpace(completion.Text)
	if text == "" {
		slog.Warn("empty review content", "file", change.Filename)
		return model.FailedReview(change.Filename, fmt.Sprintf("empty review content from inference for %s", change.Filename), modelName)
	}

	slog.Info("file review succeeded",
		"file", change.Filename,
		"input_tokens", completion.InputTokens,
		"output_tokens", completion.OutputTokens,
	)
	return model.SucceededReview(change.Filename, text, modelName)
}

func (g *ReviewGenerator) modelName() string {
	if g.llm == nil {
		return ""
	}
	return g.llm.Model()
}

// BuildReviewPrompt embeds the file name, its change status, and the unified
// diff in the review instructions.
func BuildReviewPrompt(change model.FileChange) string {
	var sb strings.Builder
	sb.WriteString("Please review the following code diff and provide:\n")
	sb.WriteString(" 1. A concise high-level summary.\n")
	sb.WriteString(" 2. Detailed comments on potential bugs or logic errors.\n")
	sb.WriteString(" 3. Suggestions for improvements or refactoring.\n\n")
	fmt.Fprintf(&sb, "File: %s\n", change.Filename)
	fmt.Fprintf(&sb, "Status: %s\n", change.Status)
	fmt.Fprintf(&sb, "Diff:\n%s\n", change.Patch)
	return sb.String()
}
