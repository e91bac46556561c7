package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/prreviewer/internal/adapter/driven/postgres"
	"github.com/ericfisherdev/prreviewer/internal/domain/model"
	"github.com/ericfisherdev/prreviewer/internal/domain/port/driven"
)

// setupRepo connects to the database named by PRREVIEWER_TEST_POSTGRES_URL and
// skips the test when it is unset.
func setupRepo(t *testing.T) *postgres.ExecutionRepo {
	t.Helper()

	dsn := os.Getenv("PRREVIEWER_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("PRREVIEWER_TEST_POSTGRES_URL not set")
	}

	ctx := context.Background()
	pool, err := postgres.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.RunMigrations(pool))
	return postgres.NewExecutionRepo(pool)
}

func newExecution(t *testing.T) *model.Execution {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	exec := model.NewExecution(ulid.Make().String(), model.ReviewRequest{
		Repository:        "repo",
		Owner:             "demo",
		PullRequestNumber: 42,
	}, now)
	return &exec
}

func TestExecutionRepo_Lifecycle(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	exec := newExecution(t)
	require.NoError(t, repo.Create(ctx, exec))

	got, err := repo.Get(ctx, exec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, exec.Request, got.Request)
	assert.Nil(t, got.Changes)

	require.NoError(t, exec.Advance(model.StateFetching))
	require.NoError(t, exec.Advance(model.StateReviewing))
	exec.Changes = []model.FileChange{{Filename: "a.go", Status: model.FileAdded, Patch: "+a"}}
	require.NoError(t, repo.Checkpoint(ctx, exec))

	require.NoError(t, exec.Advance(model.StatePosting))
	exec.Reviews = []model.ReviewResult{model.SucceededReview("a.go", "ok", "m")}
	require.NoError(t, repo.Checkpoint(ctx, exec))

	require.NoError(t, exec.Complete(model.PostingOutcome{SuccessfulPosts: 1}, time.Now().UTC()))
	require.NoError(t, repo.Checkpoint(ctx, exec))

	got, err = repo.Get(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionSucceeded, got.Status)
	assert.Equal(t, exec.Changes, got.Changes)
	assert.Equal(t, exec.Reviews, got.Reviews)
	require.NotNil(t, got.Outcome)
	assert.Equal(t, 1, got.Outcome.SuccessfulPosts)
	require.NotNil(t, got.EndTime)

	// Terminal records cannot be rewritten.
	err = repo.Checkpoint(ctx, exec)
	assert.ErrorIs(t, err, driven.ErrExecutionConflict)
}

func TestExecutionRepo_StaleVersion(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	exec := newExecution(t)
	require.NoError(t, repo.Create(ctx, exec))

	stale := *exec
	require.NoError(t, exec.Advance(model.StateFetching))
	require.NoError(t, repo.Checkpoint(ctx, exec))

	require.NoError(t, stale.Advance(model.StateFetching))
	assert.ErrorIs(t, repo.Checkpoint(ctx, &stale), driven.ErrExecutionConflict)
}

func TestExecutionRepo_Lease(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	exec := newExecution(t)
	require.NoError(t, repo.Create(ctx, exec))

	stale := *exec
	until := exec.StartTime.Add(11 * time.Minute)
	exec.Claim("runner-a", until)
	require.NoError(t, repo.Checkpoint(ctx, exec))

	got, err := repo.Get(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, "runner-a", got.LeaseOwner)
	require.NotNil(t, got.LeaseUntil)
	assert.True(t, until.Equal(*got.LeaseUntil))

	stale.Claim("runner-b", until)
	assert.ErrorIs(t, repo.Checkpoint(ctx, &stale), driven.ErrExecutionConflict)

	got.ReleaseLease()
	require.NoError(t, repo.Checkpoint(ctx, got))
	got, err = repo.Get(ctx, exec.ID)
	require.NoError(t, err)
	assert.Empty(t, got.LeaseOwner)
	assert.Nil(t, got.LeaseUntil)
}

func TestExecutionRepo_DuplicateAndMissing(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	exec := newExecution(t)
	require.NoError(t, repo.Create(ctx, exec))
	assert.ErrorIs(t, repo.Create(ctx, exec), postgres.ErrDuplicateExecution)

	got, err := repo.Get(ctx, fmt.Sprintf("missing-%s", exec.ID))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestExecutionRepo_ListRecent(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	exec := newExecution(t)
	require.NoError(t, repo.Create(ctx, exec))

	recent, err := repo.ListRecent(ctx, 1000)
	require.NoError(t, err)

	found := false
	for _, e := range recent {
		if e.ID == exec.ID {
			found = true
		}
	}
	assert.True(t, found)

	running, err := repo.ListByStatus(ctx, model.ExecutionRunning)
	require.NoError(t, err)
	assert.NotEmpty(t, running)
}
