package application

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/prreviewer/internal/domain/model"
	"github.com/ericfisherdev/prreviewer/internal/domain/port/driven"
)

var fixedNow = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

type orchFixture struct {
	store    *memStore
	gh       *mockGitHubClient
	llm      *mockInference
	opener   *staticOpener
	notifier *mockNotifier
	orch     *Orchestrator
}

func newOrchFixture(t *testing.T, cfg OrchestratorConfig) *orchFixture {
	t.Helper()

	f := &orchFixture{
		store: newMemStore(),
		gh: &mockGitHubClient{files: []model.FileChange{
			{Filename: "main.go", Status: model.FileModified, Patch: "@@ -1 +1 @@\n-a\n+b"},
			{Filename: "logo.png", Status: model.FileAdded},
		}},
		llm:      &mockInference{model: testModel},
		notifier: &mockNotifier{},
	}
	f.opener = &staticOpener{clients: &Clients{GitHub: f.gh, Inference: f.llm}}
	f.orch = NewOrchestrator(f.store, f.opener, f.notifier, cfg)

	var seq atomic.Int32
	f.orch.now = func() time.Time { return fixedNow }
	f.orch.newID = func() string { return fmt.Sprintf("exec-%d", seq.Add(1)) }
	return f
}

func demoRequest() model.ReviewRequest {
	return model.ReviewRequest{Repository: "repo", Owner: "demo", PullRequestNumber: 42}
}

func (f *orchFixture) startAndRun(t *testing.T) model.Execution {
	t.Helper()
	exec, err := f.orch.Start(context.Background(), demoRequest())
	require.NoError(t, err)
	require.NoError(t, f.orch.Execute(context.Background(), exec.ID))
	return f.store.load(exec.ID)
}

func TestOrchestrator_HappyPath(t *testing.T) {
	f := newOrchFixture(t, DefaultOrchestratorConfig())

	exec := f.startAndRun(t)

	assert.Equal(t, model.ExecutionSucceeded, exec.Status)
	assert.Equal(t, model.StateDone, exec.State)
	require.NotNil(t, exec.EndTime)
	assert.Equal(t, fixedNow, *exec.EndTime)
	assert.Empty(t, exec.Error)

	out := exec.Output()
	require.NotNil(t, out)
	assert.Equal(t, "repo", out.Repository)
	assert.Equal(t, "demo", out.Owner)
	assert.Equal(t, 42, out.PullRequestNumber)
	assert.Equal(t, model.PostingOutcome{SuccessfulPosts: 1, FailedPosts: 1}, out.Result)
	require.Len(t, out.Reviews, 2)
	assert.Equal(t, model.ReviewSkipped, out.Reviews[1].Status)

	assert.Equal(t, 1, f.gh.postedCount())
	assert.Equal(t, 5, f.store.checkpoints, "the claim plus one checkpoint per transition")
	assert.Equal(t, 6, exec.Version)
	assert.Empty(t, exec.LeaseOwner, "finished executions hold no lease")
	assert.Equal(t, 1, f.notifier.count())
}

func TestOrchestrator_UnknownRepositoryFails(t *testing.T) {
	f := newOrchFixture(t, DefaultOrchestratorConfig())
	f.gh.fetchErr = errors.New("GET https://api.github.com/repos/demo/repo/pulls/42/files: 404 Not Found")

	exec := f.startAndRun(t)

	assert.Equal(t, model.ExecutionFailed, exec.Status)
	assert.Equal(t, model.StateFailed, exec.State)
	assert.Equal(t, string(model.KindUpstream), exec.Error)
	assert.Contains(t, exec.Cause, "404 Not Found")
	assert.Nil(t, exec.Output())
	assert.Nil(t, exec.Changes)

	assert.EqualValues(t, 0, f.llm.calls.Load())
	assert.Zero(t, f.gh.postedCount())
	assert.Zero(t, f.notifier.count())
}

func TestOrchestrator_EmptyReviewCountsAsFailedPost(t *testing.T) {
	f := newOrchFixture(t, DefaultOrchestratorConfig())
	f.gh.files = f.gh.files[:1]
	f.llm.textFor = func(string) (string, error) { return "", nil }

	exec := f.startAndRun(t)

	assert.Equal(t, model.ExecutionSucceeded, exec.Status)
	require.NotNil(t, exec.Outcome)
	assert.Equal(t, 0, exec.Outcome.SuccessfulPosts)
	assert.Equal(t, 1, exec.Outcome.FailedPosts)
	assert.Zero(t, f.gh.postedCount())
}

func TestOrchestrator_EmptyPullRequest(t *testing.T) {
	f := newOrchFixture(t, DefaultOrchestratorConfig())
	f.gh.files = nil

	exec := f.startAndRun(t)

	assert.Equal(t, model.ExecutionSucceeded, exec.Status)
	assert.Equal(t, model.PostingOutcome{}, *exec.Outcome)
	assert.NotNil(t, exec.Changes)
	assert.Empty(t, exec.Reviews)
}

func TestOrchestrator_StepTimeout(t *testing.T) {
	cfg := DefaultOrchestratorConfig()
	cfg.StepTimeout = 20 * time.Millisecond
	f := newOrchFixture(t, cfg)
	f.llm.block = true

	exec := f.startAndRun(t)

	assert.Equal(t, model.ExecutionTimedOut, exec.Status)
	assert.Equal(t, model.StateFailed, exec.State)
	assert.Equal(t, model.ErrorNameTimeout, exec.Error)
	assert.Contains(t, exec.Cause, "REVIEWING")
	assert.Nil(t, exec.Reviews, "timed out step output is not checkpointed")
	assert.Zero(t, f.gh.postedCount())
}

func TestOrchestrator_MissingCredentialFails(t *testing.T) {
	f := newOrchFixture(t, DefaultOrchestratorConfig())
	f.opener.err = model.Internal("client initialization", fmt.Errorf("github credential: %w", driven.ErrSecretNotFound))

	exec := f.startAndRun(t)

	assert.Equal(t, model.ExecutionFailed, exec.Status)
	assert.Equal(t, string(model.KindInternal), exec.Error)
	assert.Contains(t, exec.Cause, "client initialization")
	assert.Zero(t, f.gh.fetchCalls)
}

func TestOrchestrator_StartValidation(t *testing.T) {
	f := newOrchFixture(t, DefaultOrchestratorConfig())

	_, err := f.orch.Start(context.Background(), model.ReviewRequest{Repository: "repo", Owner: "demo"})

	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindValidation))
	recent, err := f.store.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent, "invalid requests create no execution")
}

func TestOrchestrator_ResumesFromCheckpoint(t *testing.T) {
	f := newOrchFixture(t, DefaultOrchestratorConfig())

	exec := model.NewExecution("exec-resume", demoRequest(), fixedNow)
	exec.State = model.StateReviewing
	exec.Changes = []model.FileChange{{Filename: "svc.go", Status: model.FileModified, Patch: "+x"}}
	exec.Version = 3
	f.store.put(exec)

	require.NoError(t, f.orch.Execute(context.Background(), "exec-resume"))

	got := f.store.load("exec-resume")
	assert.Equal(t, model.ExecutionSucceeded, got.Status)
	assert.Zero(t, f.gh.fetchCalls, "committed steps are not repeated")
	require.Len(t, got.Reviews, 1)
	assert.Equal(t, "svc.go", got.Reviews[0].File)
	assert.Equal(t, 6, got.Version)
}

func TestOrchestrator_ExecuteTerminalIsNoop(t *testing.T) {
	f := newOrchFixture(t, DefaultOrchestratorConfig())
	exec := f.startAndRun(t)
	checkpoints := f.store.checkpoints

	require.NoError(t, f.orch.Execute(context.Background(), exec.ID))
	require.NoError(t, f.orch.Execute(context.Background(), "does-not-exist"))

	assert.Equal(t, checkpoints, f.store.checkpoints)
	assert.Equal(t, 1, f.gh.postedCount())
}

func TestOrchestrator_CancelLeavesExecutionRunning(t *testing.T) {
	f := newOrchFixture(t, DefaultOrchestratorConfig())
	f.llm.block = true

	exec, err := f.orch.Start(context.Background(), demoRequest())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.orch.Execute(ctx, exec.ID) }()

	require.Eventually(t, func() bool { return f.llm.calls.Load() > 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	got := f.store.load(exec.ID)
	assert.Equal(t, model.ExecutionRunning, got.Status)
	assert.Equal(t, model.StateReviewing, got.State)
	assert.NotNil(t, got.Changes, "fetch output survives for the resumed run")
	assert.Nil(t, got.Reviews)
	assert.Empty(t, got.LeaseOwner, "an interrupted run hands its lease back")
}

func TestOrchestrator_NoConcurrentRunsOfOneExecution(t *testing.T) {
	f := newOrchFixture(t, DefaultOrchestratorConfig())
	f.llm.gate = make(chan struct{})

	exec, err := f.orch.Start(context.Background(), demoRequest())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- f.orch.Execute(context.Background(), exec.ID) }()
	require.Eventually(t, func() bool { return f.llm.calls.Load() > 0 }, 2*time.Second, 5*time.Millisecond)

	// The second runner backs off while the first holds the execution.
	require.NoError(t, f.orch.Execute(context.Background(), exec.ID))

	close(f.llm.gate)
	require.NoError(t, <-done)

	assert.EqualValues(t, 1, f.llm.calls.Load())
	assert.Equal(t, 1, f.gh.postedCount())
	assert.Equal(t, model.ExecutionSucceeded, f.store.load(exec.ID).Status)
}

func TestOrchestrator_SharedStoreRunsExecutionOnce(t *testing.T) {
	cfg := DefaultOrchestratorConfig()
	cfg.SweepInterval = 20 * time.Millisecond
	f := newOrchFixture(t, cfg)
	f.gh.prGate = make(chan struct{})

	// A second process sharing the store and the provider accounts.
	other := NewOrchestrator(f.store, f.opener, f.notifier, cfg)
	other.now = f.orch.now

	exec := model.NewExecution("exec-shared", demoRequest(), fixedNow)
	exec.State = model.StatePosting
	exec.Changes = []model.FileChange{{Filename: "main.go", Status: model.FileModified, Patch: "+x"}}
	exec.Reviews = []model.ReviewResult{model.SucceededReview("main.go", "Looks good.", testModel)}
	f.store.put(exec)

	done := make(chan error, 1)
	go func() { done <- f.orch.Execute(context.Background(), "exec-shared") }()
	require.Eventually(t, func() bool { return f.gh.prCalls.Load() > 0 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		other.Run(ctx)
		close(stopped)
	}()

	// Several sweeps of the second process pass while the first is mid-step.
	time.Sleep(10 * cfg.SweepInterval)
	close(f.gh.prGate)
	require.NoError(t, <-done)

	cancel()
	<-stopped

	assert.EqualValues(t, 1, f.gh.prMaxActive.Load(), "one runner at a time")
	assert.EqualValues(t, 1, f.gh.prCalls.Load())
	assert.Equal(t, 1, f.gh.postedCount())
	assert.Equal(t, model.ExecutionSucceeded, f.store.load("exec-shared").Status)
}

func TestOrchestrator_LeaseHeldElsewhere(t *testing.T) {
	f := newOrchFixture(t, DefaultOrchestratorConfig())

	exec := model.NewExecution("exec-leased", demoRequest(), fixedNow)
	exec.Claim("runner-elsewhere", fixedNow.Add(time.Minute))
	f.store.put(exec)

	require.NoError(t, f.orch.Execute(context.Background(), "exec-leased"))

	got := f.store.load("exec-leased")
	assert.Equal(t, model.StateInit, got.State)
	assert.Equal(t, "runner-elsewhere", got.LeaseOwner)
	assert.Zero(t, f.store.checkpoints)
}

func TestOrchestrator_LapsedLeaseIsTakenOver(t *testing.T) {
	f := newOrchFixture(t, DefaultOrchestratorConfig())

	// Left behind by a runner that crashed mid-review.
	exec := model.NewExecution("exec-orphan", demoRequest(), fixedNow)
	exec.State = model.StateFetching
	exec.Claim("runner-crashed", fixedNow.Add(-time.Second))
	f.store.put(exec)

	require.NoError(t, f.orch.Execute(context.Background(), "exec-orphan"))

	got := f.store.load("exec-orphan")
	assert.Equal(t, model.ExecutionSucceeded, got.Status)
	assert.Equal(t, 1, f.gh.postedCount())
}

func TestOrchestrator_Abort(t *testing.T) {
	f := newOrchFixture(t, DefaultOrchestratorConfig())

	exec, err := f.orch.Start(context.Background(), demoRequest())
	require.NoError(t, err)

	aborted, err := f.orch.Abort(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionAborted, aborted.Status)
	assert.Equal(t, model.ErrorNameAborted, aborted.Error)

	require.NoError(t, f.orch.Execute(context.Background(), exec.ID))
	assert.Zero(t, f.gh.fetchCalls, "aborted executions never run")

	again, err := f.orch.Abort(context.Background(), exec.ID)
	require.ErrorIs(t, err, ErrAlreadyTerminal)
	assert.Equal(t, model.ExecutionAborted, again.Status)

	_, err = f.orch.Abort(context.Background(), "missing")
	assert.True(t, model.IsKind(err, model.KindNotFound))
}

func TestOrchestrator_AbortDuringStepDiscardsResult(t *testing.T) {
	f := newOrchFixture(t, DefaultOrchestratorConfig())
	f.llm.gate = make(chan struct{})

	exec, err := f.orch.Start(context.Background(), demoRequest())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- f.orch.Execute(context.Background(), exec.ID) }()
	require.Eventually(t, func() bool { return f.llm.calls.Load() > 0 }, 2*time.Second, 5*time.Millisecond)

	_, err = f.orch.Abort(context.Background(), exec.ID)
	require.NoError(t, err)

	close(f.llm.gate)
	require.NoError(t, <-done)

	got := f.store.load(exec.ID)
	assert.Equal(t, model.ExecutionAborted, got.Status)
	assert.Nil(t, got.Reviews)
	assert.Zero(t, f.gh.postedCount())
	assert.Zero(t, f.notifier.count())
}

func TestOrchestrator_CheckpointErrorSurfaces(t *testing.T) {
	f := newOrchFixture(t, DefaultOrchestratorConfig())
	f.store.checkpointErr = errors.New("disk I/O error")

	exec, err := f.orch.Start(context.Background(), demoRequest())
	require.NoError(t, err)

	err = f.orch.Execute(context.Background(), exec.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")

	got := f.store.load(exec.ID)
	assert.Equal(t, model.ExecutionRunning, got.Status)
	assert.Equal(t, model.StateInit, got.State)
}

func TestOrchestrator_NotifierFailureIsIgnored(t *testing.T) {
	f := newOrchFixture(t, DefaultOrchestratorConfig())
	f.notifier.err = errors.New("slack returned 500")

	exec := f.startAndRun(t)

	assert.Equal(t, model.ExecutionSucceeded, exec.Status)
	assert.Equal(t, 1, f.notifier.count())
}

func TestOrchestrator_RunResumesRunningExecutions(t *testing.T) {
	cfg := DefaultOrchestratorConfig()
	cfg.Workers = 2
	cfg.SweepInterval = 10 * time.Millisecond
	f := newOrchFixture(t, cfg)

	// Left RUNNING by a previous process.
	for i := range 3 {
		exec := model.NewExecution(fmt.Sprintf("orphan-%d", i), demoRequest(), fixedNow)
		exec.State = model.StateFetching
		f.store.put(exec)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		f.orch.Run(ctx)
		close(stopped)
	}()

	started, err := f.orch.Start(context.Background(), demoRequest())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		running, err := f.store.ListByStatus(context.Background(), model.ExecutionRunning)
		return err == nil && len(running) == 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-stopped

	for _, id := range []string{"orphan-0", "orphan-1", "orphan-2", started.ID} {
		assert.Equal(t, model.ExecutionSucceeded, f.store.load(id).Status, id)
	}
	assert.Equal(t, 4, f.gh.postedCount(), "each execution posts exactly once")
}

func TestOrchestrator_List(t *testing.T) {
	f := newOrchFixture(t, DefaultOrchestratorConfig())
	for range 3 {
		_, err := f.orch.Start(context.Background(), demoRequest())
		require.NoError(t, err)
	}

	execs, err := f.orch.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, execs, 3)
	assert.Equal(t, "exec-3", execs[0].ID)

	execs, err = f.orch.List(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, execs, 2)
}
