// Package application contains the review workflow services: the three
// pipeline steps and the durable orchestrator that sequences them.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ericfisherdev/prreviewer/internal/domain/model"
	"github.com/ericfisherdev/prreviewer/internal/domain/port/driven"
)

// ErrAlreadyTerminal is returned by Abort for executions that have finished.
var ErrAlreadyTerminal = errors.New("execution already finished")

// clientOpener opens the provider clients for one execution.
type clientOpener interface {
	Open(ctx context.Context) (*Clients, error)
}

// OrchestratorConfig tunes the runner.
type OrchestratorConfig struct {
	Workers       int
	StepTimeout   time.Duration
	SweepInterval time.Duration
	Review        ReviewOptions
}

// DefaultOrchestratorConfig returns the settings used when none are configured.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Workers:       4,
		StepTimeout:   10 * time.Minute,
		SweepInterval: 30 * time.Second,
		Review:        DefaultReviewOptions(),
	}
}

// Orchestrator drives executions through INIT -> FETCHING -> REVIEWING ->
// POSTING -> DONE. Every transition is checkpointed to the execution store
// before the next step begins, so a restarted process resumes from the last
// committed state. Within one process an execution is never run twice
// concurrently; across processes a runner first claims the execution with a
// store lease, renewed on every checkpoint, and the others leave it alone
// until the lease lapses.
type Orchestrator struct {
	store    driven.ExecutionStore
	clients  clientOpener
	notifier driven.Notifier
	cfg      OrchestratorConfig

	// owner identifies this runner in execution leases.
	owner string

	now   func() time.Time
	newID func() string

	queue    chan string
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewOrchestrator creates an Orchestrator. notifier may be nil.
func NewOrchestrator(store driven.ExecutionStore, clients clientOpener, notifier driven.Notifier, cfg OrchestratorConfig) *Orchestrator {
	defaults := DefaultOrchestratorConfig()
	if cfg.Workers < 1 {
		cfg.Workers = defaults.Workers
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = defaults.StepTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	if cfg.Review.MaxTokens <= 0 {
		cfg.Review.MaxTokens = defaults.Review.MaxTokens
	}

	return &Orchestrator{
		store:    store,
		clients:  clients,
		notifier: notifier,
		cfg:      cfg,
		owner:    "runner-" + newExecutionID(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    newExecutionID,
		queue:    make(chan string, cfg.Workers*16),
		inFlight: make(map[string]struct{}),
	}
}

func newExecutionID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.DefaultEntropy()).String()
}

// leaseGrace is added to the step timeout so a live runner always renews its
// lease before it lapses.
const leaseGrace = time.Minute

func (o *Orchestrator) leaseTTL() time.Duration {
	return o.cfg.StepTimeout + leaseGrace
}

// Start validates req, persists a new RUNNING execution, and queues it.
// Duplicate requests for the same pull request are not coalesced.
func (o *Orchestrator) Start(ctx context.Context, req model.ReviewRequest) (*model.Execution, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	exec := model.NewExecution(o.newID(), req, o.now())
	if err := o.store.Create(ctx, &exec); err != nil {
		return nil, model.Internal("create execution", err)
	}

	slog.Info("review execution started",
		"execution_id", exec.ID,
		"repository", req.Repository,
		"owner", req.Owner,
		"pull_request_number", req.PullRequestNumber,
		"branch", req.Branch,
		"pr_author", req.Author,
		"pr_title", req.Title,
		"pr_state", req.State,
		"pr_created_at", req.CreatedAt,
		"commit_sha", req.CommitSHA,
	)

	// A full queue is not an error: the sweep picks the execution up.
	select {
	case o.queue <- exec.ID:
	default:
		slog.Warn("execution queue full, deferring to sweep", "execution_id", exec.ID)
	}

	return &exec, nil
}

// Describe returns the execution record. Unknown ids are not-found errors.
func (o *Orchestrator) Describe(ctx context.Context, id string) (*model.Execution, error) {
	exec, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, model.Internal("load execution", err)
	}
	if exec == nil {
		return nil, model.NotFoundf("execution %q not found", id)
	}
	return exec, nil
}

// List returns up to limit executions, newest first.
func (o *Orchestrator) List(ctx context.Context, limit int) ([]model.Execution, error) {
	if limit <= 0 {
		limit = 20
	}
	execs, err := o.store.ListRecent(ctx, limit)
	if err != nil {
		return nil, model.Internal("list executions", err)
	}
	return execs, nil
}

// Abort marks a running execution ABORTED. A step already in progress runs to
// completion but its result is discarded by the store's version check.
func (o *Orchestrator) Abort(ctx context.Context, id string) (*model.Execution, error) {
	const attempts = 3

	for range attempts {
		exec, err := o.Describe(ctx, id)
		if err != nil {
			return nil, err
		}
		if exec.Status.IsTerminal() {
			return exec, fmt.Errorf("execution %s is %s: %w", id, exec.Status, ErrAlreadyTerminal)
		}

		now := o.now()
		if err := exec.Fail(model.ExecutionAborted, model.ErrorNameAborted, "aborted by request", now); err != nil {
			return nil, model.Internal("abort execution", err)
		}
		exec.UpdatedAt = now
		exec.ReleaseLease()

		err = o.store.Checkpoint(ctx, exec)
		if errors.Is(err, driven.ErrExecutionConflict) {
			// The runner committed a transition in between; reload and retry.
			continue
		}
		if err != nil {
			return nil, model.Internal("abort execution", err)
		}

		slog.Info("review execution aborted", "execution_id", id)
		return exec, nil
	}

	return nil, model.Internal("abort execution", fmt.Errorf("execution %s kept changing", id))
}

// Run starts the worker pool and the resume sweep and blocks until ctx is
// canceled. Executions interrupted by cancellation stay RUNNING and are
// resumed by the next sweep, in this process or another.
func (o *Orchestrator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range o.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.worker(ctx, i)
		}()
	}

	o.sweep(ctx)

	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			slog.Info("orchestrator stopped")
			return
		case <-ticker.C:
			o.sweep(ctx)
		}
	}
}

func (o *Orchestrator) worker(ctx context.Context, n int) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-o.queue:
			if err := o.Execute(ctx, id); err != nil {
				slog.Error("execution run failed", "worker", n, "execution_id", id, "error", err)
			}
		}
	}
}

// sweep queues every RUNNING execution not already in flight here and not
// leased by another runner.
func (o *Orchestrator) sweep(ctx context.Context) {
	running, err := o.store.ListByStatus(ctx, model.ExecutionRunning)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("resume sweep failed", "error", err)
		}
		return
	}

	queued := 0
	now := o.now()
	for _, exec := range running {
		if o.isInFlight(exec.ID) || exec.LeasedByOther(o.owner, now) {
			continue
		}
		select {
		case o.queue <- exec.ID:
			queued++
		case <-ctx.Done():
			return
		default:
			// Queue full; the next sweep retries.
		}
	}

	if queued > 0 {
		slog.Info("resume sweep queued executions", "count", queued, "running", len(running))
	}
}

func (o *Orchestrator) claim(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.inFlight[id]; ok {
		return false
	}
	o.inFlight[id] = struct{}{}
	return true
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, id)
}

func (o *Orchestrator) isInFlight(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inFlight[id]
	return ok
}

// Execute drives one execution from its last checkpoint to a terminal state.
// It returns nil when another runner owns the execution or it is already
// finished; an error means the store could not be read or written.
func (o *Orchestrator) Execute(ctx context.Context, id string) error {
	if !o.claim(id) {
		return nil
	}
	defer o.release(id)

	exec, err := o.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load execution %s: %w", id, err)
	}
	if exec == nil || exec.Status.IsTerminal() {
		return nil
	}
	if exec.LeasedByOther(o.owner, o.now()) {
		slog.Debug("execution leased by another runner",
			"execution_id", id,
			"lease_owner", exec.LeaseOwner,
			"lease_until", exec.LeaseUntil,
		)
		return nil
	}

	r := &run{o: o, exec: exec}
	ok, err := r.acquire(ctx)
	if err != nil || !ok {
		return err
	}

	err = r.drive(ctx)
	if ctx.Err() != nil {
		r.yield(ctx)
	}
	return err
}

// run carries one execution's record and lazily opened clients.
type run struct {
	o       *Orchestrator
	exec    *model.Execution
	clients *Clients
}

func (r *run) drive(ctx context.Context) error {
	log := slog.With("execution_id", r.exec.ID, "pr", r.exec.Request.String())

	for !r.exec.Status.IsTerminal() {
		if ctx.Err() != nil {
			log.Info("execution suspended", "state", r.exec.State)
			return nil
		}

		var (
			stop bool
			err  error
		)
		switch r.exec.State {
		case model.StateInit:
			var ok bool
			ok, err = r.commit(ctx, func() error { return r.exec.Advance(model.StateFetching) })
			stop = !ok
		case model.StateFetching:
			stop, err = r.fetch(ctx)
		case model.StateReviewing:
			stop, err = r.review(ctx)
		case model.StatePosting:
			stop, err = r.post(ctx)
		default:
			return fmt.Errorf("execution %s: RUNNING in unexpected state %s", r.exec.ID, r.exec.State)
		}
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
		log.Debug("execution advanced", "state", r.exec.State, "version", r.exec.Version)
	}

	return nil
}

func (r *run) openClients(ctx context.Context) error {
	if r.clients != nil {
		return nil
	}
	clients, err := r.o.clients.Open(ctx)
	if err != nil {
		return err
	}
	r.clients = clients
	return nil
}

func (r *run) fetch(ctx context.Context) (bool, error) {
	stepCtx, cancel := context.WithTimeout(ctx, r.o.cfg.StepTimeout)
	defer cancel()

	err := r.openClients(stepCtx)
	var changes []model.FileChange
	if err == nil {
		req := r.exec.Request
		changes, err = NewChangeFetcher(r.clients.GitHub).Fetch(stepCtx, req.Owner, req.Repository, req.PullRequestNumber)
	}
	if stop, failErr := r.stepFailed(ctx, stepCtx, err); stop {
		return true, failErr
	}

	ok, err := r.commit(ctx, func() error {
		r.exec.Changes = changes
		return r.exec.Advance(model.StateReviewing)
	})
	return !ok, err
}

func (r *run) review(ctx context.Context) (bool, error) {
	if err := r.openClients(ctx); err != nil {
		return r.stepFailed(ctx, ctx, err)
	}

	stepCtx, cancel := context.WithTimeout(ctx, r.o.cfg.StepTimeout)
	defer cancel()

	changes := r.exec.Changes
	if changes == nil {
		changes = []model.FileChange{}
	}
	reviews := NewReviewGenerator(r.clients.Inference, r.o.cfg.Review).Generate(stepCtx, changes)
	if stop, failErr := r.stepFailed(ctx, stepCtx, nil); stop {
		return true, failErr
	}

	ok, err := r.commit(ctx, func() error {
		r.exec.Reviews = reviews
		return r.exec.Advance(model.StatePosting)
	})
	return !ok, err
}

func (r *run) post(ctx context.Context) (bool, error) {
	if err := r.openClients(ctx); err != nil {
		return r.stepFailed(ctx, ctx, err)
	}

	stepCtx, cancel := context.WithTimeout(ctx, r.o.cfg.StepTimeout)
	defer cancel()

	req := r.exec.Request
	outcome, err := NewCommentPublisher(r.clients.GitHub).Publish(stepCtx, req.Owner, req.Repository, req.PullRequestNumber, r.exec.Reviews)
	if stop, failErr := r.stepFailed(ctx, stepCtx, err); stop {
		return true, failErr
	}

	ok, err := r.commit(ctx, func() error { return r.exec.Complete(outcome, r.o.now()) })
	if err != nil || !ok {
		return true, err
	}

	slog.Info("review execution succeeded",
		"execution_id", r.exec.ID,
		"successful_posts", outcome.SuccessfulPosts,
		"failed_posts", outcome.FailedPosts,
	)
	r.notify(ctx, outcome)
	return true, nil
}

// stepFailed decides what a finished step means for the execution. It reports
// stop=true when the run must end: the parent context was canceled (the
// execution stays RUNNING for a later resume), the step timed out, or the step
// returned an error.
func (r *run) stepFailed(ctx, stepCtx context.Context, err error) (bool, error) {
	if ctx.Err() != nil {
		slog.Info("execution interrupted, will resume", "execution_id", r.exec.ID, "state", r.exec.State)
		return true, nil
	}

	if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		cause := fmt.Sprintf("step %s exceeded %s", r.exec.State, r.o.cfg.StepTimeout)
		_, cpErr := r.commit(ctx, func() error {
			return r.exec.Fail(model.ExecutionTimedOut, model.ErrorNameTimeout, cause, r.o.now())
		})
		slog.Warn("review execution timed out", "execution_id", r.exec.ID, "cause", cause)
		return true, cpErr
	}

	if err == nil {
		return false, nil
	}

	kind := model.KindOf(err)
	_, cpErr := r.commit(ctx, func() error {
		return r.exec.Fail(model.ExecutionFailed, string(kind), err.Error(), r.o.now())
	})
	slog.Error("review execution failed",
		"execution_id", r.exec.ID,
		"state", r.exec.State,
		"kind", kind,
		"error", err,
	)
	return true, cpErr
}

// acquire checkpoints this runner's lease onto the record. It reports false
// when another runner claimed or changed the execution first.
func (r *run) acquire(ctx context.Context) (bool, error) {
	before := *r.exec
	r.stamp()

	err := r.o.store.Checkpoint(ctx, r.exec)
	if errors.Is(err, driven.ErrExecutionConflict) {
		slog.Debug("execution claimed by another runner", "execution_id", r.exec.ID)
		*r.exec = before
		return false, nil
	}
	if err != nil {
		*r.exec = before
		if ctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("claim execution %s: %w", r.exec.ID, err)
	}
	return true, nil
}

// yield hands back the lease of an interrupted run so the next sweep, here or
// in another process, resumes it without waiting for the lease to lapse.
func (r *run) yield(ctx context.Context) {
	if r.exec.Status.IsTerminal() || r.exec.LeaseOwner != r.o.owner {
		return
	}

	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	r.exec.ReleaseLease()
	r.exec.UpdatedAt = r.o.now()
	if err := r.o.store.Checkpoint(releaseCtx, r.exec); err != nil {
		slog.Debug("execution lease not released", "execution_id", r.exec.ID, "error", err)
	}
}

// stamp sets the update time and renews the lease, or clears it once the
// execution is terminal.
func (r *run) stamp() {
	now := r.o.now()
	r.exec.UpdatedAt = now
	if r.exec.Status.IsTerminal() {
		r.exec.ReleaseLease()
		return
	}
	r.exec.Claim(r.o.owner, now.Add(r.o.leaseTTL()))
}

// commit applies mutate and checkpoints the record, reporting whether the
// write landed. Losing the version race is not an error: another writer (an
// abort or another process) owns the record now and the run must stop.
func (r *run) commit(ctx context.Context, mutate func() error) (bool, error) {
	before := *r.exec
	if err := mutate(); err != nil {
		*r.exec = before
		return false, fmt.Errorf("execution %s: %w", r.exec.ID, err)
	}
	r.stamp()

	err := r.o.store.Checkpoint(ctx, r.exec)
	if errors.Is(err, driven.ErrExecutionConflict) {
		slog.Warn("execution changed concurrently, discarding step result",
			"execution_id", r.exec.ID,
			"state", r.exec.State,
		)
		*r.exec = before
		return false, nil
	}
	if err != nil {
		*r.exec = before
		return false, fmt.Errorf("checkpoint execution %s: %w", r.exec.ID, err)
	}

	return true, nil
}

func (r *run) notify(ctx context.Context, outcome model.PostingOutcome) {
	if r.o.notifier == nil {
		return
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	if err := r.o.notifier.NotifyPosted(notifyCtx, r.exec.Request, outcome); err != nil {
		slog.Warn("completion notification failed", "execution_id", r.exec.ID, "error", err)
	}
}
