package application

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ericfisherdev/prreviewer/internal/domain/model"
	"github.com/ericfisherdev/prreviewer/internal/domain/port/driven"
)

// --- GitHub ---

type mockGitHubClient struct {
	mu sync.Mutex

	files    []model.FileChange
	fetchErr error
	getErr   error
	// postErrFor fails CreateReview for comment bodies mentioning the file.
	postErrFor map[string]error
	// prGate makes GetPullRequest wait until it is closed.
	prGate chan struct{}

	prCalls     atomic.Int32
	prActive    atomic.Int32
	prMaxActive atomic.Int32

	fetchCalls int
	posted     []string
	events     []string
}

func (m *mockGitHubClient) FetchChanges(_ context.Context, _ string, _ int) ([]model.FileChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCalls++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return m.files, nil
}

func (m *mockGitHubClient) GetPullRequest(ctx context.Context, repoFullName string, prNumber int) (*model.PullRequest, error) {
	m.prCalls.Add(1)
	n := m.prActive.Add(1)
	defer m.prActive.Add(-1)
	for {
		seen := m.prMaxActive.Load()
		if n <= seen || m.prMaxActive.CompareAndSwap(seen, n) {
			break
		}
	}

	if m.prGate != nil {
		select {
		case <-m.prGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.getErr != nil {
		return nil, m.getErr
	}
	return &model.PullRequest{Number: prNumber, RepoFullName: repoFullName, State: "open"}, nil
}

func (m *mockGitHubClient) CreateReview(_ context.Context, _ string, _ int, event string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for file, err := range m.postErrFor {
		if strings.Contains(body, file) {
			return err
		}
	}
	m.posted = append(m.posted, body)
	m.events = append(m.events, event)
	return nil
}

func (m *mockGitHubClient) postedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posted)
}

// --- Inference ---

type mockInference struct {
	model string
	// textFor returns the completion text for a prompt; nil echoes a default review.
	textFor func(prompt string) (string, error)
	// block makes Complete wait for context cancellation.
	block bool

	calls   atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32
	gate    chan struct{}
}

func (m *mockInference) Model() string { return m.model }

func (m *mockInference) Complete(ctx context.Context, req driven.CompletionRequest) (*driven.Completion, error) {
	m.calls.Add(1)
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		seen := m.maxSeen.Load()
		if n <= seen || m.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	text := "Looks good overall."
	if m.textFor != nil {
		var err error
		text, err = m.textFor(req.Prompt)
		if err != nil {
			return nil, err
		}
	}
	return &driven.Completion{Text: text, Model: m.model, InputTokens: 10, OutputTokens: 5}, nil
}

// --- Execution store ---

type memStore struct {
	mu    sync.Mutex
	execs map[string]model.Execution
	order []string

	checkpointErr error
	checkpoints   int
	// onCheckpoint runs before a checkpoint is applied, under no lock.
	onCheckpoint func(exec *model.Execution)
}

func newMemStore() *memStore {
	return &memStore{execs: make(map[string]model.Execution)}
}

func (s *memStore) Create(_ context.Context, exec *model.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.execs[exec.ID]; ok {
		return errors.New("duplicate execution")
	}
	exec.Version = 1
	s.execs[exec.ID] = *exec
	s.order = append(s.order, exec.ID)
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*model.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.execs[id]
	if !ok {
		return nil, nil
	}
	return &exec, nil
}

func (s *memStore) Checkpoint(_ context.Context, exec *model.Execution) error {
	if s.onCheckpoint != nil {
		s.onCheckpoint(exec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkpointErr != nil {
		return s.checkpointErr
	}
	stored, ok := s.execs[exec.ID]
	if !ok || stored.Version != exec.Version || stored.Status.IsTerminal() {
		return driven.ErrExecutionConflict
	}
	exec.Version++
	s.execs[exec.ID] = *exec
	s.checkpoints++
	return nil
}

func (s *memStore) ListByStatus(_ context.Context, status model.ExecutionStatus) ([]model.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Execution{}
	for _, id := range s.order {
		if exec := s.execs[id]; exec.Status == status {
			out = append(out, exec)
		}
	}
	return out, nil
}

func (s *memStore) ListRecent(_ context.Context, limit int) ([]model.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Execution{}
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.execs[s.order[i]])
	}
	return out, nil
}

func (s *memStore) put(exec model.Execution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exec.Version == 0 {
		exec.Version = 1
	}
	s.execs[exec.ID] = exec
	s.order = append(s.order, exec.ID)
}

func (s *memStore) load(id string) model.Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.execs[id]
}

// --- Secrets, clients, notifier ---

type mockSecrets struct {
	mu     sync.Mutex
	values map[string]string
	err    error
}

func (m *mockSecrets) Secret(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.values[name]
	if !ok || v == "" {
		return "", driven.ErrSecretNotFound
	}
	return v, nil
}

func (m *mockSecrets) set(name, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = value
}

type staticOpener struct {
	clients *Clients
	err     error
	opens   atomic.Int32
}

func (s *staticOpener) Open(_ context.Context) (*Clients, error) {
	s.opens.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.clients, nil
}

type mockNotifier struct {
	mu       sync.Mutex
	err      error
	outcomes []model.PostingOutcome
}

func (m *mockNotifier) NotifyPosted(_ context.Context, _ model.ReviewRequest, outcome model.PostingOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
	return m.err
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outcomes)
}
