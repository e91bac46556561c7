package model

import (
	"fmt"
	"time"
)

// ExecutionStatus is the externally reported status of an execution.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionSucceeded ExecutionStatus = "SUCCEEDED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionTimedOut  ExecutionStatus = "TIMED_OUT"
	ExecutionAborted   ExecutionStatus = "ABORTED"
)

// IsTerminal reports whether the status can no longer change.
func (s ExecutionStatus) IsTerminal() bool {
	return s != ExecutionRunning
}

// WorkflowState is the position of an execution in the review pipeline.
type WorkflowState string

const (
	StateInit      WorkflowState = "INIT"
	StateFetching  WorkflowState = "FETCHING"
	StateReviewing WorkflowState = "REVIEWING"
	StatePosting   WorkflowState = "POSTING"
	StateDone      WorkflowState = "DONE"
	StateFailed    WorkflowState = "FAILED"
)

// transitions lists the forward moves of the pipeline. FAILED is reachable
// from every non-terminal state; INIT -> FAILED only happens on abort.
var transitions = map[WorkflowState][]WorkflowState{
	StateInit:      {StateFetching, StateFailed},
	StateFetching:  {StateReviewing, StateFailed},
	StateReviewing: {StatePosting, StateFailed},
	StatePosting:   {StateDone, StateFailed},
}

// CanTransition reports whether the pipeline may move from one state to another.
func CanTransition(from, to WorkflowState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Error names recorded on failed executions that are not classified errors.
const (
	ErrorNameTimeout = "TimeoutError"
	ErrorNameAborted = "AbortedError"
)

// Execution is the durable record of one workflow run. It is owned by the
// orchestrator; Version guards against lost updates between writers.
type Execution struct {
	ID      string
	Request ReviewRequest
	Status  ExecutionStatus
	State   WorkflowState

	// Checkpointed step outputs. Nil until the producing step has committed.
	Changes []FileChange
	Reviews []ReviewResult
	Outcome *PostingOutcome

	// Error is the classified error name and Cause its message; both empty
	// unless the execution failed.
	Error string
	Cause string

	StartTime time.Time
	EndTime   *time.Time
	UpdatedAt time.Time
	Version   int

	// LeaseOwner is the runner driving the execution and LeaseUntil the time
	// its claim lapses. A runner renews the lease on every checkpoint.
	LeaseOwner string
	LeaseUntil *time.Time
}

// NewExecution returns a RUNNING execution in INIT for req.
func NewExecution(id string, req ReviewRequest, now time.Time) Execution {
	return Execution{
		ID:        id,
		Request:   req,
		Status:    ExecutionRunning,
		State:     StateInit,
		StartTime: now,
		UpdatedAt: now,
	}
}

// Claim records owner as the runner of the execution until the given time.
func (e *Execution) Claim(owner string, until time.Time) {
	e.LeaseOwner = owner
	e.LeaseUntil = &until
}

// ReleaseLease clears the runner claim.
func (e *Execution) ReleaseLease() {
	e.LeaseOwner = ""
	e.LeaseUntil = nil
}

// LeasedByOther reports whether a runner other than owner holds a lease that
// has not lapsed at now.
func (e Execution) LeasedByOther(owner string, now time.Time) bool {
	if e.LeaseOwner == "" || e.LeaseOwner == owner || e.LeaseUntil == nil {
		return false
	}
	return now.Before(*e.LeaseUntil)
}

// Advance moves a running execution to the next pipeline state.
func (e *Execution) Advance(to WorkflowState) error {
	if e.Status.IsTerminal() {
		return fmt.Errorf("execution %s is %s: no transition to %s", e.ID, e.Status, to)
	}
	if to == StateDone || to == StateFailed {
		return fmt.Errorf("execution %s: terminal state %s must be reached through Complete or Fail", e.ID, to)
	}
	if !CanTransition(e.State, to) {
		return fmt.Errorf("execution %s: invalid transition %s -> %s", e.ID, e.State, to)
	}
	e.State = to
	return nil
}

// Complete records the posting outcome and marks the execution SUCCEEDED.
func (e *Execution) Complete(outcome PostingOutcome, now time.Time) error {
	if e.Status.IsTerminal() {
		return fmt.Errorf("execution %s is already %s", e.ID, e.Status)
	}
	if !CanTransition(e.State, StateDone) {
		return fmt.Errorf("execution %s: invalid transition %s -> %s", e.ID, e.State, StateDone)
	}
	e.State = StateDone
	e.Status = ExecutionSucceeded
	e.Outcome = &outcome
	e.EndTime = &now
	return nil
}

// Fail moves the execution to the FAILED state with a terminal failure status.
func (e *Execution) Fail(status ExecutionStatus, errName, cause string, now time.Time) error {
	if e.Status.IsTerminal() {
		return fmt.Errorf("execution %s is already %s", e.ID, e.Status)
	}
	if status == ExecutionRunning || status == ExecutionSucceeded {
		return fmt.Errorf("execution %s: %s is not a failure status", e.ID, status)
	}
	if !CanTransition(e.State, StateFailed) {
		return fmt.Errorf("execution %s: invalid transition %s -> %s", e.ID, e.State, StateFailed)
	}
	e.State = StateFailed
	e.Status = status
	e.Error = errName
	e.Cause = cause
	e.EndTime = &now
	return nil
}

// ExecutionOutput is the terminal payload of a SUCCEEDED execution.
type ExecutionOutput struct {
	Repository        string         `json:"repository"`
	Owner             string         `json:"owner"`
	PullRequestNumber int            `json:"pull_request_number"`
	Result            PostingOutcome `json:"result"`
	Reviews           []ReviewResult `json:"reviews"`
}

// Output returns the terminal payload, or nil unless the execution succeeded.
func (e Execution) Output() *ExecutionOutput {
	if e.Status != ExecutionSucceeded || e.Outcome == nil {
		return nil
	}
	reviews := e.Reviews
	if reviews == nil {
		reviews = []ReviewResult{}
	}
	return &ExecutionOutput{
		Repository:        e.Request.Repository,
		Owner:             e.Request.Owner,
		PullRequestNumber: e.Request.PullRequestNumber,
		Result:            *e.Outcome,
		Reviews:           reviews,
	}
}
