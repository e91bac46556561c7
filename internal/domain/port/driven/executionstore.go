// Package driven defines secondary port interfaces for external adapters.
package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/prreviewer/internal/domain/model"
)

// ErrExecutionConflict is returned by Checkpoint when the stored record no
// longer matches the caller's version or has already reached a terminal status.
var ErrExecutionConflict = errors.New("execution record changed concurrently")

// ExecutionStore defines the driven port for durable execution records.
// Implementations must allow concurrent Create and Checkpoint calls for
// different executions.
type ExecutionStore interface {
	// Create inserts a new record with version 1. exec.Version is updated.
	Create(ctx context.Context, exec *model.Execution) error

	// Get returns the record, or (nil, nil) if id is unknown.
	Get(ctx context.Context, id string) (*model.Execution, error)

	// Checkpoint writes exec if the stored version equals exec.Version and the
	// stored status is still RUNNING, then increments exec.Version. Otherwise
	// it returns ErrExecutionConflict and leaves the record untouched.
	Checkpoint(ctx context.Context, exec *model.Execution) error

	// ListByStatus returns records with the given status, oldest first.
	ListByStatus(ctx context.Context, status model.ExecutionStatus) ([]model.Execution, error)

	// ListRecent returns up to limit records, newest first.
	ListRecent(ctx context.Context, limit int) ([]model.Execution, error)
}
