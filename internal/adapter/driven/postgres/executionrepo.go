package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ericfisherdev/prreviewer/internal/domain/model"
	"github.com/ericfisherdev/prreviewer/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ExecutionStore = (*ExecutionRepo)(nil)

// ErrDuplicateExecution is returned by Create when the id is already taken.
var ErrDuplicateExecution = errors.New("execution already exists")

// ExecutionRepo is the PostgreSQL implementation of the ExecutionStore port.
type ExecutionRepo struct {
	pool *pgxpool.Pool
}

// NewExecutionRepo creates a new ExecutionRepo backed by the given pool.
func NewExecutionRepo(pool *pgxpool.Pool) *ExecutionRepo {
	return &ExecutionRepo{pool: pool}
}

const executionColumns = `id, request, status, state, changes, reviews, outcome,
	error, cause, start_time, end_time, updated_at, version, lease_owner, lease_until`

// Create inserts a new execution record at version 1. A reused id yields
// ErrDuplicateExecution.
func (r *ExecutionRepo) Create(ctx context.Context, exec *model.Execution) error {
	row, err := encodeExecution(exec)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO executions (
			id, repository, owner, pull_request_number, request, status, state,
			changes, reviews, outcome, error, cause, start_time, end_time, updated_at, version,
			lease_owner, lease_until
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,1,$16,$17)`,
		exec.ID, exec.Request.Repository, exec.Request.Owner, exec.Request.PullRequestNumber,
		row.request, string(exec.Status), string(exec.State),
		row.changes, row.reviews, row.outcome, exec.Error, exec.Cause,
		exec.StartTime, exec.EndTime, exec.UpdatedAt,
		exec.LeaseOwner, exec.LeaseUntil,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert execution %s: %w", exec.ID, ErrDuplicateExecution)
		}
		return fmt.Errorf("insert execution %s: %w", exec.ID, err)
	}

	exec.Version = 1
	return nil
}

// Get returns the execution with the given id, or (nil, nil) if it does not exist.
func (r *ExecutionRepo) Get(ctx context.Context, id string) (*model.Execution, error) {
	exec, err := scanExecution(r.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get execution %s: %w", id, err)
	}
	return exec, nil
}

// Checkpoint is a compare-and-swap on version that also writes the lease;
// terminal records never match.
func (r *ExecutionRepo) Checkpoint(ctx context.Context, exec *model.Execution) error {
	row, err := encodeExecution(exec)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE executions SET
			status=$1, state=$2, changes=$3, reviews=$4, outcome=$5,
			error=$6, cause=$7, end_time=$8, updated_at=$9,
			lease_owner=$10, lease_until=$11, version=version+1
		WHERE id=$12 AND version=$13 AND status='RUNNING'`,
		string(exec.Status), string(exec.State), row.changes, row.reviews, row.outcome,
		exec.Error, exec.Cause, exec.EndTime, exec.UpdatedAt,
		exec.LeaseOwner, exec.LeaseUntil,
		exec.ID, exec.Version,
	)
	if err != nil {
		return fmt.Errorf("checkpoint execution %s: %w", exec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("checkpoint execution %s at version %d: %w", exec.ID, exec.Version, driven.ErrExecutionConflict)
	}

	exec.Version++
	return nil
}

// ListByStatus returns executions with the given status, oldest first.
func (r *ExecutionRepo) ListByStatus(ctx context.Context, status model.ExecutionStatus) ([]model.Execution, error) {
	return r.queryExecutions(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE status=$1 ORDER BY start_time ASC, id ASC`, string(status))
}

// ListRecent returns up to limit executions, newest first.
func (r *ExecutionRepo) ListRecent(ctx context.Context, limit int) ([]model.Execution, error) {
	return r.queryExecutions(ctx,
		`SELECT `+executionColumns+` FROM executions ORDER BY start_time DESC, id DESC LIMIT $1`, limit)
}

func (r *ExecutionRepo) queryExecutions(ctx context.Context, query string, args ...any) ([]model.Execution, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	out := []model.Execution{}
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, *exec)
	}
	return out, rows.Err()
}

// executionRow holds the JSONB columns; nil slices are written as NULL.
type executionRow struct {
	request []byte
	changes []byte
	reviews []byte
	outcome []byte
}

func encodeExecution(exec *model.Execution) (executionRow, error) {
	var row executionRow
	var err error

	if row.request, err = json.Marshal(exec.Request); err != nil {
		return row, fmt.Errorf("marshal request: %w", err)
	}
	if exec.Changes != nil {
		if row.changes, err = json.Marshal(exec.Changes); err != nil {
			return row, fmt.Errorf("marshal changes: %w", err)
		}
	}
	if exec.Reviews != nil {
		if row.reviews, err = json.Marshal(exec.Reviews); err != nil {
			return row, fmt.Errorf("marshal reviews: %w", err)
		}
	}
	if exec.Outcome != nil {
		if row.outcome, err = json.Marshal(exec.Outcome); err != nil {
			return row, fmt.Errorf("marshal outcome: %w", err)
		}
	}
	return row, nil
}

func scanExecution(s pgx.Row) (*model.Execution, error) {
	var exec model.Execution
	var row executionRow
	var status, state string
	var endTime, leaseUntil *time.Time

	if err := s.Scan(
		&exec.ID, &row.request, &status, &state, &row.changes, &row.reviews, &row.outcome,
		&exec.Error, &exec.Cause, &exec.StartTime, &endTime, &exec.UpdatedAt, &exec.Version,
		&exec.LeaseOwner, &leaseUntil,
	); err != nil {
		return nil, err
	}

	exec.Status = model.ExecutionStatus(status)
	exec.State = model.WorkflowState(state)
	exec.EndTime = endTime
	exec.LeaseUntil = leaseUntil

	if err := json.Unmarshal(row.request, &exec.Request); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	if row.changes != nil {
		exec.Changes = []model.FileChange{}
		if err := json.Unmarshal(row.changes, &exec.Changes); err != nil {
			return nil, fmt.Errorf("unmarshal changes: %w", err)
		}
	}
	if row.reviews != nil {
		exec.Reviews = []model.ReviewResult{}
		if err := json.Unmarshal(row.reviews, &exec.Reviews); err != nil {
			return nil, fmt.Errorf("unmarshal reviews: %w", err)
		}
	}
	if row.outcome != nil {
		var outcome model.PostingOutcome
		if err := json.Unmarshal(row.outcome, &outcome); err != nil {
			return nil, fmt.Errorf("unmarshal outcome: %w", err)
		}
		exec.Outcome = &outcome
	}

	return &exec, nil
}

func isUniqueViolation(err error) bool {
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		return true
	}
	return false
}
