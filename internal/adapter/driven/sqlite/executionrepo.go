package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/prreviewer/internal/domain/model"
	"github.com/ericfisherdev/prreviewer/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ExecutionStore = (*ExecutionRepo)(nil)

// ExecutionRepo is the SQLite implementation of the ExecutionStore port interface.
type ExecutionRepo struct {
	db *DB
}

// NewExecutionRepo creates a new ExecutionRepo backed by the given DB.
func NewExecutionRepo(db *DB) *ExecutionRepo {
	return &ExecutionRepo{db: db}
}

const executionColumns = `id, request, status, state, changes, reviews, outcome,
	error, cause, start_time, end_time, updated_at, version, lease_owner, lease_until`

// Create inserts a new execution record at version 1.
func (r *ExecutionRepo) Create(ctx context.Context, exec *model.Execution) error {
	row, err := encodeExecution(exec)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO executions (
			id, repository, owner, pull_request_number, request, status, state,
			changes, reviews, outcome, error, cause, start_time, end_time, updated_at, version,
			lease_owner, lease_until
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`

	_, err = r.db.Writer.ExecContext(ctx, query,
		exec.ID, exec.Request.Repository, exec.Request.Owner, exec.Request.PullRequestNumber,
		row.request, string(exec.Status), string(exec.State),
		row.changes, row.reviews, row.outcome, exec.Error, exec.Cause,
		formatTime(exec.StartTime), row.endTime, formatTime(exec.UpdatedAt),
		exec.LeaseOwner, row.leaseUntil,
	)
	if err != nil {
		return fmt.Errorf("insert execution %s: %w", exec.ID, err)
	}

	exec.Version = 1
	return nil
}

// Get returns the execution with the given id, or (nil, nil) if it does not exist.
func (r *ExecutionRepo) Get(ctx context.Context, id string) (*model.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = ?`

	exec, err := scanExecution(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get execution %s: %w", id, err)
	}
	return exec, nil
}

// Checkpoint writes exec, lease included, only if the stored version matches
// and the stored status is still RUNNING. On success exec.Version is
// incremented.
func (r *ExecutionRepo) Checkpoint(ctx context.Context, exec *model.Execution) error {
	row, err := encodeExecution(exec)
	if err != nil {
		return err
	}

	const query = `
		UPDATE executions SET
			status = ?, state = ?, changes = ?, reviews = ?, outcome = ?,
			error = ?, cause = ?, end_time = ?, updated_at = ?,
			lease_owner = ?, lease_until = ?, version = version + 1
		WHERE id = ? AND version = ? AND status = 'RUNNING'`

	result, err := r.db.Writer.ExecContext(ctx, query,
		string(exec.Status), string(exec.State), row.changes, row.reviews, row.outcome,
		exec.Error, exec.Cause, row.endTime, formatTime(exec.UpdatedAt),
		exec.LeaseOwner, row.leaseUntil,
		exec.ID, exec.Version,
	)
	if err != nil {
		return fmt.Errorf("checkpoint execution %s: %w", exec.ID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("checkpoint execution %s at version %d: %w", exec.ID, exec.Version, driven.ErrExecutionConflict)
	}

	exec.Version++
	return nil
}

// ListByStatus returns executions with the given status, oldest first.
func (r *ExecutionRepo) ListByStatus(ctx context.Context, status model.ExecutionStatus) ([]model.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE status = ? ORDER BY start_time ASC, id ASC`
	return r.queryExecutions(ctx, query, string(status))
}

// ListRecent returns up to limit executions, newest first.
func (r *ExecutionRepo) ListRecent(ctx context.Context, limit int) ([]model.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions ORDER BY start_time DESC, id DESC LIMIT ?`
	return r.queryExecutions(ctx, query, limit)
}

func (r *ExecutionRepo) queryExecutions(ctx context.Context, query string, args ...any) ([]model.Execution, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	execs := []model.Execution{}
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		execs = append(execs, *exec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}

	return execs, nil
}

// executionRow holds the JSON and nullable columns of an execution.
type executionRow struct {
	request string
	changes sql.NullString
	reviews sql.NullString
	outcome sql.NullString
	endTime sql.NullString

	leaseUntil sql.NullString
}

func encodeExecution(exec *model.Execution) (executionRow, error) {
	var row executionRow

	request, err := json.Marshal(exec.Request)
	if err != nil {
		return row, fmt.Errorf("marshal request: %w", err)
	}
	row.request = string(request)

	if row.changes, err = nullJSON(exec.Changes, exec.Changes != nil); err != nil {
		return row, fmt.Errorf("marshal changes: %w", err)
	}
	if row.reviews, err = nullJSON(exec.Reviews, exec.Reviews != nil); err != nil {
		return row, fmt.Errorf("marshal reviews: %w", err)
	}
	if row.outcome, err = nullJSON(exec.Outcome, exec.Outcome != nil); err != nil {
		return row, fmt.Errorf("marshal outcome: %w", err)
	}
	if exec.EndTime != nil {
		row.endTime = sql.NullString{String: formatTime(*exec.EndTime), Valid: true}
	}
	if exec.LeaseUntil != nil {
		row.leaseUntil = sql.NullString{String: formatTime(*exec.LeaseUntil), Valid: true}
	}

	return row, nil
}

func nullJSON(v any, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func scanExecution(s scanner) (*model.Execution, error) {
	var exec model.Execution
	var row executionRow
	var status, state string
	var startTime, updatedAt string

	err := s.Scan(
		&exec.ID, &row.request, &status, &state, &row.changes, &row.reviews, &row.outcome,
		&exec.Error, &exec.Cause, &startTime, &row.endTime, &updatedAt, &exec.Version,
		&exec.LeaseOwner, &row.leaseUntil,
	)
	if err != nil {
		return nil, err
	}

	exec.Status = model.ExecutionStatus(status)
	exec.State = model.WorkflowState(state)

	if err := json.Unmarshal([]byte(row.request), &exec.Request); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	if row.changes.Valid {
		if err := json.Unmarshal([]byte(row.changes.String), &exec.Changes); err != nil {
			return nil, fmt.Errorf("unmarshal changes: %w", err)
		}
		if exec.Changes == nil {
			exec.Changes = []model.FileChange{}
		}
	}
	if row.reviews.Valid {
		if err := json.Unmarshal([]byte(row.reviews.String), &exec.Reviews); err != nil {
			return nil, fmt.Errorf("unmarshal reviews: %w", err)
		}
		if exec.Reviews == nil {
			exec.Reviews = []model.ReviewResult{}
		}
	}
	if row.outcome.Valid {
		var outcome model.PostingOutcome
		if err := json.Unmarshal([]byte(row.outcome.String), &outcome); err != nil {
			return nil, fmt.Errorf("unmarshal outcome: %w", err)
		}
		exec.Outcome = &outcome
	}

	exec.StartTime, err = parseTime(startTime)
	if err != nil {
		return nil, fmt.Errorf("parse start_time: %w", err)
	}
	exec.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if row.endTime.Valid {
		end, err := parseTime(row.endTime.String)
		if err != nil {
			return nil, fmt.Errorf("parse end_time: %w", err)
		}
		exec.EndTime = &end
	}
	if row.leaseUntil.Valid {
		until, err := parseTime(row.leaseUntil.String)
		if err != nil {
			return nil, fmt.Errorf("parse lease_until: %w", err)
		}
		exec.LeaseUntil = &until
	}

	return &exec, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// formatTime stores times as UTC RFC 3339 with nanoseconds so they sort
// lexically in ORDER BY clauses.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

// parseTime parses a time string from SQLite. It handles both the fixed-width
// format written by formatTime and SQLite's CURRENT_TIMESTAMP format.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
