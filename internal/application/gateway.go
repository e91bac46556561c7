package application

import (
	"context"
	"time"

	"github.com/ericfisherdev/prreviewer/internal/domain/model"
)

// StartedStatus is the status reported for an accepted review request.
const StartedStatus = "started"

// StartResponse acknowledges a review request.
type StartResponse struct {
	ExecutionARN string `json:"execution_arn"`
	Status       string `json:"status"`
}

// StatusReport is the pollable view of an execution. Output is an empty
// object until the execution succeeds; StopDate is nil while it runs.
type StatusReport struct {
	ExecutionARN string                `json:"execution_arn"`
	Status       model.ExecutionStatus `json:"status"`
	State        model.WorkflowState   `json:"state"`
	Output       any                   `json:"output"`
	StartDate    time.Time             `json:"startDate"`
	StopDate     *time.Time            `json:"stopDate"`
	Error        string                `json:"error,omitempty"`
	Cause        string                `json:"cause,omitempty"`
}

// NewStatusReport builds the report for exec.
func NewStatusReport(exec *model.Execution) StatusReport {
	var output any = struct{}{}
	if out := exec.Output(); out != nil {
		output = out
	}
	return StatusReport{
		ExecutionARN: exec.ID,
		Status:       exec.Status,
		State:        exec.State,
		Output:       output,
		StartDate:    exec.StartTime,
		StopDate:     exec.EndTime,
		Error:        exec.Error,
		Cause:        exec.Cause,
	}
}

// Gateway is the request boundary shared by every transport. It validates
// and delegates; it holds no workflow logic of its own.
type Gateway struct {
	orch *Orchestrator
}

// NewGateway creates a Gateway over orch.
func NewGateway(orch *Orchestrator) *Gateway {
	return &Gateway{orch: orch}
}

// StartReview starts an execution for req. Validation failures create nothing.
func (g *Gateway) StartReview(ctx context.Context, req model.ReviewRequest) (StartResponse, error) {
	exec, err := g.orch.Start(ctx, req)
	if err != nil {
		return StartResponse{}, err
	}
	return StartResponse{ExecutionARN: exec.ID, Status: StartedStatus}, nil
}

// GetStatus reports the execution's current state. It has no side effects.
func (g *Gateway) GetStatus(ctx context.Context, id string) (StatusReport, error) {
	if id == "" {
		return StatusReport{}, model.Validationf("execution id is required")
	}
	exec, err := g.orch.Describe(ctx, id)
	if err != nil {
		return StatusReport{}, err
	}
	return NewStatusReport(exec), nil
}

// Execution returns the full record, including per-file reviews.
func (g *Gateway) Execution(ctx context.Context, id string) (*model.Execution, error) {
	return g.orch.Describe(ctx, id)
}

// ListExecutions returns recent executions, newest first.
func (g *Gateway) ListExecutions(ctx context.Context, limit int) ([]StatusReport, error) {
	execs, err := g.orch.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	reports := make([]StatusReport, 0, len(execs))
	for i := range execs {
		reports = append(reports, NewStatusReport(&execs[i]))
	}
	return reports, nil
}

// Abort stops a running execution.
func (g *Gateway) Abort(ctx context.Context, id string) (StatusReport, error) {
	exec, err := g.orch.Abort(ctx, id)
	if err != nil {
		return StatusReport{}, err
	}
	return NewStatusReport(exec), nil
}
