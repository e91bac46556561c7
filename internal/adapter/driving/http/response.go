package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/prreviewer/internal/application"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is the JSON representation of an execution's status.
// Dates are RFC 3339; StopDate is null while the execution runs.
type StatusResponse struct {
	ExecutionARN string  `json:"execution_arn"`
	Status       string  `json:"status"`
	State        string  `json:"state"`
	Output       any     `json:"output"`
	StartDate    string  `json:"startDate"`
	StopDate     *string `json:"stopDate"`
	Error        string  `json:"error,omitempty"`
	Cause        string  `json:"cause,omitempty"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// toStatusResponse converts a status report to its JSON response representation.
func toStatusResponse(report application.StatusReport) StatusResponse {
	resp := StatusResponse{
		ExecutionARN: report.ExecutionARN,
		Status:       string(report.Status),
		State:        string(report.State),
		Output:       report.Output,
		StartDate:    report.StartDate.UTC().Format(time.RFC3339),
		Error:        report.Error,
		Cause:        report.Cause,
	}
	if report.StopDate != nil {
		stop := report.StopDate.UTC().Format(time.RFC3339)
		resp.StopDate = &stop
	}
	return resp
}
