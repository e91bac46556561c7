package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ericfisherdev/prreviewer/internal/adapter/driving/step"
	"github.com/ericfisherdev/prreviewer/internal/application"
	"github.com/ericfisherdev/prreviewer/internal/domain/model"
)

// maxBodyBytes bounds request bodies. Step events carry full diffs.
const maxBodyBytes = 8 << 20

// stepWriteGrace is the time left to write a step response after the step
// itself has timed out.
const stepWriteGrace = 30 * time.Second

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	gateway     *application.Gateway
	steps       *step.Dispatcher
	stepTimeout time.Duration
	logger      *slog.Logger
}

// NewHandler creates a Handler. steps may be nil, which disables the step
// invocation endpoint. stepTimeout bounds one step invocation; zero leaves it
// unbounded.
func NewHandler(gateway *application.Gateway, steps *step.Dispatcher, stepTimeout time.Duration, logger *slog.Logger) *Handler {
	return &Handler{
		gateway:     gateway,
		steps:       steps,
		stepTimeout: stepTimeout,
		logger:      logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with auth, logging, and recovery middleware. An empty apiKey disables auth.
func NewServeMux(h *Handler, logger *slog.Logger, apiKey string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/review", h.StartReview)
	mux.HandleFunc("POST /review", h.StartReview)
	mux.HandleFunc("GET /api/v1/status/{id}", h.GetStatus)
	mux.HandleFunc("GET /status/{id}", h.GetStatus)
	mux.HandleFunc("GET /api/v1/executions", h.ListExecutions)
	mux.HandleFunc("GET /api/v1/executions/{id}/report", h.Report)
	mux.HandleFunc("POST /api/v1/executions/{id}/abort", h.Abort)
	mux.HandleFunc("GET /api/v1/health", h.Health)
	if h.steps != nil {
		mux.HandleFunc("POST /api/v1/steps", h.InvokeStep)
	}

	// Outermost first: request id, access log, auth, panic recovery.
	var wrapped http.Handler = mux
	wrapped = recoveryMiddleware(logger, wrapped)
	wrapped = apiKeyMiddleware(apiKey, wrapped)
	wrapped = loggingMiddleware(logger, wrapped)
	return requestIDMiddleware(wrapped)
}

// StartReview starts a review execution for the posted pull request.
func (h *Handler) StartReview(w http.ResponseWriter, r *http.Request) {
	var req model.ReviewRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		if model.IsKind(err, model.KindValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.gateway.StartReview(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, r, "failed to start review", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetStatus reports an execution's status. It never changes state.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.gateway.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, r, "failed to get status", err)
		return
	}

	writeJSON(w, http.StatusOK, toStatusResponse(report))
}

// ListExecutions returns recent executions, newest first.
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 500")
			return
		}
		limit = n
	}

	reports, err := h.gateway.ListExecutions(r.Context(), limit)
	if err != nil {
		h.writeDomainError(w, r, "failed to list executions", err)
		return
	}

	resp := make([]StatusResponse, 0, len(reports))
	for _, report := range reports {
		resp = append(resp, toStatusResponse(report))
	}

	writeJSON(w, http.StatusOK, resp)
}

// Abort stops a running execution.
func (h *Handler) Abort(w http.ResponseWriter, r *http.Request) {
	report, err := h.gateway.Abort(r.Context(), r.PathValue("id"))
	if errors.Is(err, application.ErrAlreadyTerminal) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.writeDomainError(w, r, "failed to abort execution", err)
		return
	}

	writeJSON(w, http.StatusOK, toStatusResponse(report))
}

// InvokeStep runs one pipeline step. The step outcome travels in the
// response body; the HTTP status is 200 whenever the event was dispatched.
// Steps run synchronously, so the server's write timeout is replaced by one
// derived from the step timeout.
func (h *Handler) InvokeStep(w http.ResponseWriter, r *http.Request) {
	event, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	var writeDeadline time.Time
	if h.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.stepTimeout)
		defer cancel()
		writeDeadline = time.Now().Add(h.stepTimeout + stepWriteGrace)
	}
	if err := http.NewResponseController(w).SetWriteDeadline(writeDeadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warn("extend step write deadline", "request_id", requestID(r.Context()), "error", err)
	}

	writeJSON(w, http.StatusOK, h.steps.Dispatch(ctx, event))
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// writeDomainError maps a classified error to a status code. Internal errors
// are logged and their detail withheld from the client.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := step.StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, "request_id", requestID(r.Context()), "error", err)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}
