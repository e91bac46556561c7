// Package step exposes the three review pipeline steps behind a single
// action-tagged invocation contract, for workflow engines that sequence the
// steps themselves instead of using the built-in orchestrator.
package step

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ericfisherdev/prreviewer/internal/application"
	"github.com/ericfisherdev/prreviewer/internal/domain/model"
)

// Supported actions.
const (
	ActionFetchChanges   = "fetch_changes"
	ActionGenerateReview = "generate_review"
	ActionPostComments   = "post_comments"
)

// Response is the step result. Body is a JSON document carrying either the
// step's payload or an "error" string.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// ClientOpener opens the provider clients for one invocation.
type ClientOpener interface {
	Open(ctx context.Context) (*application.Clients, error)
}

// envelope carries the action tag and the typed step inputs. Request fields
// are decoded separately so pull_request_number gets the same leniency as the
// review endpoint.
type envelope struct {
	Action  string               `json:"action"`
	Changes []model.FileChange   `json:"changes"`
	Reviews []model.ReviewResult `json:"reviews"`
}

// Payloads written into Response.Body.
type (
	FetchResult struct {
		Changes []model.FileChange `json:"changes"`
	}
	ReviewResult struct {
		Reviews []model.ReviewResult `json:"reviews"`
	}
	PostResult struct {
		Result model.PostingOutcome `json:"result"`
	}
	errorBody struct {
		Error string `json:"error"`
	}
)

// Dispatcher routes step events to the application step services.
type Dispatcher struct {
	clients ClientOpener
	review  application.ReviewOptions
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(clients ClientOpener, review application.ReviewOptions, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{clients: clients, review: review, logger: logger}
}

// Dispatch runs the step named by the event's action. It never returns an
// error: every failure is expressed through the response status code.
func (d *Dispatcher) Dispatch(ctx context.Context, event []byte) (resp Response) {
	defer func() {
		if v := recover(); v != nil {
			d.logger.Error("step panicked", "panic", v)
			resp = errorResponse(http.StatusInternalServerError, "internal server error")
		}
	}()

	var env envelope
	if err := json.Unmarshal(event, &env); err != nil {
		return errorResponse(http.StatusBadRequest, fmt.Sprintf("invalid step event: %v", err))
	}
	if env.Action == "" {
		d.logger.Error("step event without action")
		return errorResponse(http.StatusBadRequest, "missing 'action' in event")
	}

	var req model.ReviewRequest
	if env.Action == ActionFetchChanges || env.Action == ActionPostComments {
		if err := json.Unmarshal(event, &req); err != nil {
			return d.fail(env.Action, err)
		}
	}

	switch env.Action {
	case ActionFetchChanges:
		if missing := missingRequestFields(req); len(missing) > 0 {
			return d.missing(env.Action, missing)
		}
		if err := req.Validate(); err != nil {
			return d.fail(env.Action, err)
		}
		return d.fetchChanges(ctx, req)

	case ActionGenerateReview:
		if len(env.Changes) == 0 {
			msg := "'changes' must be a non-empty list for generate_review"
			d.logger.Error(msg)
			return errorResponse(http.StatusBadRequest, msg)
		}
		return d.generateReview(ctx, env.Changes)

	case ActionPostComments:
		missing := missingRequestFields(req)
		if len(env.Reviews) == 0 {
			missing = append(missing, "reviews")
		}
		if len(missing) > 0 {
			return d.missing(env.Action, missing)
		}
		if err := req.Validate(); err != nil {
			return d.fail(env.Action, err)
		}
		return d.postComments(ctx, req, env.Reviews)

	default:
		msg := fmt.Sprintf("unsupported action: %s", env.Action)
		d.logger.Error(msg)
		return errorResponse(http.StatusBadRequest, msg)
	}
}

func (d *Dispatcher) fetchChanges(ctx context.Context, req model.ReviewRequest) Response {
	clients, err := d.clients.Open(ctx)
	if err != nil {
		return d.fail(ActionFetchChanges, err)
	}
	changes, err := application.NewChangeFetcher(clients.GitHub).Fetch(ctx, req.Owner, req.Repository, req.PullRequestNumber)
	if err != nil {
		return d.fail(ActionFetchChanges, err)
	}
	return okResponse(FetchResult{Changes: changes})
}

func (d *Dispatcher) generateReview(ctx context.Context, changes []model.FileChange) Response {
	clients, err := d.clients.Open(ctx)
	if err != nil {
		return d.fail(ActionGenerateReview, err)
	}
	reviews := application.NewReviewGenerator(clients.Inference, d.review).Generate(ctx, changes)
	return okResponse(ReviewResult{Reviews: reviews})
}

func (d *Dispatcher) postComments(ctx context.Context, req model.ReviewRequest, reviews []model.ReviewResult) Response {
	clients, err := d.clients.Open(ctx)
	if err != nil {
		return d.fail(ActionPostComments, err)
	}
	outcome, err := application.NewCommentPublisher(clients.GitHub).Publish(ctx, req.Owner, req.Repository, req.PullRequestNumber, reviews)
	if err != nil {
		return d.fail(ActionPostComments, err)
	}
	return okResponse(PostResult{Result: outcome})
}

func (d *Dispatcher) missing(action string, fields []string) Response {
	msg := fmt.Sprintf("missing parameters for %s: %v", action, fields)
	d.logger.Error(msg)
	return errorResponse(http.StatusBadRequest, msg)
}

// fail maps a classified error to its status code.
func (d *Dispatcher) fail(action string, err error) Response {
	status := StatusFor(err)
	d.logger.Error("step failed", "action", action, "status", status, "error", err)

	var classified *model.Error
	if status == http.StatusInternalServerError && !errors.As(err, &classified) {
		return errorResponse(status, "internal server error")
	}
	return errorResponse(status, err.Error())
}

// StatusFor returns the status code for an error kind.
func StatusFor(err error) int {
	switch model.KindOf(err) {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func missingRequestFields(req model.ReviewRequest) []string {
	var missing []string
	if req.Repository == "" {
		missing = append(missing, "repository")
	}
	if req.PullRequestNumber <= 0 {
		missing = append(missing, "pull_request_number")
	}
	if req.Owner == "" {
		missing = append(missing, "owner")
	}
	return missing
}

func okResponse(payload any) Response {
	body, err := json.Marshal(payload)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, "internal server error")
	}
	return Response{StatusCode: http.StatusOK, Body: string(body)}
}

func errorResponse(status int, msg string) Response {
	body, _ := json.Marshal(errorBody{Error: msg})
	return Response{StatusCode: status, Body: string(body)}
}
