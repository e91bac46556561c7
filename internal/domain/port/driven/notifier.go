package driven

import (
	"context"

	"github.com/ericfisherdev/prreviewer/internal/domain/model"
)

// Notifier announces finished postings to a chat channel. Failures are
// reported to the caller but never change an execution's outcome.
type Notifier interface {
	NotifyPosted(ctx context.Context, req model.ReviewRequest, outcome model.PostingOutcome) error
}
