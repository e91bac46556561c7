package driven

import (
	"context"

	"github.com/ericfisherdev/prreviewer/internal/domain/model"
)

// ReviewEventComment is the only review event the publisher submits: a plain
// comment that neither approves nor requests changes.
const ReviewEventComment = "COMMENT"

// GitHubClient defines the driven port for the source-control provider.
// Read methods back the change fetcher; CreateReview backs the comment publisher.
type GitHubClient interface {
	// FetchChanges returns every changed file of the pull request in the
	// provider's order. Files without a diff carry an empty Patch.
	FetchChanges(ctx context.Context, repoFullName string, prNumber int) ([]model.FileChange, error)

	// GetPullRequest looks up a single pull request.
	GetPullRequest(ctx context.Context, repoFullName string, prNumber int) (*model.PullRequest, error)

	// CreateReview submits a review on a pull request.
	// event must be one of "APPROVE", "REQUEST_CHANGES", or "COMMENT".
	CreateReview(ctx context.Context, repoFullName string, prNumber int, event string, body string) error
}
