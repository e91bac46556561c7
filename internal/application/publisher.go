package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/prreviewer/internal/domain/model"
	"github.com/ericfisherdev/prreviewer/internal/domain/port/driven"
)

// CommentPublisher posts successful reviews as pull request comments.
type CommentPublisher struct {
	gh driven.GitHubClient
}

// NewCommentPublisher creates a CommentPublisher bound to one execution's client.
func NewCommentPublisher(gh driven.GitHubClient) *CommentPublisher {
	return &CommentPublisher{gh: gh}
}

// Publish posts every postable review and tallies the outcome. It fails only
// when the pull request cannot be located; individual post failures are counted.
func (p *CommentPublisher) Publish(ctx context.Context, owner, repository string, prNumber int, reviews []model.ReviewResult) (model.PostingOutcome, error) {
	var outcome model.PostingOutcome
	repoFullName := owner + "/" + repository

	if _, err := p.gh.GetPullRequest(ctx, repoFullName, prNumber); err != nil {
		return outcome, model.Upstream(fmt.Sprintf("locate pull request %s#%d", repoFullName, prNumber), err)
	}

	for _, r := range reviews {
		if !r.Postable() {
			outcome.FailedPosts++
			continue
		}

		if err := p.gh.CreateReview(ctx, repoFullName, prNumber, driven.ReviewEventComment, FormatComment(r)); err != nil {
			slog.Warn("posting review comment failed",
				"repo", repoFullName,
				"pr_number", prNumber,
				"file", r.File,
				"error", err,
			)
			outcome.FailedPosts++
			continue
		}
		outcome.SuccessfulPosts++
	}

	slog.Info("review comments posted",
		"repo", repoFullName,
		"pr_number", prNumber,
		"successful_posts", outcome.SuccessfulPosts,
		"failed_posts", outcome.FailedPosts,
	)

	return outcome, nil
}

// FormatComment renders the comment body for one file's review.
func FormatComment(r model.ReviewResult) string {
	return fmt.Sprintf("### AI review: `%s`\n\n%s", r.File, r.Review)
}
