package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gh "github.com/google/go-github/v82/github"
)

// CreateReview submits a pull request review. event is "APPROVE",
// "REQUEST_CHANGES", or "COMMENT".
func (c *Client) CreateReview(ctx context.Context, repoFullName string, prNumber int, event string, body string) error {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}

	review := &gh.PullRequestReviewRequest{Event: gh.Ptr(event), Body: gh.Ptr(body)}
	_, resp, err := c.gh.PullRequests.CreateReview(ctx, owner, repo, prNumber, review)
	if err != nil {
		return apiError(fmt.Sprintf("create review on %s#%d", repoFullName, prNumber), err)
	}
	logRateLimit(resp, "pulls.reviews", repoFullName, 1)
	return nil
}

// ValidateToken checks token against the API and returns its login. It uses a
// one-shot client so no cache or limiter state is shared with review traffic.
func ValidateToken(ctx context.Context, token, baseURL string) (string, error) {
	client, err := newGitHub(&http.Client{Timeout: 10 * time.Second}, token, baseURL)
	if err != nil {
		return "", err
	}
	user, _, err := client.Users.Get(ctx, "")
	if err != nil {
		return "", fmt.Errorf("token validation failed: %w", apiError("get authenticated user", err))
	}
	return user.GetLogin(), nil
}

// apiError wraps err from op with the reason GitHub gave, so step failures
// read as "not found" or "rate limited" rather than a bare status line.
func apiError(op string, err error) error {
	var (
		rateErr  *gh.RateLimitError
		abuseErr *gh.AbuseRateLimitError
		respErr  *gh.ErrorResponse
	)
	switch {
	case errors.As(err, &rateErr):
		return fmt.Errorf("%s: rate limited until %s: %w", op, rateErr.Rate.Reset.Format(time.RFC3339), err)
	case errors.As(err, &abuseErr):
		return fmt.Errorf("%s: secondary rate limit: %w", op, err)
	case errors.As(err, &respErr) && respErr.Response != nil:
		switch respErr.Response.StatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%s: authentication failed: %w", op, err)
		case http.StatusForbidden:
			return fmt.Errorf("%s: access denied: %w", op, err)
		case http.StatusNotFound:
			return fmt.Errorf("%s: not found: %w", op, err)
		case http.StatusUnprocessableEntity:
			return fmt.Errorf("%s: review rejected (pull request closed or body too large): %w", op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
