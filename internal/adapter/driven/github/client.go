// Package github implements the GitHubClient port using the go-github library.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/ericfisherdev/prreviewer/internal/domain/model"
	"github.com/ericfisherdev/prreviewer/internal/domain/port/driven"
)

var _ driven.GitHubClient = (*Client)(nil)

// filesPerPage is the ListFiles maximum; GitHub caps a pull request at 3000 files.
const filesPerPage = 100

// Client implements the driven.GitHubClient port.
type Client struct {
	gh *gh.Client
}

// NewClient creates a client for token over the transport stack
// httpcache (ETag revalidation) -> go-github-ratelimit (sleeps on secondary
// limits) -> go-github. baseURL optionally points at a GitHub Enterprise API.
func NewClient(token, baseURL string) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("github token is empty")
	}
	rateLimited := github_ratelimit.NewClient(httpcache.NewMemoryCacheTransport())
	client, err := newGitHub(rateLimited, token, baseURL)
	if err != nil {
		return nil, err
	}
	return &Client{gh: client}, nil
}

// NewClientWithHTTPClient creates a Client over httpClient and baseURL, for
// tests against an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, token string) (*Client, error) {
	client, err := newGitHub(httpClient, token, baseURL)
	if err != nil {
		return nil, err
	}
	return &Client{gh: client}, nil
}

func newGitHub(httpClient *http.Client, token, baseURL string) (*gh.Client, error) {
	client := gh.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if baseURL == "" {
		return client, nil
	}
	u, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	client.BaseURL = u
	return client, nil
}

// parseBaseURL adds the trailing slash go-github requires.
func parseBaseURL(raw string) (*url.URL, error) {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	return u, nil
}

// FetchChanges lists every changed file of the pull request, following
// pagination and keeping GitHub's order.
func (c *Client) FetchChanges(ctx context.Context, repoFullName string, prNumber int) ([]model.FileChange, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	opts := &gh.ListOptions{PerPage: filesPerPage}
	changes := []model.FileChange{}
	for {
		files, resp, err := c.gh.PullRequests.ListFiles(ctx, owner, repo, prNumber, opts)
		if err != nil {
			return nil, apiError(fmt.Sprintf("list files of %s#%d (page %d)", repoFullName, prNumber, opts.Page), err)
		}
		logRateLimit(resp, "pulls.files", repoFullName, len(files))

		for _, f := range files {
			changes = append(changes, toFileChange(f))
		}
		if resp.NextPage == 0 {
			return changes, nil
		}
		opts.Page = resp.NextPage
	}
}

// GetPullRequest looks up one pull request.
func (c *Client) GetPullRequest(ctx context.Context, repoFullName string, prNumber int) (*model.PullRequest, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	pr, resp, err := c.gh.PullRequests.Get(ctx, owner, repo, prNumber)
	if err != nil {
		return nil, apiError(fmt.Sprintf("get pull request %s#%d", repoFullName, prNumber), err)
	}
	logRateLimit(resp, "pulls.get", repoFullName, 1)

	return &model.PullRequest{
		Number:       pr.GetNumber(),
		RepoFullName: repoFullName,
		Title:        pr.GetTitle(),
		State:        pr.GetState(),
		HeadSHA:      pr.GetHead().GetSHA(),
		URL:          pr.GetHTMLURL(),
	}, nil
}

// logRateLimit records the remaining primary quota, warning below 100.
func logRateLimit(resp *gh.Response, endpoint, repo string, count int) {
	if resp == nil {
		return
	}
	slog.Debug("github api call",
		"endpoint", endpoint,
		"repo", repo,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
	)
	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

func toFileChange(f *gh.CommitFile) model.FileChange {
	return model.FileChange{
		Filename:  f.GetFilename(),
		Status:    model.FileChangeStatus(f.GetStatus()),
		Additions: f.GetAdditions(),
		Deletions: f.GetDeletions(),
		Changes:   f.GetChanges(),
		Patch:     f.GetPatch(),
	}
}

// splitRepo splits "owner/repo".
func splitRepo(fullName string) (string, string, error) {
	owner, repo, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return owner, repo, nil
}
