package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ericfisherdev/prreviewer/internal/domain/model"
	"github.com/ericfisherdev/prreviewer/internal/domain/port/driven"
)

// ChangeFetcher retrieves the changed files of a pull request.
type ChangeFetcher struct {
	gh driven.GitHubClient
}

// NewChangeFetcher creates a ChangeFetcher bound to one execution's client.
func NewChangeFetcher(gh driven.GitHubClient) *ChangeFetcher {
	return &ChangeFetcher{gh: gh}
}

// Fetch returns the pull request's files in the provider's order. Provider
// failures are upstream errors; bad identifiers are validation errors.
func (f *ChangeFetcher) Fetch(ctx context.Context, owner, repository string, prNumber int) ([]model.FileChange, error) {
	if prNumber <= 0 {
		return nil, model.Validationf("pull_request_number must be a positive integer, got %d", prNumber)
	}
	if strings.TrimSpace(owner) == "" || strings.TrimSpace(repository) == "" {
		return nil, model.Validationf("owner and repository are required")
	}

	repoFullName := owner + "/" + repository
	changes, err := f.gh.FetchChanges(ctx, repoFullName, prNumber)
	if err != nil {
		return nil, model.Upstream(fmt.Sprintf("fetch changes for %s#%d", repoFullName, prNumber), err)
	}
	if changes == nil {
		changes = []model.FileChange{}
	}

	withPatch := 0
	for _, c := range changes {
		if c.HasPatch() {
			withPatch++
		}
	}
	slog.Info("fetched pull request changes",
		"repo", repoFullName,
		"pr_number", prNumber,
		"files", len(changes),
		"with_patch", withPatch,
	)

	return changes, nil
}
