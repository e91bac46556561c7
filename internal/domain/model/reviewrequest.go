package model

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ReviewRequest is the input to one workflow execution. It is created by the
// gateway when a review is requested and is never mutated afterwards.
type ReviewRequest struct {
	Repository        string `json:"repository"`
	Owner             string `json:"owner"`
	PullRequestNumber int    `json:"pull_request_number"`
	Branch            string `json:"branch,omitempty"`

	// Descriptive metadata supplied by the caller. Logged, never interpreted.
	Author    string `json:"pr_author,omitempty"`
	Title     string `json:"pr_title,omitempty"`
	State     string `json:"pr_state,omitempty"`
	CreatedAt string `json:"pr_created_at,omitempty"`
	CommitSHA string `json:"commit_sha,omitempty"`
}

// RepoFullName returns the "owner/repo" form used by the GitHub adapter.
func (r ReviewRequest) RepoFullName() string {
	return r.Owner + "/" + r.Repository
}

// githubName matches the characters GitHub allows in owner and repository names.
var githubName = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Validate reports a validation error naming every missing required field.
// Repository, owner, and a positive pull request number are required; owner
// and repository must be single GitHub path segments.
func (r ReviewRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.Repository) == "" {
		missing = append(missing, "repository")
	}
	if r.PullRequestNumber <= 0 {
		missing = append(missing, "pull_request_number")
	}
	if strings.TrimSpace(r.Owner) == "" {
		missing = append(missing, "owner")
	}
	if len(missing) > 0 {
		return Validationf("missing or invalid parameters: %s", strings.Join(missing, ", "))
	}
	if err := validateName("owner", r.Owner); err != nil {
		return err
	}
	return validateName("repository", r.Repository)
}

func validateName(field, value string) error {
	if !githubName.MatchString(value) || value == "." || value == ".." {
		return Validationf("invalid %s %q: only letters, digits, '.', '-' and '_' are allowed", field, value)
	}
	return nil
}

// String identifies the pull request in log lines.
func (r ReviewRequest) String() string {
	return fmt.Sprintf("%s#%d", r.RepoFullName(), r.PullRequestNumber)
}

// UnmarshalJSON accepts pull_request_number as a JSON number or a numeric
// string, since webhook relays commonly forward it quoted.
func (r *ReviewRequest) UnmarshalJSON(data []byte) error {
	type plain ReviewRequest
	aux := struct {
		*plain
		PullRequestNumber json.RawMessage `json:"pull_request_number"`
	}{plain: (*plain)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return Validationf("invalid request body: %v", err)
	}

	raw := strings.TrimSpace(string(aux.PullRequestNumber))
	if raw == "" || raw == "null" {
		r.PullRequestNumber = 0
		return nil
	}
	raw = strings.Trim(raw, `"`)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return Validationf("pull_request_number must be an integer, got %s", string(aux.PullRequestNumber))
	}
	r.PullRequestNumber = n
	return nil
}
