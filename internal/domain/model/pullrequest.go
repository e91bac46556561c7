package model

// PullRequest is the subset of a GitHub pull request the publisher needs to
// confirm the target exists before posting.
type PullRequest struct {
	Number       int
	RepoFullName string
	Title        string
	State        string
	HeadSHA      string
	URL          string
}
