package model

// FileChangeStatus is the change type GitHub reports for a file in a pull request.
type FileChangeStatus string

const (
	FileAdded     FileChangeStatus = "added"
	FileModified  FileChangeStatus = "modified"
	FileRemoved   FileChangeStatus = "removed"
	FileRenamed   FileChangeStatus = "renamed"
	FileCopied    FileChangeStatus = "copied"
	FileChanged   FileChangeStatus = "changed"
	FileUnchanged FileChangeStatus = "unchanged"
)

// FileChange is one changed file of a pull request. Patch is empty when the
// provider omits the diff (binary or oversized files).
type FileChange struct {
	Filename  string           `json:"filename"`
	Status    FileChangeStatus `json:"status"`
	Additions int              `json:"additions"`
	Deletions int              `json:"deletions"`
	Changes   int              `json:"changes"`
	Patch     string           `json:"patch,omitempty"`
}

// HasPatch reports whether a diff is available for review.
func (f FileChange) HasPatch() bool {
	return f.Patch != ""
}

// ReviewStatus is the outcome of reviewing a single file.
type ReviewStatus string

const (
	ReviewSucceeded ReviewStatus = "succeeded"
	ReviewFailed    ReviewStatus = "failed"
	ReviewSkipped   ReviewStatus = "skipped"
)

// ReviewResult is the review of one FileChange. Review is set only when
// Status is succeeded; Error is set otherwise.
type ReviewResult struct {
	File   string       `json:"file"`
	Status ReviewStatus `json:"status"`
	Review string       `json:"review,omitempty"`
	Error  string       `json:"error,omitempty"`
	Model  string       `json:"model,omitempty"`
}

// SucceededReview builds a successful result.
func SucceededReview(file, review, model string) ReviewResult {
	return ReviewResult{File: file, Status: ReviewSucceeded, Review: review, Model: model}
}

// FailedReview builds a failed result. model may be empty when no inference
// call was made.
func FailedReview(file, reason, model string) ReviewResult {
	return ReviewResult{File: file, Status: ReviewFailed, Error: reason, Model: model}
}

// SkippedReview builds a result for a file that was never sent for inference.
func SkippedReview(file, reason string) ReviewResult {
	return ReviewResult{File: file, Status: ReviewSkipped, Error: reason}
}

// Postable reports whether the result should be posted as a PR comment.
func (r ReviewResult) Postable() bool {
	return r.Status == ReviewSucceeded && r.Review != ""
}

// PostingOutcome tallies the comment publisher's work. The two counts always
// sum to the number of review results considered.
type PostingOutcome struct {
	SuccessfulPosts int `json:"successful_posts"`
	FailedPosts     int `json:"failed_posts"`
}

// Total returns the number of results considered for posting.
func (o PostingOutcome) Total() int {
	return o.SuccessfulPosts + o.FailedPosts
}

// CountReviews returns how many results ended in each status.
func CountReviews(results []ReviewResult) (succeeded, failed, skipped int) {
	for _, r := range results {
		switch r.Status {
		case ReviewSucceeded:
			succeeded++
		case ReviewSkipped:
			skipped++
		default:
			failed++
		}
	}
	return succeeded, failed, skipped
}
