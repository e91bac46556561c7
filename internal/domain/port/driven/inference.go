package driven

import "context"

// CompletionRequest is a single-turn prompt for the inference provider.
type CompletionRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Completion is the provider's answer. Text is the concatenation of every text
// segment in the response and may be empty.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Inference defines the driven port for the generative-text capability.
type Inference interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	// Model returns the identifier of the model requests are sent to.
	Model() string
}
