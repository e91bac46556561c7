// Package anthropic implements the Inference port over the Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ericfisherdev/prreviewer/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Inference = (*Client)(nil)

// Client wraps the Anthropic API for single-turn completions.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates a client for model. An empty apiKey leaves the SDK to read
// ANTHROPIC_API_KEY; an empty baseURL uses the public endpoint.
func NewClient(apiKey, model, baseURL string, extra ...option.RequestOption) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, extra...)

	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return string(c.model)
}

// Complete sends req as a single user message and concatenates every text
// block of the reply.
func (c *Client) Complete(ctx context.Context, req driven.CompletionRequest) (*driven.Completion, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	model := string(msg.Model)
	if model == "" {
		model = string(c.model)
	}

	return &driven.Completion{
		Text:         sb.String(),
		Model:        model,
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}
