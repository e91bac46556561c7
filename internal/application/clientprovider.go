package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ericfisherdev/prreviewer/internal/domain/model"
	"github.com/ericfisherdev/prreviewer/internal/domain/port/driven"
)

// GitHubFactory builds a GitHub client for a token.
type GitHubFactory func(token string) (driven.GitHubClient, error)

// InferenceFactory builds an inference client. An empty apiKey means the
// client falls back to its own environment defaults.
type InferenceFactory func(apiKey string) driven.Inference

// Clients are the provider handles used by one execution.
type Clients struct {
	GitHub    driven.GitHubClient
	Inference driven.Inference
}

// ClientProvider resolves credentials through the secret source on every
// Open, so a rotated secret takes effect on the next execution without a
// restart. Clients are reused while their credential is unchanged, which keeps
// the GitHub ETag cache warm across executions.
type ClientProvider struct {
	secrets         driven.SecretSource
	githubSecret    string
	inferenceSecret string
	newGitHub       GitHubFactory
	newInference    InferenceFactory

	mu           sync.Mutex
	github       driven.GitHubClient
	githubToken  string
	inference    driven.Inference
	inferenceKey string
	hasInference bool
}

// NewClientProvider creates a provider. githubSecret and inferenceSecret are
// the well-known names looked up in secrets.
func NewClientProvider(
	secrets driven.SecretSource,
	githubSecret, inferenceSecret string,
	newGitHub GitHubFactory,
	newInference InferenceFactory,
) *ClientProvider {
	return &ClientProvider{
		secrets:         secrets,
		githubSecret:    githubSecret,
		inferenceSecret: inferenceSecret,
		newGitHub:       newGitHub,
		newInference:    newInference,
	}
}

// Open returns clients for one execution. A missing or unreadable GitHub
// credential is an internal client-initialization error; there is no
// continuation with an empty token.
func (p *ClientProvider) Open(ctx context.Context) (*Clients, error) {
	token, err := p.secrets.Secret(ctx, p.githubSecret)
	if err != nil {
		return nil, model.Internal("client initialization", fmt.Errorf("github credential: %w", err))
	}

	apiKey, err := p.secrets.Secret(ctx, p.inferenceSecret)
	if err != nil {
		if !errors.Is(err, driven.ErrSecretNotFound) {
			return nil, model.Internal("client initialization", fmt.Errorf("inference credential: %w", err))
		}
		apiKey = ""
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.github == nil || p.githubToken != token {
		gh, err := p.newGitHub(token)
		if err != nil {
			return nil, model.Internal("client initialization", fmt.Errorf("github client: %w", err))
		}
		if p.github != nil {
			slog.Info("github credential changed, client replaced")
		}
		p.github = gh
		p.githubToken = token
	}

	if !p.hasInference || p.inferenceKey != apiKey {
		p.inference = p.newInference(apiKey)
		p.inferenceKey = apiKey
		p.hasInference = true
	}

	return &Clients{GitHub: p.github, Inference: p.inference}, nil
}
