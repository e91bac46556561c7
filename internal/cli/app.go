package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	anthropicadapter "github.com/ericfisherdev/prreviewer/internal/adapter/driven/anthropic"
	githubadapter "github.com/ericfisherdev/prreviewer/internal/adapter/driven/github"
	postgresadapter "github.com/ericfisherdev/prreviewer/internal/adapter/driven/postgres"
	"github.com/ericfisherdev/prreviewer/internal/adapter/driven/secrets"
	slackadapter "github.com/ericfisherdev/prreviewer/internal/adapter/driven/slack"
	sqliteadapter "github.com/ericfisherdev/prreviewer/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/prreviewer/internal/adapter/driving/step"
	"github.com/ericfisherdev/prreviewer/internal/application"
	"github.com/ericfisherdev/prreviewer/internal/config"
	"github.com/ericfisherdev/prreviewer/internal/domain/port/driven"
)

// app is the composition root shared by every command.
type app struct {
	cfg         *config.Config
	db          *sqliteadapter.DB
	pool        *pgxpool.Pool
	credentials *sqliteadapter.CredentialRepo
	store       driven.ExecutionStore
	orch        *application.Orchestrator
	gateway     *application.Gateway
	steps       *step.Dispatcher
}

// openApp opens the stores and wires the application services. Credentials
// always live in the local SQLite file; executions go to the configured driver.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	db, err := sqliteadapter.Open(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DB.Path, err)
	}
	a.db = db
	a.credentials = sqliteadapter.NewCredentialRepo(db, cfg.SecretKey)
	slog.Debug("database opened", "path", cfg.DB.Path)

	switch cfg.DB.Driver {
	case config.DriverPostgres:
		pool, err := postgresadapter.Connect(ctx, cfg.DB.URL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.pool = pool
		if err := postgresadapter.RunMigrations(pool); err != nil {
			a.Close()
			return nil, err
		}
		a.store = postgresadapter.NewExecutionRepo(pool)
		slog.Debug("postgres execution store ready")
	default:
		a.store = sqliteadapter.NewExecutionRepo(db)
	}

	secretSource := secrets.NewChain(a.credentials, map[string]string{
		cfg.GitHub.TokenSecret:     cfg.GitHub.Token,
		cfg.Anthropic.APIKeySecret: cfg.Anthropic.APIKey,
	})

	provider := application.NewClientProvider(secretSource,
		cfg.GitHub.TokenSecret,
		cfg.Anthropic.APIKeySecret,
		func(token string) (driven.GitHubClient, error) {
			client, err := githubadapter.NewClient(token, cfg.GitHub.BaseURL)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
		func(apiKey string) driven.Inference {
			return anthropicadapter.NewClient(apiKey, cfg.Anthropic.Model, cfg.Anthropic.BaseURL)
		},
	)

	var notifier driven.Notifier
	if cfg.SlackWebhookURL != "" {
		notifier = slackadapter.NewNotifier(cfg.SlackWebhookURL, cfg.GitHub.WebURL, nil)
	}

	review := application.ReviewOptions{
		MaxTokens:   cfg.Review.MaxTokens,
		Temperature: cfg.Review.Temperature,
		Concurrency: cfg.Review.Concurrency,
	}
	a.orch = application.NewOrchestrator(a.store, provider, notifier, application.OrchestratorConfig{
		Workers:       cfg.Workflow.Workers,
		StepTimeout:   cfg.Workflow.StepTimeout,
		SweepInterval: cfg.Workflow.SweepInterval,
		Review:        review,
	})
	a.gateway = application.NewGateway(a.orch)
	a.steps = step.NewDispatcher(provider, review, slog.Default())

	return a, nil
}

// Close releases the database handles.
func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			slog.Error("error closing database", "error", err)
		}
	}
}

// newLogger builds the process logger. Logs always go to stderr so stdout
// stays clean for command output and the MCP protocol.
func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
