package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httphandler "github.com/ericfisherdev/prreviewer/internal/adapter/driving/http"
)

func newServeCmd(st *state) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run review workers",
		Long: `Start the HTTP API together with the orchestrator worker pool.

Executions left RUNNING by an earlier process, or queued by
"prreviewer review" without --wait, are resumed by the periodic sweep.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				st.cfg.ListenAddr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return st.withApp(ctx, func(a *app) error {
				return serve(ctx, st, a)
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides listen_addr)")
	return cmd
}

func serve(ctx context.Context, st *state, a *app) error {
	cfg := st.cfg
	logger := slog.Default()

	if !cfg.HasCredentialStore() {
		slog.Warn("secret_key not set, credential store disabled; using configured tokens only")
	}
	if cfg.APIKey == "" {
		slog.Warn("api_key not set, HTTP API is unauthenticated")
	}

	handler := httphandler.NewHandler(a.gateway, a.steps, cfg.Workflow.StepTimeout, logger)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(handler, logger, cfg.APIKey),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	runCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.orch.Run(runCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", cfg.ListenAddr, "version", st.version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	st.ui.Success("Serving on http://%s", cfg.ListenAddr)

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case serveErr = <-errCh:
		slog.Error("http server failed", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	stopWorkers()
	wg.Wait()
	slog.Info("shutdown complete")
	return serveErr
}
