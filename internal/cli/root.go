// Package cli implements the prreviewer command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/prreviewer/internal/config"
)

// state carries the flags and loaded dependencies shared by every command.
type state struct {
	version string
	cfgFile string
	verbose bool

	cfg *config.Config
	ui  *UI
}

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	st := &state{version: version, ui: NewUI()}

	root := &cobra.Command{
		Use:   "prreviewer",
		Short: "AI review for GitHub pull requests",
		Long: `prreviewer fetches the changed files of a pull request, asks an LLM to
review each file, and posts the reviews back to the pull request.

Run "prreviewer serve" for the HTTP API and background workers, or use
"review" and "status" directly from the shell.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return st.init(cmd)
		},
	}

	root.PersistentFlags().StringVar(&st.cfgFile, "config", "", "Config file (default ~/.config/prreviewer/config.yaml)")
	root.PersistentFlags().BoolVarP(&st.verbose, "verbose", "v", false, "Verbose output")

	root.AddCommand(
		newServeCmd(st),
		newReviewCmd(st),
		newStatusCmd(st),
		newListCmd(st),
		newAbortCmd(st),
		newSecretCmd(st),
		newMCPCmd(st),
	)
	return root
}

// Execute is the main entry point called from main.go.
func Execute(version string) {
	if err := NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (st *state) init(cmd *cobra.Command) error {
	v, err := config.NewViper(st.cfgFile)
	if err != nil {
		return err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if st.verbose && cfg.LogLevel > slog.LevelDebug {
		cfg.LogLevel = slog.LevelDebug
	}
	st.cfg = cfg

	st.ui.Out = cmd.OutOrStdout()
	st.ui.ErrOut = cmd.ErrOrStderr()
	st.ui.Verbose = st.verbose

	slog.SetDefault(newLogger(cfg))
	return nil
}

// withApp opens the composition root for the duration of fn.
func (st *state) withApp(ctx context.Context, fn func(*app) error) error {
	a, err := openApp(ctx, st.cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
