package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/prreviewer/internal/application"
	"github.com/ericfisherdev/prreviewer/internal/domain/model"
)

func newReviewCmd(st *state) *cobra.Command {
	var (
		req    model.ReviewRequest
		wait   bool
		output string
	)

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Start a review of a pull request",
		Long: `Start a review execution for one pull request.

Without --wait the execution is recorded and picked up by a running
"prreviewer serve". With --wait it runs in this process and the final
status is printed.`,
		Example: `  prreviewer review --owner octo --repo hello --pr 42 --wait`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return st.withApp(ctx, func(a *app) error {
				started, err := a.gateway.StartReview(ctx, req)
				if err != nil {
					return err
				}
				if !wait {
					st.ui.Success("Started execution %s for %s", started.ExecutionARN, req.String())
					st.ui.Info("Run %q to follow it", "prreviewer status "+started.ExecutionARN)
					return nil
				}

				st.ui.VerboseLog("running %s in process", started.ExecutionARN)
				if err := a.orch.Execute(ctx, started.ExecutionARN); err != nil {
					return err
				}
				if ctx.Err() != nil {
					st.ui.Warning("Interrupted; execution %s stays RUNNING and resumes under serve", started.ExecutionARN)
					return ctx.Err()
				}

				exec, err := a.gateway.Execution(ctx, started.ExecutionARN)
				if err != nil {
					return err
				}
				if !exec.Status.IsTerminal() {
					st.ui.Warning("Execution %s is held by another runner; follow it with \"prreviewer status\"", started.ExecutionARN)
				}
				return printExecution(st.ui, output, exec)
			})
		},
	}

	cmd.Flags().StringVar(&req.Owner, "owner", "", "Repository owner (required)")
	cmd.Flags().StringVar(&req.Repository, "repo", "", "Repository name (required)")
	cmd.Flags().IntVar(&req.PullRequestNumber, "pr", 0, "Pull request number (required)")
	cmd.Flags().StringVar(&req.Branch, "branch", "", "Head branch, recorded for logging")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Run the review in this process and wait for the result")
	cmd.Flags().StringVarP(&output, "output", "o", FormatTable, "Output format with --wait: table, json, or yaml")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("repo")
	_ = cmd.MarkFlagRequired("pr")
	return cmd
}

// printExecution prints the status report followed by per-file reviews in
// table mode. Structured formats carry the reviews in the output payload.
func printExecution(ui *UI, format string, exec *model.Execution) error {
	report := application.NewStatusReport(exec)
	if err := ui.PrintStatus(format, report); err != nil {
		return err
	}
	if format != FormatTable {
		return nil
	}
	if len(exec.Reviews) > 0 {
		fmt.Fprintln(ui.Out)
	}
	return ui.PrintReviews(exec.Reviews)
}
