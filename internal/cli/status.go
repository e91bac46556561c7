package cli

import (
	"github.com/spf13/cobra"

	"github.com/ericfisherdev/prreviewer/internal/domain/model"
)

func newStatusCmd(st *state) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status <execution-id>",
		Short: "Show the status of a review execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return st.withApp(ctx, func(a *app) error {
				exec, err := a.gateway.Execution(ctx, args[0])
				if err != nil {
					return err
				}
				return printExecution(st.ui, output, exec)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", FormatTable, "Output format: table, json, or yaml")
	return cmd
}

func newListCmd(st *state) *cobra.Command {
	var (
		output string
		limit  int
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List recent review executions",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 1 {
				return model.Validationf("--limit must be at least 1")
			}
			ctx := cmd.Context()
			return st.withApp(ctx, func(a *app) error {
				reports, err := a.gateway.ListExecutions(ctx, limit)
				if err != nil {
					return err
				}
				if len(reports) == 0 && output == FormatTable {
					st.ui.Info("No executions yet")
					return nil
				}
				return st.ui.PrintList(output, reports)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", FormatTable, "Output format: table, json, or yaml")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of executions")
	return cmd
}

func newAbortCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "abort <execution-id>",
		Short: "Abort a running review execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return st.withApp(ctx, func(a *app) error {
				report, err := a.gateway.Abort(ctx, args[0])
				if err != nil {
					return err
				}
				st.ui.Success("Execution %s is %s", report.ExecutionARN, StatusColor(report.Status))
				return nil
			})
		},
	}
}
