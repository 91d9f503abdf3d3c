package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"gavel/internal/taskaccess"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show component health checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd, func(runCtx context.Context, access taskaccess.Access) error {
				report, err := access.Health(runCtx)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, report)
				}

				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)
				fmt.Fprintln(stdout, renderStatusLine("Aggregate", healthStatusKind(report.Aggregate), formatStatusLabel(report.Aggregate), colorize))
				if len(report.Components) == 0 {
					fmt.Fprintln(stdout, "No health records available")
					return nil
				}
				table := renderTable(
					[]string{"Component", "Status", "Latency", "Checked", "Detail"},
					buildHealthRows(report.Components),
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				)
				fmt.Fprint(stdout, table)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of formatted text")
	return cmd
}
