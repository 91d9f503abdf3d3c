package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"gavel/internal/api"
	"gavel/internal/config"
	"gavel/internal/taskaccess"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, dependency, and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd, func(runCtx context.Context, access taskaccess.Access) error {
				status, err := access.Status(runCtx)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, status)
				}

				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)

				for _, line := range renderSectionHeader("Daemon", colorize) {
					fmt.Fprintln(stdout, line)
				}
				for _, line := range daemonLines(status, colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout)

				for _, line := range renderSectionHeader("Dependencies", colorize) {
					fmt.Fprintln(stdout, line)
				}
				for _, line := range dependencyLines(status.Dependencies, colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout)

				for _, line := range renderSectionHeader("Paths", colorize) {
					fmt.Fprintln(stdout, line)
				}
				for _, line := range pathLines(ctx.configValue(), status, colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout)

				for _, line := range renderSectionHeader("Queue", colorize) {
					fmt.Fprintln(stdout, line)
				}
				if status.QueueStats.Total == 0 {
					fmt.Fprintln(stdout, "Queue is empty")
					return nil
				}
				table := renderTable(
					[]string{"Status", "Count"},
					buildQueueStatusRows(status.QueueStats),
					[]columnAlignment{alignLeft, alignRight},
				)
				fmt.Fprint(stdout, table)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of formatted text")
	return cmd
}

func daemonLines(status *api.DaemonStatus, colorize bool) []string {
	lines := make([]string, 0, 4)
	if status.Running {
		lines = append(lines, renderStatusLine("State", statusOK,
			fmt.Sprintf("Running (pid %d, %d workers)", status.PID, status.Workers), colorize))
	} else {
		lines = append(lines, renderStatusLine("State", statusWarn, "Not running", colorize))
	}
	if health := strings.TrimSpace(status.Health); health != "" {
		lines = append(lines, renderStatusLine("Health", healthStatusKind(health), formatStatusLabel(health), colorize))
	}
	for _, stage := range status.StageHealth {
		if stage.Ready {
			detail := stage.Detail
			if detail == "" {
				detail = "Ready"
			}
			lines = append(lines, renderStatusLine(formatStatusLabel(stage.Name), statusOK, detail, colorize))
			continue
		}
		detail := stage.Detail
		if detail == "" {
			detail = "Not ready"
		}
		lines = append(lines, renderStatusLine(formatStatusLabel(stage.Name), statusError, detail, colorize))
	}
	for _, circuit := range status.Circuits {
		kind := statusOK
		detail := "Closed"
		switch circuit.State {
		case "open":
			kind = statusError
			detail = fmt.Sprintf("Open (%d recent failures)", circuit.RecentFailures)
		case "half_open":
			kind = statusWarn
			detail = "Half-open, testing recovery"
		}
		lines = append(lines, renderStatusLine(formatStatusLabel(circuit.Name)+" circuit", kind, detail, colorize))
	}
	return lines
}

func dependencyLines(deps []api.DependencyStatus, colorize bool) []string {
	lines := make([]string, 0, len(deps)+2)
	missing := make([]string, 0)
	requiredMissing := 0
	for _, dep := range deps {
		if !dep.Available {
			missing = append(missing, dep.Name)
			if !dep.Optional {
				requiredMissing++
			}
		}
	}

	switch {
	case requiredMissing > 0:
		lines = append(lines, renderStatusLine("Summary", statusError,
			fmt.Sprintf("%d required dependencies missing", requiredMissing), colorize))
	case len(missing) > 0:
		lines = append(lines, renderStatusLine("Summary", statusWarn, "Optional dependencies missing", colorize))
	default:
		lines = append(lines, renderStatusLine("Summary", statusOK, "All dependencies available", colorize))
	}

	for _, dep := range deps {
		if dep.Available {
			message := "Ready"
			if dep.Command != "" {
				message = fmt.Sprintf("Ready (command: %s)", dep.Command)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}
		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
	}

	if len(missing) > 0 {
		lines = append(lines, renderStatusLine("Missing dependencies", statusWarn,
			fmt.Sprintf("%s (see README.md for install steps)", strings.Join(missing, ", ")), colorize))
	}
	return lines
}

func pathLines(cfg *config.Config, status *api.DaemonStatus, colorize bool) []string {
	lines := make([]string, 0, 5)
	if cfg != nil {
		lines = append(lines, pathLine("Recordings mount", cfg.Mounts.Recordings, statusError, colorize))
		if strings.TrimSpace(cfg.Mounts.Archive) == "" {
			lines = append(lines, renderStatusLine("Archive mount", statusInfo, "not configured", colorize))
		} else {
			lines = append(lines, pathLine("Archive mount", cfg.Mounts.Archive, statusWarn, colorize))
		}
		lines = append(lines, pathLine("Workdir", cfg.Paths.Workdir, statusWarn, colorize))
		lines = append(lines, pathLine("Log dir", cfg.Paths.LogDir, statusWarn, colorize))
	}
	if status.StateDBPath != "" {
		lines = append(lines, pathLine("State DB", status.StateDBPath, statusWarn, colorize))
	}
	return lines
}

// pathLine reports a configured path, using missingKind when the path does
// not exist on disk.
func pathLine(label, path string, missingKind statusKind, colorize bool) string {
	if _, err := os.Stat(path); err != nil {
		return renderStatusLine(label, missingKind, fmt.Sprintf("%s (not found)", path), colorize)
	}
	return renderStatusLine(label, statusOK, path, colorize)
}
