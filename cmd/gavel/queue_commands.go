package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"gavel/internal/api"
	"gavel/internal/taskaccess"
	"gavel/internal/taskstate"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage captioning tasks",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueResumeCommand(ctx))
	queueCmd.AddCommand(newQueueReorderCommand(ctx))
	queueCmd.AddCommand(newQueueCancelCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))

	return queueCmd
}

// resolveTaskID accepts a full task ID or a unique prefix of one, the way
// IDs appear in table output.
func resolveTaskID(ctx context.Context, access taskaccess.Access, arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", errors.New("task id is required")
	}
	if _, err := access.Describe(ctx, arg); err == nil {
		return arg, nil
	} else if !errors.Is(err, api.ErrNotFound) {
		return "", err
	}

	tasks, err := access.List(ctx)
	if err != nil {
		return "", err
	}
	var match string
	for _, task := range tasks {
		if strings.HasPrefix(task.TaskID, arg) {
			if match != "" {
				return "", fmt.Errorf("task id %q is ambiguous", arg)
			}
			match = task.TaskID
		}
	}
	if match == "" {
		return "", fmt.Errorf("%w: task %s", api.ErrNotFound, arg)
	}
	return match, nil
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue dispatch counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd, func(runCtx context.Context, access taskaccess.Access) error {
				status, err := access.Status(runCtx)
				if err != nil {
					return err
				}
				if status.QueueStats.Total == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				table := renderTable(
					[]string{"Status", "Count"},
					buildQueueStatusRows(status.QueueStats),
					[]columnAlignment{alignLeft, alignRight},
				)
				fmt.Fprint(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List captioning tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd, func(runCtx context.Context, access taskaccess.Access) error {
				tasks, err := access.List(runCtx, listStatuses...)
				if err != nil {
					return err
				}
				if len(tasks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				table := renderTable(
					[]string{"ID", "Title", "Status", "Stage", "Priority", "Created"},
					buildTaskRows(tasks),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprint(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by task status (repeatable)")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show full task detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd, func(runCtx context.Context, access taskaccess.Access) error {
				taskID, err := resolveTaskID(runCtx, access, args[0])
				if err != nil {
					return err
				}
				task, err := access.Describe(runCtx, taskID)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, task)
				}
				printTaskDetail(cmd, task)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of formatted text")
	return cmd
}

func printTaskDetail(cmd *cobra.Command, task *api.TaskView) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Task: %s\n", task.TaskID)
	fmt.Fprintf(out, "Kind: %s\n", task.Kind)
	fmt.Fprintf(out, "Status: %s\n", formatStatusLabel(task.Status))
	if task.Stage != "" {
		fmt.Fprintf(out, "Stage: %s\n", formatStatusLabel(task.Stage))
	}
	fmt.Fprintf(out, "Priority: %d\n", task.Priority)
	fmt.Fprintf(out, "Created: %s\n", formatDisplayTime(task.CreatedAt))
	fmt.Fprintf(out, "Updated: %s\n", formatDisplayTime(task.UpdatedAt))
	if task.FailureReason != "" {
		fmt.Fprintf(out, "Failure reason: %s\n", task.FailureReason)
	}
	if task.Queue != nil {
		fmt.Fprintf(out, "Queue state: %s (attempts %d)\n", task.Queue.State, task.Queue.Attempts)
		if task.Queue.WorkerID != "" {
			fmt.Fprintf(out, "Worker: %s\n", task.Queue.WorkerID)
		}
	}
	if source := strings.TrimSpace(task.Parameters["source_path"]); source != "" {
		fmt.Fprintf(out, "Source: %s\n", source)
	}
	if len(task.Progress) > 0 {
		fmt.Fprintln(out, "Progress:")
		keys := make([]string, 0, len(task.Progress))
		for key := range task.Progress {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(out, "  - %s: %s\n", key, task.Progress[key])
		}
	}
}

func newQueueResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <task-id>",
		Short: "Resume a failed or cancelled task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd, func(runCtx context.Context, access taskaccess.Access) error {
				taskID, err := resolveTaskID(runCtx, access, args[0])
				if err != nil {
					return err
				}
				resumed, err := access.Resume(runCtx, taskID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s resumed as %s\n", shortID(taskID), shortID(resumed.TaskID))
				return nil
			})
		},
	}
}

func newQueueReorderCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <task-id> <position>",
		Short: "Move a pending task to a new queue position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			position, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid position %q", args[1])
			}
			return ctx.withAccess(cmd, func(runCtx context.Context, access taskaccess.Access) error {
				taskID, err := resolveTaskID(runCtx, access, args[0])
				if err != nil {
					return err
				}
				landed, err := access.Reorder(runCtx, taskID, position)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s moved to position %d\n", shortID(taskID), landed)
				return nil
			})
		},
	}
}

func newQueueCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a pending or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd, func(runCtx context.Context, access taskaccess.Access) error {
				taskID, err := resolveTaskID(runCtx, access, args[0])
				if err != nil {
					return err
				}
				cancelled, err := access.Cancel(runCtx, taskID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s cancelled\n", shortID(cancelled.TaskID))
				return nil
			})
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [task-id...]",
		Short: "Resume failed tasks",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd, func(runCtx context.Context, access taskaccess.Access) error {
				out := cmd.OutOrStdout()

				if len(args) == 0 {
					failed, err := access.List(runCtx, string(taskstate.StatusFailed))
					if err != nil {
						return err
					}
					retried := 0
					for _, task := range failed {
						if _, err := access.Resume(runCtx, task.TaskID); err != nil {
							fmt.Fprintf(out, "Task %s: %v\n", shortID(task.TaskID), err)
							continue
						}
						retried++
					}
					fmt.Fprintf(out, "Retried %d failed tasks\n", retried)
					return nil
				}

				for _, arg := range args {
					taskID, err := resolveTaskID(runCtx, access, arg)
					if err != nil {
						if errors.Is(err, api.ErrNotFound) {
							fmt.Fprintf(out, "Task %s not found\n", shortID(arg))
							continue
						}
						return err
					}
					task, err := access.Describe(runCtx, taskID)
					if err != nil {
						return err
					}
					if task.Status != string(taskstate.StatusFailed) {
						fmt.Fprintf(out, "Task %s is not in failed state\n", shortID(taskID))
						continue
					}
					resumed, err := access.Resume(runCtx, taskID)
					if err != nil {
						fmt.Fprintf(out, "Task %s: %v\n", shortID(taskID), err)
						continue
					}
					fmt.Fprintf(out, "Task %s resumed as %s\n", shortID(taskID), shortID(resumed.TaskID))
				}
				return nil
			})
		},
	}
}
