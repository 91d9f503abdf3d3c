package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"gavel/internal/config"
	"gavel/internal/discovery"
	"gavel/internal/taskaccess"
	"gavel/internal/taskstate"
)

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var kind string
	var priority int

	cmd := &cobra.Command{
		Use:   "enqueue <recording>",
		Short: "Queue a meeting recording for captioning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
			absPath, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}

			info, err := os.Stat(absPath)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("recording does not exist: %s", absPath)
				}
				return fmt.Errorf("inspect recording: %w", err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", absPath)
			}
			if !discovery.SupportedSource(absPath) {
				return fmt.Errorf("unsupported container %q", filepath.Ext(absPath))
			}

			return ctx.withAccess(cmd, func(runCtx context.Context, access taskaccess.Access) error {
				task, err := access.Enqueue(runCtx, kind, map[string]string{"source_path": absPath})
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("priority") {
					if _, err := access.Reorder(runCtx, task.TaskID, priority); err != nil {
						return fmt.Errorf("set priority: %w", err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %s (%s) as task %s\n",
					filepath.Base(absPath), humanize.IBytes(uint64(info.Size())), shortID(task.TaskID))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Task kind (defaults to the full captioning pipeline)")
	cmd.Flags().IntVar(&priority, "priority", taskstate.DefaultPriority, "Queue position (0 dequeues first)")
	return cmd
}
