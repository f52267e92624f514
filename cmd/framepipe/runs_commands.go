package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"framepipe/internal/ipc"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List and manage pipeline runs",
	}

	runsCmd.AddCommand(newRunsListCommand(ctx))
	runsCmd.AddCommand(newRunsRemoveCommand(ctx))
	runsCmd.AddCommand(newRunsClearCommand(ctx))

	return runsCmd
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := ctx.format()
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.List(statuses)
				if err != nil {
					return err
				}
				if handled, err := writeStructured(cmd, format, resp.Runs); handled {
					return err
				}
				out := cmd.OutOrStdout()
				if len(resp.Runs) == 0 {
					fmt.Fprintln(out, "No runs")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]string{"ID", "Pipeline", "Status", "Stage", "Input", "Created"},
					buildRunListRows(resp.Runs, shouldColorize(out)),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by run status (repeatable)")
	return cmd
}

func newRunsRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <run-id>...",
		Short: "Remove finished runs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				out := cmd.OutOrStdout()
				var errs []error
				for _, arg := range args {
					id := strings.TrimSpace(arg)
					if _, err := client.Remove(id); err != nil {
						errs = append(errs, fmt.Errorf("run %s: %w", id, err))
						continue
					}
					fmt.Fprintf(out, "Run %s removed\n", id)
				}
				return errors.Join(errs...)
			})
		},
	}
}

func newRunsClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every completed run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ClearCompleted()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d completed runs\n", resp.Removed)
				return nil
			})
		},
	}
}

func buildRunListRows(runs []ipc.Run, colorize bool) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.ID,
			run.Pipeline,
			colorStatus(run.Status, colorize),
			fmt.Sprintf("%d/%d", run.CurrentStage, run.StageCount),
			truncate(run.Input, 48),
			run.CreatedAt,
		})
	}
	return rows
}
