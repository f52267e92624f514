package main

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"framepipe/internal/ipc"
)

func newWorkersCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "workers",
		Short: "Show registered workers and queued tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := ctx.format()
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Workers()
				if err != nil {
					return err
				}
				if handled, err := writeStructured(cmd, format, resp); handled {
					return err
				}
				out := cmd.OutOrStdout()
				if len(resp.Workers) == 0 {
					fmt.Fprintln(out, "No workers registered")
				} else {
					fmt.Fprint(out, renderTable(
						[]string{"Worker", "Stages", "Busy", "Concurrency"},
						buildWorkerRows(resp.Workers),
						[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight},
					))
				}
				if rows := buildQueuedRows(resp.Queued); len(rows) > 0 {
					fmt.Fprint(out, renderTable([]string{"Stage", "Queued"}, rows, []columnAlignment{alignLeft, alignRight}))
				}
				return nil
			})
		},
	}
}

func buildWorkerRows(workers []ipc.Worker) [][]string {
	rows := make([][]string, 0, len(workers))
	for _, w := range workers {
		rows = append(rows, []string{
			w.ID,
			strings.Join(w.Stages, ", "),
			strconv.Itoa(w.Busy),
			strconv.Itoa(w.Concurrency),
		})
	}
	return rows
}

func buildQueuedRows(queued map[string]int) [][]string {
	stages := make([]string, 0, len(queued))
	for stage, count := range queued {
		if count > 0 {
			stages = append(stages, stage)
		}
	}
	slices.Sort(stages)
	rows := make([][]string, 0, len(stages))
	for _, stage := range stages {
		rows = append(rows, []string{stage, strconv.Itoa(queued[stage])})
	}
	return rows
}
