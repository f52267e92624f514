package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"framepipe/internal/config"
	"framepipe/internal/ipc"
)

// defaultWaitTimeout bounds --wait when no --timeout is given.
const defaultWaitTimeout = 5 * time.Minute

func newRunCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newSubmitCommand(ctx),
		newShowCommand(ctx),
		newResultCommand(ctx),
		newCancelCommand(ctx),
		newResumeCommand(ctx),
	}
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var pipeline string
	var wait bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "submit <video>",
		Short: "Submit a video for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := ctx.format()
			if err != nil {
				return err
			}
			input, err := config.ExpandPath(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("resolve input path: %w", err)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Submit(pipeline, input)
				if err != nil {
					return err
				}
				if !wait {
					if handled, err := writeStructured(cmd, format, resp); handled {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Run %s submitted\n", resp.ID)
					return nil
				}
				if format == formatTable {
					fmt.Fprintf(cmd.OutOrStdout(), "Run %s submitted, waiting for result...\n", resp.ID)
				}
				if timeout <= 0 {
					timeout = defaultWaitTimeout
				}
				result, err := client.Result(resp.ID, timeout)
				if err != nil {
					return err
				}
				return printResult(cmd, format, result)
			})
		},
	}
	cmd.Flags().StringVarP(&pipeline, "pipeline", "p", "", "Pipeline to run (default from config)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the run to finish and print its result")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Maximum time to wait with --wait (default 5m)")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the full record of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := ctx.format()
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Describe(strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if handled, err := writeStructured(cmd, format, resp.Run); handled {
					return err
				}
				renderRunDetail(cmd.OutOrStdout(), resp.Run, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}
}

func newResultCommand(ctx *commandContext) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "result <run-id>",
		Short: "Print the outputs of a finished run",
		Long:  "Print the outputs of a finished run. With --timeout, wait up to that long for the run to finish.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := ctx.format()
			if err != nil {
				return err
			}
			if timeout < 0 {
				return fmt.Errorf("timeout must not be negative")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				result, err := client.Result(strings.TrimSpace(args[0]), timeout)
				if err != nil {
					return err
				}
				return printResult(cmd, format, result)
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Wait up to this long for the run to finish")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel an active run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := ctx.format()
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Cancel(strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if handled, err := writeStructured(cmd, format, resp.Run); handled {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Run %s cancelled\n", resp.Run.ID)
				return nil
			})
		},
	}
}

func newResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Resume a run from its last completed stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := ctx.format()
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Resume(strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if handled, err := writeStructured(cmd, format, resp.Run); handled {
					return err
				}
				run := resp.Run
				fmt.Fprintf(cmd.OutOrStdout(), "Run %s %s at stage %d/%d\n",
					run.ID, strings.ToLower(displayStatus(run.Status)), run.CurrentStage, run.StageCount)
				return nil
			})
		},
	}
}

// printResult renders a result response. A failed run is reported as an
// error so the command exits non-zero.
func printResult(cmd *cobra.Command, format outputFormat, result *ipc.ResultResponse) error {
	if handled, err := writeStructured(cmd, format, result); handled {
		if err != nil {
			return err
		}
		return resultError(result)
	}
	out := cmd.OutOrStdout()
	switch {
	case result.Pending:
		fmt.Fprintf(out, "Run %s is still %s\n", result.ID, result.Status)
		return nil
	case result.Failure != nil:
		return resultError(result)
	}
	fmt.Fprintf(out, "Run %s %s\n", result.ID, result.Status)
	for i, output := range result.Outputs {
		fmt.Fprintf(out, "Stage %d output:\n%s\n", i, indentJSON(output))
	}
	return nil
}

func resultError(result *ipc.ResultResponse) error {
	if result == nil || result.Failure == nil {
		return nil
	}
	f := result.Failure
	return fmt.Errorf("run %s failed at stage %s (%s): %s", result.ID, f.Stage, f.Kind, f.Message)
}

func renderRunDetail(out io.Writer, run ipc.Run, colorize bool) {
	lines := []string{
		renderField("ID", run.ID),
		renderField("Pipeline", run.Pipeline),
		renderField("Input", run.Input),
		renderField("Status", colorStatus(run.Status, colorize)),
		renderField("Stage", fmt.Sprintf("%d/%d", run.CurrentStage, run.StageCount)),
	}
	if run.Owner != "" {
		lines = append(lines, renderField("Owner", run.Owner))
	}
	if run.Progress.Stage != "" {
		progress := fmt.Sprintf("%s %.0f%%", run.Progress.Stage, run.Progress.Percent)
		if run.Progress.Message != "" {
			progress += " " + run.Progress.Message
		}
		lines = append(lines, renderField("Progress", progress))
	}
	lines = append(lines, renderField("Created", run.CreatedAt), renderField("Updated", run.UpdatedAt))
	if run.CompletedAt != "" {
		lines = append(lines, renderField("Completed", run.CompletedAt))
	}
	if run.LastHeartbeat != "" {
		lines = append(lines, renderField("Last heartbeat", run.LastHeartbeat))
	}
	if f := run.Failure; f != nil {
		detail := fmt.Sprintf("%s at %s: %s", f.Kind, f.Stage, f.Message)
		if f.RootKind != "" && f.RootKind != f.Kind {
			detail += fmt.Sprintf(" (root %s)", f.RootKind)
		}
		lines = append(lines, renderStatusLine("Failure", statusError, detail, colorize))
	}
	printSection(out, "Run", colorize, lines)

	if len(run.Results) == 0 {
		return
	}
	for _, line := range renderSectionHeader("Stage Results", colorize) {
		fmt.Fprintln(out, line)
	}
	rows := make([][]string, 0, len(run.Results))
	for _, result := range run.Results {
		rows = append(rows, []string{
			strconv.Itoa(result.Index),
			result.Name,
			strconv.Itoa(result.Attempts),
			result.CompletedAt,
		})
	}
	fmt.Fprint(out, renderTable(
		[]string{"#", "Stage", "Attempts", "Completed"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft},
	))
}
