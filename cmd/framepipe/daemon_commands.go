package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"framepipe/internal/api"
	"framepipe/internal/config"
	"framepipe/internal/daemonctl"
	"framepipe/internal/daemonrun"
	"framepipe/internal/ipc"
	"framepipe/internal/preflight"
	"framepipe/internal/runstore"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the framepipe daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.EnsureStarted(
				ctx.socketPath(),
				exe,
				daemonLaunchOptions(ctx),
				10*time.Second,
			)
			if err != nil {
				return err
			}

			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the framepipe daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			cfg := ctx.configValue()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), cfg, stopGracePeriod(cfg))
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(stdout, "Daemon did not exit in time; killed pid %d\n", result.PID)
				return nil
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the framepipe daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			cfg := ctx.configValue()
			result, err := daemonctl.Restart(
				ctx.socketPath(),
				cfg,
				exe,
				daemonLaunchOptions(ctx),
				stopGracePeriod(cfg),
				10*time.Second,
			)
			if err != nil {
				return err
			}
			if result.WasRunning {
				fmt.Fprintln(stdout, "Daemon stopped")
			}
			fmt.Fprintf(stdout, "Daemon restarted (pid %d)\n", result.Start.PID)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show daemon status, or the lifecycle state of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := ctx.format()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				return printRunStatus(cmd, ctx, format, strings.TrimSpace(args[0]))
			}
			status := buildStatusSnapshot(cmd.Context(), ctx)
			if handled, err := writeStructured(cmd, format, status); handled {
				return err
			}
			renderDaemonStatus(cmd.OutOrStdout(), ctx.configValue(), status, shouldColorize(cmd.OutOrStdout()))
			return nil
		},
	}

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

func printRunStatus(cmd *cobra.Command, ctx *commandContext, format outputFormat, id string) error {
	return ctx.withClient(func(client *ipc.Client) error {
		resp, err := client.Status(id)
		if err != nil {
			return err
		}
		if handled, err := writeStructured(cmd, format, resp); handled {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", colorStatus(resp.Status, shouldColorize(cmd.OutOrStdout())))
		return nil
	})
}

// buildStatusSnapshot asks the daemon for its status, falling back to reading
// the run store directly when the daemon is not running.
func buildStatusSnapshot(cmdCtx context.Context, ctx *commandContext) api.DaemonStatus {
	if client, err := ipc.Dial(ctx.socketPath()); err == nil {
		defer client.Close()
		if resp, statusErr := client.DaemonStatus(); statusErr == nil && resp != nil {
			return *resp
		}
	}

	cfg := ctx.configValue()
	status := api.DaemonStatus{}
	if cfg == nil {
		return status
	}
	status.StoreBackend = cfg.Store.Backend
	status.LockFilePath = cfg.LockPath()
	status.Dependencies = api.FromDependencies(preflight.CheckSystemDeps(cfg))
	status.Workflow.RunStats = api.MergeRunStats(nil)

	queryCtx, cancel := context.WithTimeout(cmdCtx, 2*time.Second)
	defer cancel()
	store, err := daemonrun.OpenStore(queryCtx, cfg)
	if err != nil {
		return status
	}
	defer store.Close()
	if stats, err := store.Stats(queryCtx); err == nil {
		status.Workflow.RunStats = api.MergeRunStats(stats)
	}
	return status
}

func renderDaemonStatus(out io.Writer, cfg *config.Config, status api.DaemonStatus, colorize bool) {
	system := make([]string, 0, 5)
	if status.Running {
		system = append(system, renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
	} else {
		system = append(system, renderStatusLine("Daemon", statusError, "Not running", colorize))
	}
	if status.Workflow.Owner != "" {
		system = append(system, renderField("Owner", status.Workflow.Owner))
	}
	store := status.StoreBackend
	if status.StorePath != "" {
		store = fmt.Sprintf("%s (%s)", store, status.StorePath)
	}
	system = append(system, renderField("Run store", store))
	if cfg != nil {
		bind := cfg.Paths.APIBind
		if bind == "" {
			bind = "disabled"
		}
		system = append(system, renderField("HTTP API", bind))
		system = append(system, renderField("API token", yesNo(cfg.Paths.APIToken != "")))
	}
	if status.Workflow.LastError != "" {
		system = append(system, renderStatusLine("Last error", statusWarn, status.Workflow.LastError, colorize))
	}
	printSection(out, "System Status", colorize, system)

	printSection(out, "Dependencies", colorize, dependencyLines(status.Dependencies, colorize))

	if len(status.Workflow.StageHealth) > 0 {
		lines := make([]string, 0, len(status.Workflow.StageHealth))
		for _, stage := range status.Workflow.StageHealth {
			kind := statusOK
			if !stage.Ready {
				kind = statusError
			}
			lines = append(lines, renderStatusLine(stage.Name, kind, stage.Detail, colorize))
		}
		printSection(out, "Stages", colorize, lines)
	}

	for _, line := range renderSectionHeader("Runs", colorize) {
		fmt.Fprintln(out, line)
	}
	rows := buildRunStatsRows(status.Workflow.RunStats)
	if len(rows) == 0 {
		fmt.Fprintln(out, "No runs")
		return
	}
	fmt.Fprint(out, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
}

func buildRunStatsRows(stats map[string]int) [][]string {
	rows := make([][]string, 0, len(stats))
	for _, status := range runstore.AllStatuses() {
		count := stats[string(status)]
		if count == 0 {
			continue
		}
		rows = append(rows, []string{displayStatus(string(status)), fmt.Sprintf("%d", count)})
	}
	return rows
}

func stopGracePeriod(cfg *config.Config) time.Duration {
	grace := 10 * time.Second
	if cfg != nil {
		if g := cfg.CancelGracePeriod() + 5*time.Second; g > grace {
			grace = g
		}
	}
	return grace
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext) daemonctl.LaunchOptions {
	opts := daemonctl.LaunchOptions{ConfigPath: ctx.configPath()}
	if ctx.socketFlag != nil {
		opts.SocketPath = strings.TrimSpace(*ctx.socketFlag)
	}
	return opts
}
