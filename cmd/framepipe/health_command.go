package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"framepipe/internal/ipc"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Run readiness checks inside the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := ctx.format()
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Health()
				if err != nil {
					return err
				}
				failed := 0
				for _, check := range resp.Checks {
					if !check.Passed {
						failed++
					}
				}
				if handled, err := writeStructured(cmd, format, resp); handled {
					if err != nil {
						return err
					}
					return healthError(failed)
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				lines := make([]string, 0, len(resp.Checks))
				for _, check := range resp.Checks {
					kind := statusOK
					if !check.Passed {
						kind = statusError
					}
					lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
				}
				printSection(out, "Readiness", colorize, lines)
				return healthError(failed)
			})
		},
	}
}

func healthError(failed int) error {
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%d readiness check(s) failed", failed)
}
