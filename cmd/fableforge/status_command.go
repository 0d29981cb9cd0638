package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			addr := ctx.apiAddr()
			fmt.Fprintln(out, renderStatusLine("API address", statusInfo, addr, colorize))

			var health struct {
				Status string `json:"status"`
			}
			if err := ctx.client().get(cmd.Context(), "/health", &health); err != nil {
				fmt.Fprintln(out, renderStatusLine("Daemon", statusError, err.Error(), colorize))
				return fmt.Errorf("daemon unreachable at %s", addr)
			}
			fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, "running", colorize))

			cfg, err := ctx.ensureConfig()
			if err == nil && cfg != nil {
				fmt.Fprintln(out, renderStatusLine("Worker URL", statusInfo, cfg.Worker.URL, colorize))
				if cfg.Notifications.PushURL == "" {
					fmt.Fprintln(out, renderStatusLine("Push mirror", statusWarn, "disabled", colorize))
				} else {
					fmt.Fprintln(out, renderStatusLine("Push mirror", statusOK, cfg.Notifications.PushURL, colorize))
				}
			}
			return nil
		},
	}
}
