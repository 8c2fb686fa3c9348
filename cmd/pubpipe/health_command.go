package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pubpipe/internal/daemon"
	"pubpipe/internal/notifications"
	"pubpipe/internal/preflight"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the status store and configured collaborators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withStorage(cmd, func(storage *daemon.Storage) error {
				store := storage.DB.HealthCheck(cmd.Context())
				results := append([]preflight.Result{{Name: store.Name, Passed: store.Ready, Detail: store.Detail}},
					preflight.RunAll(cmd.Context(), cfg)...)

				rows := make([][]string, 0, len(results))
				failed := 0
				for _, r := range results {
					state := "ok"
					if !r.Passed {
						state = "FAIL"
						failed++
					}
					rows = append(rows, []string{r.Name, state, r.Detail})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]column{
					{header: "Check"},
					{header: "Status"},
					{header: "Detail", maxWidth: 80},
				}, rows))
				if failed > 0 {
					return fmt.Errorf("%d of %d checks failed", failed, len(results))
				}
				return nil
			})
		},
	}
}

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification to the configured ntfy topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if cfg.Notifications.NtfyTopic == "" {
				fmt.Fprintln(out, "Notifications are not configured (notifications.ntfy_topic is empty)")
				return nil
			}
			if err := notifications.NewService(cfg).Publish(cmd.Context(), notifications.EventTest, nil); err != nil {
				return fmt.Errorf("send test notification: %w", err)
			}
			fmt.Fprintln(out, "Test notification sent")
			return nil
		},
	}
}
