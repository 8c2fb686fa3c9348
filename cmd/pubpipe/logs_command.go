package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"pubpipe/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var releaseVersion string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var contains []string
			if releaseVersion != "" {
				id, err := parseReleaseVersionID(releaseVersion)
				if err != nil {
					return err
				}
				contains = append(contains, id.String())
			}

			path := filepath.Join(cfg.Paths.LogDir, "pubpipe.log")
			result, err := logs.Tail(path, logs.TailOptions{Limit: lines, Contains: contains})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, line := range result.Lines {
				fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}
			return logs.Follow(cmd.Context(), path, result.Offset, 0, contains, func(line string) {
				fmt.Fprintln(out, line)
			})
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().StringVar(&releaseVersion, "release-version", "", "Only show lines for this release version id")
	return cmd
}
