package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"pubpipe/internal/api"
	"pubpipe/internal/daemon"
	"pubpipe/internal/database"
	"pubpipe/internal/stage"
	"pubpipe/internal/status"
)

const cliTimeFormat = "2006-01-02 15:04:05"

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <release-version-id>",
		Short: "Show the latest publishing attempt of a release version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseReleaseVersionID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStorage(cmd, func(storage *daemon.Storage) error {
				att, err := storage.Attempts.GetLatest(cmd.Context(), id)
				if err != nil {
					return err
				}
				if att == nil {
					return fmt.Errorf("no publishing attempt for release version %s", id)
				}
				if asJSON {
					return writeJSON(cmd, api.AttemptResponse{Attempt: api.FromAttempt(att)})
				}
				renderAttempt(cmd.OutOrStdout(), att)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history <release-version-id>",
		Short: "List every publishing attempt of a release version, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseReleaseVersionID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStorage(cmd, func(storage *daemon.Storage) error {
				attempts, err := storage.Attempts.History(cmd.Context(), id)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.AttemptListResponse{Attempts: api.FromAttempts(attempts)})
				}
				out := cmd.OutOrStdout()
				if len(attempts) == 0 {
					fmt.Fprintf(out, "No publishing attempts for release version %s\n", id)
					return nil
				}
				rows := make([][]string, 0, len(attempts))
				for _, att := range sortNewestFirst(attempts) {
					row := []string{att.AttemptID.String(), formatCLITime(att.CreatedAt), att.Overall.Label()}
					for _, s := range stage.All {
						row = append(row, att.Stage(s).State.Label())
					}
					rows = append(rows, append(row, yesNo(att.EventRaised)))
				}
				fmt.Fprintln(out, renderTable([]column{
					{header: "Attempt"},
					{header: "Created"},
					{header: "Overall"},
					{header: "Content"},
					{header: "Files"},
					{header: "Publishing"},
					{header: "Event"},
				}, rows))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newDueCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "due",
		Short: "List open attempts the batch driver would advance today",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStorage(cmd, func(storage *daemon.Storage) error {
				attempts, err := storage.Attempts.DueToday(cmd.Context(), time.Now())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.AttemptListResponse{Attempts: api.FromAttempts(attempts)})
				}
				out := cmd.OutOrStdout()
				if len(attempts) == 0 {
					fmt.Fprintln(out, "No attempts due")
					return nil
				}
				rows := make([][]string, 0, len(attempts))
				for _, att := range attempts {
					next := "-"
					if s, ok := att.NextIncomplete(); ok {
						next = fmt.Sprintf("%s (%s)", s, att.Stage(s).State.Label())
					}
					rows = append(rows, []string{
						att.ReleaseVersionID.String(),
						att.AttemptID.String(),
						timing(att),
						att.Overall.Label(),
						next,
					})
				}
				fmt.Fprintln(out, renderTable([]column{
					{header: "Release version"},
					{header: "Attempt"},
					{header: "Timing"},
					{header: "Overall"},
					{header: "Next stage"},
				}, rows))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func renderAttempt(out io.Writer, att *status.Attempt) {
	fmt.Fprintf(out, "Release version: %s\n", att.ReleaseVersionID)
	fmt.Fprintf(out, "Attempt:         %s\n", att.AttemptID)
	fmt.Fprintf(out, "Overall:         %s\n", att.Overall.Label())
	fmt.Fprintf(out, "Timing:          %s\n", timing(att))
	fmt.Fprintf(out, "Event raised:    %s\n", yesNo(att.EventRaised))
	fmt.Fprintf(out, "Created:         %s\n", formatCLITime(att.CreatedAt))
	fmt.Fprintln(out)

	stageRows := make([][]string, 0, len(stage.All))
	for _, s := range stage.All {
		st := att.Stage(s)
		started := "-"
		if st.StartedAt != nil {
			started = formatCLITime(*st.StartedAt)
		}
		stageRows = append(stageRows, []string{string(s), st.State.Label(), strconv.Itoa(st.Retries), started})
	}
	fmt.Fprintln(out, renderTable([]column{
		{header: "Stage"},
		{header: "State"},
		{header: "Retries", align: alignRight},
		{header: "Started"},
	}, stageRows))

	if len(att.Log) == 0 {
		return
	}
	logRows := make([][]string, 0, len(att.Log))
	for _, entry := range att.Log {
		logRows = append(logRows, []string{formatCLITime(entry.Timestamp), string(entry.Stage), entry.Message})
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderTable([]column{
		{header: "Time"},
		{header: "Stage"},
		{header: "Message", maxWidth: 80},
	}, logRows))
}

func timing(att *status.Attempt) string {
	if att.Immediate {
		return "immediate"
	}
	if att.PublishOn != nil {
		return "on " + att.PublishOn.Format(database.DateLayout)
	}
	return "-"
}

func formatCLITime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(cliTimeFormat)
}

func sortNewestFirst(attempts []*status.Attempt) []*status.Attempt {
	out := slices.Clone(attempts)
	slices.SortStableFunc(out, func(a, b *status.Attempt) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}
