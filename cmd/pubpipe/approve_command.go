package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"pubpipe/internal/api"
	"pubpipe/internal/catalog"
	"pubpipe/internal/config"
	"pubpipe/internal/daemon"
	"pubpipe/internal/database"
	"pubpipe/internal/pipeline"
	"pubpipe/internal/queue"
	"pubpipe/internal/stage"
)

type approveOptions struct {
	publicationID         string
	publicationSlug       string
	releaseSlug           string
	immediate             bool
	publishOn             string
	previousVersion       string
	supersedesPublication string
	supersedesSlug        string
	dataSets              []string
	json                  bool
}

func newApproveCommand(ctx *commandContext) *cobra.Command {
	var opts approveOptions

	cmd := &cobra.Command{
		Use:   "approve <release-version-id>",
		Short: "Approve a release version for publication",
		Long: "Approve a release version for publication immediately or on a calendar date.\n" +
			"Approving again starts a new attempt and supersedes any open one.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := opts.request(args[0])
			if err != nil {
				return err
			}
			return ctx.withStorage(cmd, func(storage *daemon.Storage) error {
				cfg, err := ctx.ensureConfig()
				if err != nil {
					return err
				}
				trigger, closeTrigger, err := newCLITrigger(ctx, cfg, storage)
				if err != nil {
					return err
				}
				defer closeTrigger()

				att, err := trigger.Approve(cmd.Context(), req)
				if err != nil {
					return err
				}
				if opts.json {
					return writeJSON(cmd, api.AttemptResponse{Attempt: api.FromAttempt(att)})
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Approved release version %s\n", att.ReleaseVersionID)
				fmt.Fprintf(out, "Attempt %s (%s)\n", att.AttemptID, att.Overall.Label())
				switch {
				case att.Stage(stage.Content).State == stage.Scheduled:
					fmt.Fprintln(out, "Content stage scheduled")
				case req.Immediate || req.PublishOn.Format(database.DateLayout) <= time.Now().Format(database.DateLayout):
					fmt.Fprintln(out, "The daemon schedules the Content stage on its next tick")
				default:
					fmt.Fprintf(out, "Publishing is scheduled for %s\n", req.PublishOn.Format(database.DateLayout))
				}
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.publicationID, "publication-id", "", "Publication id (uuid)")
	flags.StringVar(&opts.publicationSlug, "publication-slug", "", "Publication slug")
	flags.StringVar(&opts.releaseSlug, "slug", "", "Release slug")
	flags.BoolVar(&opts.immediate, "immediate", false, "Publish as soon as possible")
	flags.StringVar(&opts.publishOn, "publish-on", "", "Publish on this date (YYYY-MM-DD)")
	flags.StringVar(&opts.previousVersion, "previous-version", "", "Release version id whose public files are replaced")
	flags.StringVar(&opts.supersedesPublication, "supersedes-publication", "", "Publication id archived once this version is live")
	flags.StringVar(&opts.supersedesSlug, "supersedes-slug", "", "Slug of the superseded publication")
	flags.StringSliceVar(&opts.dataSets, "data-set", nil, "Data set version id to publish (repeatable)")
	flags.BoolVar(&opts.json, "json", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("publication-id")
	_ = cmd.MarkFlagRequired("publication-slug")
	_ = cmd.MarkFlagRequired("slug")
	cmd.MarkFlagsMutuallyExclusive("immediate", "publish-on")
	cmd.MarkFlagsOneRequired("immediate", "publish-on")
	return cmd
}

func (o approveOptions) request(idArg string) (pipeline.ApproveRequest, error) {
	var req pipeline.ApproveRequest
	id, err := parseReleaseVersionID(idArg)
	if err != nil {
		return req, err
	}
	publicationID, err := uuid.Parse(strings.TrimSpace(o.publicationID))
	if err != nil {
		return req, fmt.Errorf("invalid --publication-id %q", o.publicationID)
	}
	rv := catalog.ReleaseVersion{
		ID:              id,
		PublicationID:   publicationID,
		PublicationSlug: strings.TrimSpace(o.publicationSlug),
		ReleaseSlug:     strings.TrimSpace(o.releaseSlug),
	}
	if rv.PreviousVersionID, err = optionalID("--previous-version", o.previousVersion); err != nil {
		return req, err
	}
	if rv.SupersedesPublicationID, err = optionalID("--supersedes-publication", o.supersedesPublication); err != nil {
		return req, err
	}
	rv.SupersedesPublicationSlug = strings.TrimSpace(o.supersedesSlug)
	for _, raw := range o.dataSets {
		dsID, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			return req, fmt.Errorf("invalid --data-set %q", raw)
		}
		rv.DataSetVersionIDs = append(rv.DataSetVersionIDs, dsID)
	}

	req.ReleaseVersion = rv
	req.Immediate = o.immediate
	if value := strings.TrimSpace(o.publishOn); value != "" {
		date, err := time.ParseInLocation(database.DateLayout, value, time.Local)
		if err != nil {
			return req, fmt.Errorf("invalid --publish-on %q (want YYYY-MM-DD)", o.publishOn)
		}
		req.PublishOn = &date
	}
	return req, nil
}

func optionalID(flag, value string) (*uuid.UUID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", flag, value)
	}
	return &id, nil
}

// newCLITrigger dispatches the Content stage itself only when the queue is
// shared with the daemon. With the in-process queue the daemon's batch
// driver picks the attempt up instead.
func newCLITrigger(ctx *commandContext, cfg *config.Config, storage *daemon.Storage) (*pipeline.Trigger, func() error, error) {
	logger := ctx.logger()
	if cfg.Queue.Backend != config.QueueBackendKafka {
		return pipeline.NewTrigger(storage.Catalog, storage.Attempts, nil, logger), func() error { return nil }, nil
	}
	q, err := queue.Open(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open queue: %w", err)
	}
	notifier := pipeline.NewEventNotifier(storage.Catalog, nil, nil, nil, logger)
	coordinator := pipeline.NewCoordinator(storage.Attempts, notifier, nil, logger)
	dispatcher := pipeline.NewDispatcher(storage.Attempts, q, coordinator, nil, logger)
	return pipeline.NewTrigger(storage.Catalog, storage.Attempts, dispatcher, logger), q.Close, nil
}
