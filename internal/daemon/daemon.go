package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"pubpipe/internal/api"
	"pubpipe/internal/config"
	"pubpipe/internal/events"
	"pubpipe/internal/logging"
	"pubpipe/internal/metrics"
	"pubpipe/internal/notifications"
	"pubpipe/internal/pipeline"
	"pubpipe/internal/preflight"
	"pubpipe/internal/queue"
	"pubpipe/internal/scheduler"
	"pubpipe/internal/services/contentcache"
	"pubpipe/internal/services/datasets"
	"pubpipe/internal/services/filestore"
	"pubpipe/internal/stage"
	"pubpipe/internal/status"
)

// Daemon wires the publishing pipeline and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	storage *Storage
	queue   queue.Queue

	registry *prometheus.Registry
	notifier notifications.Service
	trigger  *pipeline.Trigger
	worker   *pipeline.Worker
	runner   *scheduler.Runner
	server   *api.Server
	checks   []stage.HealthChecker

	lockPath string
	lock     *flock.Flock
	closers  []func() error

	stages stage.Table
	raiser events.Raiser

	running atomic.Bool
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	LockFilePath string
	StoreDriver  string
	QueueBackend string
	Workers      int
	Health       []stage.Health
}

// Option customizes daemon construction.
type Option func(*Daemon)

// WithStageTable replaces the collaborator-backed stage functions.
func WithStageTable(table stage.Table) Option {
	return func(d *Daemon) { d.stages = table }
}

// WithEventRaiser replaces the configured domain event bus.
func WithEventRaiser(raiser events.Raiser) Option {
	return func(d *Daemon) { d.raiser = raiser }
}

// New constructs a daemon with initialized dependencies. Call Close to
// release them.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: cfg.DaemonLockPath(),
		lock:     flock.New(cfg.DaemonLockPath()),
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.build(ctx, logger); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) build(ctx context.Context, logger *slog.Logger) error {
	cfg := d.cfg
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	storage, err := OpenStorage(ctx, cfg, status.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	d.storage = storage
	d.closers = append(d.closers, storage.Close)

	q, err := queue.Open(cfg, logger)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	d.queue = q
	d.closers = append(d.closers, q.Close)

	d.registry = prometheus.NewRegistry()
	d.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewPromMetrics(d.registry)

	if d.stages == nil {
		cache, closeCache := contentcache.NewConfiguredService(cfg)
		d.closers = append(d.closers, closeCache)
		files, closeFiles, err := filestore.NewConfiguredService(ctx, cfg)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, closeFiles)
		d.stages = pipeline.NewStageTable(pipeline.Collaborators{
			Catalog:  storage.Catalog,
			Cache:    cache,
			Files:    files,
			DataSets: datasets.NewConfiguredPublisher(cfg),
			Logger:   logger,
		})
	}
	if d.raiser == nil {
		raiser, err := events.NewConfiguredRaiser(ctx, cfg, logger)
		if err != nil {
			return err
		}
		d.raiser = raiser
		d.closers = append(d.closers, raiser.Close)
	}

	d.notifier = notifications.NewService(cfg)
	eventNotifier := pipeline.NewEventNotifier(storage.Catalog, d.raiser, d.notifier, m, logger)
	coordinator := pipeline.NewCoordinator(storage.Attempts, eventNotifier, m, logger)
	dispatcher := pipeline.NewDispatcher(storage.Attempts, q, coordinator, m, logger)
	d.trigger = pipeline.NewTrigger(storage.Catalog, storage.Attempts, dispatcher, logger)

	d.worker, err = pipeline.NewWorker(pipeline.WorkerOptions{
		Store:        storage.Attempts,
		Queue:        q,
		Stages:       d.stages,
		Coordinator:  coordinator,
		Notifier:     d.notifier,
		Metrics:      m,
		Logger:       logger,
		MaxRetries:   cfg.Pipeline.MaxRetries,
		StageTimeout: cfg.StageTimeout(),
		BackoffBase:  cfg.BackoffBase(),
		BackoffMax:   cfg.BackoffMax(),
	})
	if err != nil {
		return err
	}

	guard, closeGuard, err := scheduler.NewConfiguredGuard(cfg)
	if err != nil {
		return err
	}
	d.closers = append(d.closers, closeGuard)
	d.runner, err = scheduler.NewRunner(scheduler.Options{
		Store:        storage.Attempts,
		Dispatcher:   dispatcher,
		Guard:        guard,
		Metrics:      m,
		Logger:       logger,
		Interval:     cfg.SchedulerInterval(),
		SweepGrace:   cfg.SweepGrace(),
		RequeueAfter: cfg.SweepGrace() + cfg.BackoffMax(),
	})
	if err != nil {
		return err
	}

	d.checks = []stage.HealthChecker{storage.DB}
	for _, check := range preflight.Checks(cfg) {
		d.checks = append(d.checks, check)
	}
	router := api.NewRouter(api.Options{
		Attempts: storage.Attempts,
		Gatherer: d.registry,
		Checks:   d.checks,
		Token:    cfg.API.Token,
		Logger:   logger,
	})
	d.server = api.NewServer(cfg.API.Bind, router, logger)
	return nil
}

// Run acquires the daemon lock and runs the stage workers, the batch driver,
// and the status API until ctx is cancelled or one of them fails.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("daemon already running")
	}
	defer d.running.Store(false)

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another pubpipe daemon instance is already running")
	}
	defer func() {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release daemon lock", logging.Error(err))
		}
	}()

	d.logger.Info("pubpipe daemon started",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.String("lock", d.lockPath),
		logging.Int("workers", d.cfg.Pipeline.Workers),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return d.worker.Run(groupCtx, d.cfg.Pipeline.Workers)
	})
	group.Go(func() error {
		return d.runner.Run(groupCtx)
	})
	group.Go(func() error {
		return d.server.Serve(groupCtx)
	})
	err = group.Wait()

	d.logger.Info("pubpipe daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
	return err
}

// Approve forwards an approval to the trigger.
func (d *Daemon) Approve(ctx context.Context, req pipeline.ApproveRequest) (*status.Attempt, error) {
	return d.trigger.Approve(ctx, req)
}

// Attempts exposes the status store for read-only callers.
func (d *Daemon) Attempts() *status.Store {
	return d.storage.Attempts
}

// Registry returns the metrics registry served on /metrics.
func (d *Daemon) Registry() *prometheus.Registry {
	return d.registry
}

// TestNotification sends a test notification using the configured notifier.
func (d *Daemon) TestNotification(ctx context.Context) error {
	return d.notifier.Publish(ctx, notifications.EventTest, nil)
}

// Status reports runtime state and collaborator health.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		LockFilePath: d.lockPath,
		StoreDriver:  d.cfg.Store.Driver,
		QueueBackend: d.cfg.Queue.Backend,
		Workers:      d.cfg.Pipeline.Workers,
		Health:       stage.CheckAll(ctx, d.checks),
	}
}

// Close releases resources held by the daemon, newest first.
func (d *Daemon) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
