package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"pubpipe/internal/config"
	"pubpipe/internal/daemon"
	"pubpipe/internal/logging"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the pubpipe daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logPath := filepath.Join(cfg.Paths.LogDir, "pubpipe.log")
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logConfigSnapshot(logger, cfg)
	pidPath := PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	d, err := daemon.New(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check configuration and store access"),
		)
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Run(signalCtx); err != nil {
		return err
	}
	logger.Info("pubpipe daemon shutting down")
	return nil
}

// PIDPath returns the pid file written by a running daemon.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LockDir, "pubpipe.pid")
}

// ReadPID returns the pid recorded by a running daemon, or 0 when none is.
func ReadPID(cfg *config.Config) int {
	data, err := os.ReadFile(PIDPath(cfg))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("store_driver", cfg.Store.Driver),
		logging.String("queue_backend", cfg.Queue.Backend),
		logging.Int("workers", cfg.Pipeline.Workers),
		logging.Int("max_retries", cfg.Pipeline.MaxRetries),
		logging.Duration("stage_timeout", cfg.StageTimeout()),
		logging.Duration("scheduler_interval", cfg.SchedulerInterval()),
		logging.Duration("sweep_grace", cfg.SweepGrace()),
		logging.String("scheduler_guard", cfg.Scheduler.Guard),
		logging.String("content_cache", cfg.ContentCache.Backend),
		logging.String("files_backend", cfg.Files.Backend),
		logging.String("events_backend", cfg.Events.Backend),
		logging.Bool("data_sets_configured", cfg.DataSets.BaseURL != ""),
		logging.Bool("ntfy_configured", cfg.Notifications.NtfyTopic != ""),
		logging.Bool("api_token_set", cfg.API.Token != ""),
		logging.String("api_bind", cfg.API.Bind),
	)
}
