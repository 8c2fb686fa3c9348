package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateCollaborators(); err != nil {
		return err
	}
	if err := c.validateEvents(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case StoreDriverSQLite:
		if c.Store.Path == "" {
			return errors.New("store.path must be set for the sqlite driver")
		}
	case StoreDriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres driver (or set PUBPIPE_STORE_DSN)")
		}
	default:
		return fmt.Errorf("store.driver: unsupported value %q", c.Store.Driver)
	}
	if c.Store.MaxRetries < 0 {
		return errors.New("store.max_retries must be >= 0")
	}
	return nil
}

func (c *Config) validateQueue() error {
	switch c.Queue.Backend {
	case QueueBackendMemory:
		return nil
	case QueueBackendKafka:
		if len(c.Queue.Brokers) == 0 {
			return errors.New("queue.brokers is required for the kafka backend")
		}
		if c.Queue.Topic == "" || c.Queue.Group == "" {
			return errors.New("queue.topic and queue.group are required for the kafka backend")
		}
		return nil
	default:
		return fmt.Errorf("queue.backend: unsupported value %q", c.Queue.Backend)
	}
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.Workers < 1 {
		return errors.New("pipeline.workers must be at least 1")
	}
	if c.Pipeline.MaxRetries < 0 {
		return errors.New("pipeline.max_retries must be >= 0")
	}
	if c.Pipeline.BackoffBaseSeconds < 0 || c.Pipeline.BackoffMaxSeconds < c.Pipeline.BackoffBaseSeconds {
		return errors.New("pipeline.backoff_max_seconds must be >= backoff_base_seconds >= 0")
	}
	if c.Pipeline.StageTimeoutSeconds <= 0 {
		return errors.New("pipeline.stage_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.IntervalSeconds <= 0 {
		return errors.New("scheduler.interval_seconds must be positive")
	}
	if c.Scheduler.SweepGraceSeconds <= c.Pipeline.StageTimeoutSeconds {
		return errors.New("scheduler.sweep_grace_seconds must exceed pipeline.stage_timeout_seconds")
	}
	switch c.Scheduler.Guard {
	case GuardFile:
	case GuardRedis:
		if c.Scheduler.RedisAddr == "" {
			return errors.New("scheduler.redis_addr is required for the redis guard")
		}
		if c.Scheduler.LockTTLSeconds <= 0 {
			return errors.New("scheduler.lock_ttl_seconds must be positive")
		}
	default:
		return fmt.Errorf("scheduler.guard: unsupported value %q", c.Scheduler.Guard)
	}
	return nil
}

func (c *Config) validateCollaborators() error {
	switch c.ContentCache.Backend {
	case ContentCacheNone:
	case ContentCacheRedis:
		if c.ContentCache.RedisAddr == "" {
			return errors.New("content_cache.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("content_cache.backend: unsupported value %q", c.ContentCache.Backend)
	}
	switch c.Files.Backend {
	case FilesBackendLocal:
		if c.Files.StagingDir == "" || c.Files.PublicDir == "" {
			return errors.New("files.staging_dir and files.public_dir are required for the local backend")
		}
	case FilesBackendGCS:
		if c.Files.Bucket == "" {
			return errors.New("files.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("files.backend: unsupported value %q", c.Files.Backend)
	}
	if c.DataSets.RequestTimeout <= 0 {
		return errors.New("data_sets.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateEvents() error {
	switch c.Events.Backend {
	case EventsBackendLog:
	case EventsBackendPubSub:
		if c.Events.ProjectID == "" || c.Events.Topic == "" {
			return errors.New("events.project_id and events.topic are required for the pubsub backend")
		}
	default:
		return fmt.Errorf("events.backend: unsupported value %q", c.Events.Backend)
	}
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
