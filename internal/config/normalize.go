package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStore()
	c.normalizeQueue()
	c.normalizeCollaborators()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LockDir) == "" {
		c.Paths.LockDir = filepath.Join(c.Paths.DataDir, "run")
	}
	if c.Paths.LockDir, err = expandPath(c.Paths.LockDir); err != nil {
		return fmt.Errorf("paths.lock_dir: %w", err)
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		c.Store.Path = filepath.Join(c.Paths.DataDir, defaultStoreFile)
	}
	if c.Store.Path, err = expandPath(c.Store.Path); err != nil {
		return fmt.Errorf("store.path: %w", err)
	}
	if c.Files.StagingDir, err = expandPath(c.Files.StagingDir); err != nil {
		return fmt.Errorf("files.staging_dir: %w", err)
	}
	if c.Files.PublicDir, err = expandPath(c.Files.PublicDir); err != nil {
		return fmt.Errorf("files.public_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeStore() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "postgresql" || c.Store.Driver == "pgx" {
		c.Store.Driver = StoreDriverPostgres
	}
	c.Store.DSN = strings.TrimSpace(c.Store.DSN)
}

func (c *Config) normalizeQueue() {
	c.Queue.Backend = strings.ToLower(strings.TrimSpace(c.Queue.Backend))
	brokers := c.Queue.Brokers[:0]
	for _, b := range c.Queue.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	c.Queue.Brokers = brokers
	c.Queue.Topic = strings.TrimSpace(c.Queue.Topic)
	c.Queue.Group = strings.TrimSpace(c.Queue.Group)
}

func (c *Config) normalizeCollaborators() {
	c.Scheduler.Guard = strings.ToLower(strings.TrimSpace(c.Scheduler.Guard))
	c.ContentCache.Backend = strings.ToLower(strings.TrimSpace(c.ContentCache.Backend))
	c.Files.Backend = strings.ToLower(strings.TrimSpace(c.Files.Backend))
	c.Files.Bucket = strings.TrimSpace(c.Files.Bucket)
	c.Files.StagingPrefix = strings.Trim(strings.TrimSpace(c.Files.StagingPrefix), "/")
	c.Files.PublicPrefix = strings.Trim(strings.TrimSpace(c.Files.PublicPrefix), "/")
	c.DataSets.BaseURL = strings.TrimRight(strings.TrimSpace(c.DataSets.BaseURL), "/")
	c.Events.Backend = strings.ToLower(strings.TrimSpace(c.Events.Backend))
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
