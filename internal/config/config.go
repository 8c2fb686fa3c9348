package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	LockDir string `toml:"lock_dir"`
}

// Store selects the durable backend for publishing attempts and the release catalog.
type Store struct {
	Driver            string `toml:"driver"`
	Path              string `toml:"path"`
	DSN               string `toml:"dsn"`
	MaxOpenConns      int    `toml:"max_open_conns"`
	BusyTimeoutMillis int    `toml:"busy_timeout_ms"`
	MaxRetries        int    `toml:"max_retries"`
}

// Queue selects the stage message transport.
type Queue struct {
	Backend string   `toml:"backend"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
	Group   string   `toml:"group"`
}

// Pipeline contains worker concurrency, retry, and timeout settings.
type Pipeline struct {
	Workers             int `toml:"workers"`
	MaxRetries          int `toml:"max_retries"`
	BackoffBaseSeconds  int `toml:"backoff_base_seconds"`
	BackoffMaxSeconds   int `toml:"backoff_max_seconds"`
	StageTimeoutSeconds int `toml:"stage_timeout_seconds"`
}

// Scheduler contains the batch driver settings.
type Scheduler struct {
	IntervalSeconds   int    `toml:"interval_seconds"`
	SweepGraceSeconds int    `toml:"sweep_grace_seconds"`
	Guard             string `toml:"guard"`
	RedisAddr         string `toml:"redis_addr"`
	LockTTLSeconds    int    `toml:"lock_ttl_seconds"`
}

// ContentCache configures the public content cache collaborator.
type ContentCache struct {
	Backend   string `toml:"backend"`
	RedisAddr string `toml:"redis_addr"`
	KeyPrefix string `toml:"key_prefix"`
	TTLHours  int    `toml:"ttl_hours"`
}

// Files configures the file storage collaborator.
type Files struct {
	Backend         string `toml:"backend"`
	StagingDir      string `toml:"staging_dir"`
	PublicDir       string `toml:"public_dir"`
	Bucket          string `toml:"bucket"`
	StagingPrefix   string `toml:"staging_prefix"`
	PublicPrefix    string `toml:"public_prefix"`
	CredentialsJSON string `toml:"credentials_json"`
}

// DataSets configures the data-set publishing collaborator.
type DataSets struct {
	BaseURL        string `toml:"base_url"`
	APIToken       string `toml:"api_token"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Events configures the outbound domain event bus.
type Events struct {
	Backend         string `toml:"backend"`
	ProjectID       string `toml:"project_id"`
	Topic           string `toml:"topic"`
	CredentialsJSON string `toml:"credentials_json"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Published      bool   `toml:"published"`
	Archived       bool   `toml:"archived"`
	Failures       bool   `toml:"failures"`
}

// API contains the status HTTP server settings.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the publishing pipeline.
//
// Configuration sections by subsystem:
//   - Paths: data, log, and lock directories
//   - Store: sqlite or postgres backend for attempts and the release catalog
//   - Queue: in-process or Kafka stage message transport
//   - Pipeline: worker count, retry bound, backoff, stage timeout
//   - Scheduler: batch driver interval, timeout sweep, and driver guard
//   - ContentCache, Files, DataSets: external collaborators
//   - Events, Notifications: outbound events and subscriber pushes
//   - API: status HTTP server
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Store         Store         `toml:"store"`
	Queue         Queue         `toml:"queue"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Scheduler     Scheduler     `toml:"scheduler"`
	ContentCache  ContentCache  `toml:"content_cache"`
	Files         Files         `toml:"files"`
	DataSets      DataSets      `toml:"data_sets"`
	Events        Events        `toml:"events"`
	Notifications Notifications `toml:"notifications"`
	API           API           `toml:"api"`
	Logging       Logging       `toml:"logging"`
}

// envOverrides holds secrets and deployment endpoints that are normally
// supplied through PUBPIPE_* environment variables rather than the file.
type envOverrides struct {
	StoreDSN              string   `envconfig:"STORE_DSN"`
	QueueBrokers          []string `split_words:"true"`
	RedisAddr             string   `split_words:"true"`
	DataSetsToken         string   `envconfig:"DATASETS_TOKEN"`
	GCSCredentialsJSON    string   `envconfig:"GCS_CREDENTIALS_JSON"`
	PubSubCredentialsJSON string   `envconfig:"PUBSUB_CREDENTIALS_JSON"`
	NtfyTopic             string   `split_words:"true"`
	APIToken              string   `envconfig:"API_TOKEN"`
	LogLevel              string   `split_words:"true"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/pubpipe/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and environment overrides applied.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process("pubpipe", &env); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	if env.StoreDSN != "" {
		c.Store.DSN = env.StoreDSN
	}
	if len(env.QueueBrokers) > 0 {
		c.Queue.Brokers = env.QueueBrokers
	}
	if env.RedisAddr != "" {
		c.Scheduler.RedisAddr = env.RedisAddr
		c.ContentCache.RedisAddr = env.RedisAddr
	}
	if env.DataSetsToken != "" {
		c.DataSets.APIToken = env.DataSetsToken
	}
	if env.GCSCredentialsJSON != "" {
		c.Files.CredentialsJSON = env.GCSCredentialsJSON
	}
	if env.PubSubCredentialsJSON != "" {
		c.Events.CredentialsJSON = env.PubSubCredentialsJSON
	}
	if env.NtfyTopic != "" {
		c.Notifications.NtfyTopic = env.NtfyTopic
	}
	if env.APIToken != "" {
		c.API.Token = env.APIToken
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("pubpipe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.LockDir}
	if c.Files.Backend == FilesBackendLocal {
		dirs = append(dirs, c.Files.StagingDir, c.Files.PublicDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StageTimeout returns the per-operation bound on stage work.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.Pipeline.StageTimeoutSeconds) * time.Second
}

// BackoffBase returns the initial retry delay.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Pipeline.BackoffBaseSeconds) * time.Second
}

// BackoffMax returns the retry delay cap.
func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.Pipeline.BackoffMaxSeconds) * time.Second
}

// SchedulerInterval returns the batch driver tick.
func (c *Config) SchedulerInterval() time.Duration {
	return time.Duration(c.Scheduler.IntervalSeconds) * time.Second
}

// SweepGrace returns how long a stage may stay started before it is re-enqueued.
func (c *Config) SweepGrace() time.Duration {
	return time.Duration(c.Scheduler.SweepGraceSeconds) * time.Second
}

// DaemonLockPath returns the single-instance lock file used by the daemon.
func (c *Config) DaemonLockPath() string {
	return filepath.Join(c.Paths.LockDir, "pubpipe.lock")
}

// SchedulerLockPath returns the file guarding batch driver ticks.
func (c *Config) SchedulerLockPath() string {
	return filepath.Join(c.Paths.LockDir, "scheduler.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
