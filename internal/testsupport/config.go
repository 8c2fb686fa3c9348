package testsupport

import (
	"path/filepath"
	"testing"

	"pubpipe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Retry backoff is zeroed so redelivery happens immediately.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.LockDir = filepath.Join(base, "run")
	cfgVal.Store.Path = filepath.Join(base, "data", "pubpipe.db")
	cfgVal.Files.StagingDir = filepath.Join(base, "files", "staging")
	cfgVal.Files.PublicDir = filepath.Join(base, "files", "public")
	cfgVal.Pipeline.BackoffBaseSeconds = 0
	cfgVal.Pipeline.BackoffMaxSeconds = 0
	cfgVal.Pipeline.StageTimeoutSeconds = 5
	cfgVal.Scheduler.SweepGraceSeconds = 60
	cfgVal.API.Bind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithMaxRetries overrides the stage retry bound.
func WithMaxRetries(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.MaxRetries = n
	}
}

// WithWorkers overrides the number of queue consumers.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Workers = n
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
