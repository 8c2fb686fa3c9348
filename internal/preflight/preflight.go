package preflight

import (
	"context"

	"pubpipe/internal/config"
	"pubpipe/internal/stage"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Check runs one readiness check.
type Check func(ctx context.Context) Result

// HealthCheck adapts the check to the status API.
func (c Check) HealthCheck(ctx context.Context) stage.Health {
	r := c(ctx)
	return stage.Health{Name: r.Name, Ready: r.Passed, Detail: r.Detail}
}

// Checks returns the checks applicable to cfg.
func Checks(cfg *config.Config) []Check {
	if cfg == nil {
		return nil
	}

	var checks []Check

	if cfg.Files.Backend == config.FilesBackendLocal {
		checks = append(checks,
			func(context.Context) Result { return CheckDirectoryAccess("Staging files", cfg.Files.StagingDir) },
			func(context.Context) Result { return CheckDirectoryAccess("Public files", cfg.Files.PublicDir) },
		)
	}

	if cfg.DataSets.BaseURL != "" {
		checks = append(checks, func(ctx context.Context) Result {
			return CheckDataSets(ctx, cfg.DataSets.BaseURL, cfg.DataSets.APIToken)
		})
	}

	if cfg.Scheduler.Guard == config.GuardRedis {
		checks = append(checks, func(ctx context.Context) Result {
			return CheckRedis(ctx, "Scheduler guard", cfg.Scheduler.RedisAddr)
		})
	}

	// The guard check already covers a shared Redis.
	if cfg.ContentCache.Backend == config.ContentCacheRedis && cacheUsesDistinctRedis(cfg) {
		checks = append(checks, func(ctx context.Context) Result {
			return CheckRedis(ctx, "Content cache", cfg.ContentCache.RedisAddr)
		})
	}

	return checks
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	checks := Checks(cfg)
	if checks == nil {
		return nil
	}
	results := make([]Result, 0, len(checks))
	for _, check := range checks {
		results = append(results, check(ctx))
	}
	return results
}

func cacheUsesDistinctRedis(cfg *config.Config) bool {
	return cfg.Scheduler.Guard != config.GuardRedis || cfg.Scheduler.RedisAddr != cfg.ContentCache.RedisAddr
}
