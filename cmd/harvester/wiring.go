package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jonathan/genome-harvester/internal/config"
	"github.com/jonathan/genome-harvester/internal/db"
	"github.com/jonathan/genome-harvester/internal/engine"
	"github.com/jonathan/genome-harvester/internal/eutils"
	"github.com/jonathan/genome-harvester/internal/ratelimit"
)

// loadConfig builds the effective configuration: environment variables
// overlaid on the optional config file, defaults underneath.
func loadConfig(path string) (config.Config, error) {
	cfg := config.FromEnv()

	if path != "" {
		fileCfg, err := config.LoadConfig(path)
		if err != nil {
			return config.Config{}, fmt.Errorf("failed to load config: %w", err)
		}
		if err := fileCfg.Validate(); err != nil {
			return config.Config{}, err
		}
		cfg = cfg.MergeWithDefaults(*fileCfg)
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// buildEngine wires the rate limit coordinator, upstream client, optional
// job archive, and job engine from the configuration. The returned *db.DB is
// nil when no DATABASE_URL is configured; the caller owns closing it.
func buildEngine(ctx context.Context, cfg config.Config, registry *prometheus.Registry) (*engine.Engine, *db.DB, error) {
	rate := cfg.EffectiveRate()
	coord := ratelimit.NewCoordinator(ratelimit.Config{
		Rate:  rate,
		Burst: int(rate) * 2,
	})

	clientCfg := eutils.DefaultClientConfig()
	if cfg.Tool != "" {
		clientCfg.Tool = cfg.Tool
	}
	if cfg.Email != "" {
		clientCfg.Email = cfg.Email
	}
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.MaxBatchSize > 0 {
		clientCfg.MaxBatchSize = cfg.MaxBatchSize
	}
	if cfg.MaxRetries > 0 {
		// MaxRetries counts retries after the first attempt
		clientCfg.Policy.MaxAttempts = cfg.MaxRetries + 1
	}
	clientCfg.APIKey = cfg.APIKey
	clientCfg.Timeout = cfg.TimeoutDuration(clientCfg.Timeout)

	client, err := eutils.NewClient(clientCfg, coord, eutils.NewMetrics(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create upstream client: %w", err)
	}

	var archive *db.DB
	if cfg.DatabaseURL != "" {
		archive, err = db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := archive.EnsureSchema(ctx); err != nil {
			archive.Close()
			return nil, nil, fmt.Errorf("failed to prepare archive schema: %w", err)
		}
	}

	engCfg := engine.DefaultConfig()
	if cfg.Concurrency > 0 {
		engCfg.Concurrency = cfg.Concurrency
	}
	engCfg.JobTimeout = cfg.JobTimeoutDuration(engCfg.JobTimeout)

	// A typed nil *db.DB must not become a non-nil Archive interface.
	var jobArchive engine.Archive
	if archive != nil {
		jobArchive = archive
	}

	eng := engine.New(engCfg, client, engine.NewStore(), engine.NewMetrics(registry), jobArchive)
	return eng, archive, nil
}
