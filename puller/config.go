// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

package puller

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/bronzelake/datapipeline/metadata"
	"github.com/bronzelake/datapipeline/private/retry"
)

// Config holds the effective puller tuning. Process defaults come from
// the environment; the metadata override row is reapplied on every
// cycle.
type Config struct {
	PollInterval      time.Duration
	BatchSize         int
	Overlap           time.Duration
	MaxRetries        int
	BackoffBase       time.Duration
	RateLimit         time.Duration
	OpenSearchTimeout time.Duration
	ClickHouseTimeout time.Duration
	VerifyTLS         bool
}

// DefaultConfig is the tuning used when neither the environment nor the
// metadata override row says otherwise.
var DefaultConfig = Config{
	PollInterval:      30 * time.Second,
	BatchSize:         500,
	Overlap:           10 * time.Minute,
	MaxRetries:        3,
	BackoffBase:       time.Second,
	RateLimit:         0,
	OpenSearchTimeout: 30 * time.Second,
	ClickHouseTimeout: 30 * time.Second,
	VerifyTLS:         true,
}

// ApplyRow overlays the metadata override row. Nil fields leave the
// current value untouched; set fields are clamped to their minimum.
func (config *Config) ApplyRow(row *metadata.PullerConfigRow) {
	if row == nil {
		return
	}
	if row.PollIntervalSeconds != nil {
		config.PollInterval = time.Duration(max(*row.PollIntervalSeconds, 1)) * time.Second
	}
	if row.OverlapMinutes != nil {
		config.Overlap = time.Duration(max(*row.OverlapMinutes, 0)) * time.Minute
	}
	if row.BatchSize != nil {
		config.BatchSize = int(max(*row.BatchSize, 1))
	}
	if row.MaxRetries != nil {
		config.MaxRetries = int(max(*row.MaxRetries, 0))
	}
	if row.BackoffBaseSeconds != nil {
		config.BackoffBase = secondsToDuration(math.Max(*row.BackoffBaseSeconds, 0))
	}
	if row.RateLimitSeconds != nil {
		config.RateLimit = secondsToDuration(math.Max(*row.RateLimitSeconds, 0))
	}
	if row.OpenSearchTimeoutSeconds != nil {
		config.OpenSearchTimeout = time.Duration(max(*row.OpenSearchTimeoutSeconds, 1)) * time.Second
	}
	if row.ClickHouseTimeoutSeconds != nil {
		config.ClickHouseTimeout = time.Duration(max(*row.ClickHouseTimeoutSeconds, 1)) * time.Second
	}
	if row.OpenSearchVerifySSL != nil {
		config.VerifyTLS = *row.OpenSearchVerifySSL
	}
}

// Validate logs configuration combinations the operator should know
// about.
func (config Config) Validate(log *zap.Logger) {
	if config.Overlap == 0 {
		log.Warn("overlap window disabled, incremental pulls resume from the stored sort cursor")
	}
}

// RetryConfig translates the retry knobs for the HTTP clients.
// MaxRetries is the total attempt budget per request; zero means every
// request fails with the exhaustion error without being sent.
func (config Config) RetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts: config.MaxRetries,
		BaseDelay:   config.BackoffBase,
	}
}

// Snapshot renders the effective configuration for the heartbeat record.
func (config Config) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"poll_interval_seconds":      int64(config.PollInterval / time.Second),
		"batch_size":                 config.BatchSize,
		"overlap_minutes":            int64(config.Overlap / time.Minute),
		"max_retries":                config.MaxRetries,
		"backoff_base_seconds":       config.BackoffBase.Seconds(),
		"rate_limit_seconds":         config.RateLimit.Seconds(),
		"opensearch_timeout_seconds": int64(config.OpenSearchTimeout / time.Second),
		"clickhouse_timeout_seconds": int64(config.ClickHouseTimeout / time.Second),
		"opensearch_verify_ssl":      config.VerifyTLS,
	}
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
