// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

package metadata

import (
	"context"
	"database/sql"
	"errors"
)

// PullerConfig returns the most recently updated puller configuration
// row, or nil when the operator has never written one.
func (db *DB) PullerConfig(ctx context.Context) (_ *PullerConfigRow, err error) {
	defer mon.Task()(&ctx)(&err)

	var row PullerConfigRow
	var pollInterval, overlap, batchSize, maxRetries, osTimeout, chTimeout sql.NullInt64
	var backoffBase, rateLimit sql.NullFloat64
	var verifySSL sql.NullBool

	err = db.db.QueryRowContext(ctx, `
		SELECT poll_interval_seconds,
		       overlap_minutes,
		       batch_size,
		       max_retries,
		       backoff_base_seconds,
		       rate_limit_seconds,
		       opensearch_timeout_seconds,
		       clickhouse_timeout_seconds,
		       opensearch_verify_ssl
		FROM metadata.opensearch_puller_config
		ORDER BY updated_at DESC
		LIMIT 1
	`).Scan(
		&pollInterval,
		&overlap,
		&batchSize,
		&maxRetries,
		&backoffBase,
		&rateLimit,
		&osTimeout,
		&chTimeout,
		&verifySSL,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}

	if pollInterval.Valid {
		row.PollIntervalSeconds = &pollInterval.Int64
	}
	if overlap.Valid {
		row.OverlapMinutes = &overlap.Int64
	}
	if batchSize.Valid {
		row.BatchSize = &batchSize.Int64
	}
	if maxRetries.Valid {
		row.MaxRetries = &maxRetries.Int64
	}
	if backoffBase.Valid {
		row.BackoffBaseSeconds = &backoffBase.Float64
	}
	if rateLimit.Valid {
		row.RateLimitSeconds = &rateLimit.Float64
	}
	if osTimeout.Valid {
		row.OpenSearchTimeoutSeconds = &osTimeout.Int64
	}
	if chTimeout.Valid {
		row.ClickHouseTimeoutSeconds = &chTimeout.Int64
	}
	if verifySSL.Valid {
		row.OpenSearchVerifySSL = &verifySSL.Bool
	}
	return &row, nil
}
