// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

// Package puller moves documents from the configured search clusters
// into the per-project raw landing tables, checkpointing its position in
// the metadata store as it goes.
package puller

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/bronzelake/datapipeline/metadata"
	"github.com/bronzelake/datapipeline/opensearch"
	"github.com/bronzelake/datapipeline/private/secrets"
	"github.com/bronzelake/datapipeline/private/sync2"
)

var (
	mon = monkit.Package()

	// Error is the class of puller errors.
	Error = errs.Class("puller")
)

// WorkerType identifies this service in the heartbeat table.
const WorkerType = "opensearch_puller"

// Heartbeat statuses.
const (
	statusRunning = "running"
	statusIdle    = "idle"
)

// Store is the metadata surface the puller depends on.
type Store interface {
	Sources(ctx context.Context) ([]metadata.Source, error)
	PullerConfig(ctx context.Context) (*metadata.PullerConfigRow, error)

	ClaimableJob(ctx context.Context, sourceID int64) (*metadata.BackfillJob, error)
	JobByID(ctx context.Context, jobID int64) (*metadata.BackfillJob, error)
	SetJobStatus(ctx context.Context, jobID int64, status, lastError string) error
	UpdateJobCheckpoint(ctx context.Context, jobID int64, indexName string, checkpoint metadata.Checkpoint) error

	IngestionState(ctx context.Context, sourceID int64, indexName string) (*metadata.IngestionState, error)
	UpsertIngestionState(ctx context.Context, sourceID int64, indexName string, checkpoint metadata.Checkpoint, status, lastError string) error
	SetIngestionStatus(ctx context.Context, sourceID int64, indexName string, status, lastError string) error

	UpsertHeartbeat(ctx context.Context, workerID, workerType, status string, details map[string]interface{}) error
}

// Upstream is one search cluster.
type Upstream interface {
	ListIndices(ctx context.Context, pattern string) ([]string, error)
	OpenPIT(ctx context.Context, indexName string) (string, error)
	ClosePIT(ctx context.Context, pitID string)
	Search(ctx context.Context, body map[string]interface{}, indexName string) (*opensearch.SearchResult, error)
}

// Warehouse is the landing side of the pipeline.
type Warehouse interface {
	EnsureDefaultBronzeColumns(ctx context.Context) error
	EnsureProjectStorage(ctx context.Context, projectID string) error
	InsertRows(ctx context.Context, database, table string, rows []map[string]interface{}) error
}

// Puller pulls every enabled source once per cycle.
//
// architecture: Chore
type Puller struct {
	log       *zap.Logger
	store     Store
	warehouse Warehouse
	secrets   *secrets.Resolver
	workerID  string
	config    Config

	Loop *sync2.Cycle

	newUpstream func(log *zap.Logger, config opensearch.Config) Upstream
	now         func() time.Time
}

// New creates a puller.
func New(log *zap.Logger, store Store, warehouse Warehouse, resolver *secrets.Resolver, workerID string, config Config) *Puller {
	return &Puller{
		log:       log,
		store:     store,
		warehouse: warehouse,
		secrets:   resolver,
		workerID:  workerID,
		config:    config,
		Loop:      sync2.NewCycle(config.PollInterval),
		newUpstream: func(log *zap.Logger, config opensearch.Config) Upstream {
			return opensearch.NewClient(log, config)
		},
		now: time.Now,
	}
}

// Run executes cycles until the context is cancelled. A failed cycle is
// logged and the loop keeps going.
func (puller *Puller) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	puller.config.Validate(puller.log)
	return puller.Loop.Run(ctx, func(ctx context.Context) error {
		if err := puller.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			puller.log.Error("cycle failed", zap.Error(err))
		}
		return nil
	})
}

// Close stops the cycle.
func (puller *Puller) Close() error {
	puller.Loop.Close()
	return nil
}

// RunOnce executes one full cycle: refresh the configuration, announce
// liveness, then pull every enabled source. Source failures are isolated
// from each other.
func (puller *Puller) RunOnce(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	puller.reloadConfig(ctx)
	puller.heartbeat(ctx, statusRunning)

	if err := puller.warehouse.EnsureDefaultBronzeColumns(ctx); err != nil {
		puller.log.Warn("legacy bronze column migration failed", zap.Error(err))
	}

	sources, err := puller.store.Sources(ctx)
	if err != nil {
		return Error.Wrap(err)
	}

	for _, source := range sources {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := puller.processSource(ctx, source); err != nil {
			puller.log.Error("source failed",
				zap.Int64("source", source.ID),
				zap.String("name", source.Name),
				zap.String("project", source.ProjectID),
				zap.Error(err))
		}
	}

	puller.heartbeat(ctx, statusIdle)
	return nil
}

// reloadConfig overlays the metadata override row onto the effective
// configuration and adjusts the cycle interval. Failures keep the
// previous configuration.
func (puller *Puller) reloadConfig(ctx context.Context) {
	row, err := puller.store.PullerConfig(ctx)
	if err != nil {
		puller.log.Warn("failed to load puller config, keeping previous", zap.Error(err))
		return
	}
	if row == nil {
		return
	}
	puller.config.ApplyRow(row)
	puller.Loop.ChangeInterval(puller.config.PollInterval)
}

// heartbeat announces liveness together with the effective
// configuration. Failures are logged, never fatal.
func (puller *Puller) heartbeat(ctx context.Context, status string) {
	err := puller.store.UpsertHeartbeat(ctx, puller.workerID, WorkerType, status, puller.config.Snapshot())
	if err != nil {
		puller.log.Warn("heartbeat failed", zap.Error(err))
	}
}

// processSource prepares project storage, builds an authenticated client
// and runs either the claimed backfill job or the incremental tail.
func (puller *Puller) processSource(ctx context.Context, source metadata.Source) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := puller.warehouse.EnsureProjectStorage(ctx, source.ProjectID); err != nil {
		return err
	}

	secret, ok := puller.secrets.Resolve(source.SecretRef, source.SecretEnc)
	if !ok && requiresSecret(source.AuthType) {
		// pull anyway; the upstream rejection lands in ingestion state
		// where the operator can see it
		puller.log.Warn("no usable credentials for source, pulling anonymously",
			zap.Int64("source", source.ID),
			zap.String("auth", source.AuthType))
	}

	upstream := puller.newUpstream(puller.log.Named("opensearch"), opensearch.Config{
		BaseURL:   source.BaseURL,
		AuthType:  source.AuthType,
		Username:  source.Username,
		Secret:    secret,
		Timeout:   puller.config.OpenSearchTimeout,
		VerifyTLS: puller.config.VerifyTLS,
		Retry:     puller.config.RetryConfig(),
	})

	job, err := puller.store.ClaimableJob(ctx, source.ID)
	if err != nil {
		return err
	}
	if job != nil {
		return puller.processBackfill(ctx, upstream, source, job)
	}
	return puller.processIncremental(ctx, upstream, source)
}

func requiresSecret(authType string) bool {
	switch authType {
	case opensearch.AuthBasic, opensearch.AuthAPIKey, opensearch.AuthBearer:
		return true
	}
	return false
}

// sleep waits for the given duration, honoring cancellation. Returns
// false when the context ended first.
func (puller *Puller) sleep(ctx context.Context, duration time.Duration) bool {
	if duration <= 0 {
		return true
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
