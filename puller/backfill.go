// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

package puller

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/bronzelake/datapipeline/metadata"
)

// processBackfill runs one claimed job to completion, cancellation or
// failure. A failure records the message on the job and preserves the
// resume pointer so a later claim picks up where this one stopped.
func (puller *Puller) processBackfill(ctx context.Context, upstream Upstream, source metadata.Source, job *metadata.BackfillJob) (err error) {
	defer mon.Task()(&ctx)(&err)

	log := puller.log.With(zap.Int64("job", job.ID), zap.Int64("source", source.ID))

	if job.Status == metadata.JobPending {
		if err := puller.store.SetJobStatus(ctx, job.ID, metadata.JobRunning, ""); err != nil {
			return err
		}
		job.Status = metadata.JobRunning
	}

	if err := puller.runBackfill(ctx, upstream, source, job, log); err != nil {
		if ctx.Err() == nil {
			statusErr := puller.store.SetJobStatus(ctx, job.ID, metadata.JobFailed, err.Error())
			if statusErr != nil {
				log.Warn("failed to record job failure", zap.Error(statusErr))
			}
		}
		return err
	}
	return nil
}

func (puller *Puller) runBackfill(ctx context.Context, upstream Upstream, source metadata.Source, job *metadata.BackfillJob, log *zap.Logger) error {
	indices, err := upstream.ListIndices(ctx, source.IndexPattern)
	if err != nil {
		return err
	}
	if len(indices) == 0 {
		log.Info("no indices match the pattern, completing job")
		if err := puller.store.UpdateJobCheckpoint(ctx, job.ID, "", metadata.Checkpoint{}); err != nil {
			return err
		}
		return puller.store.SetJobStatus(ctx, job.ID, metadata.JobCompleted, "")
	}

	// A resume pointer naming an index that no longer exists would
	// silently skip everything sorting below it.
	resumeIndex := job.LastIndexName
	if resumeIndex != "" && !slices.Contains(indices, resumeIndex) {
		log.Warn("resume index no longer exists, restarting from the first index",
			zap.String("index", resumeIndex))
		resumeIndex = ""
		if err := puller.store.UpdateJobCheckpoint(ctx, job.ID, "", metadata.Checkpoint{}); err != nil {
			return err
		}
	}

	throttle := puller.config.RateLimit
	if job.ThrottleSeconds > 0 {
		throttle = time.Duration(job.ThrottleSeconds * float64(time.Second))
	}

	for position, indexName := range indices {
		if resumeIndex != "" && indexName < resumeIndex {
			continue
		}

		var searchAfter []interface{}
		var cursor metadata.Checkpoint
		start := job.StartTS
		if indexName == resumeIndex {
			searchAfter = job.LastSort
			cursor = job.Checkpoint
			// the part of this index below last_ts is already ingested,
			// so the resumed window starts there instead of the job start
			if cursor.LastTS != nil {
				start = cursor.LastTS
			}
		}
		if err := puller.store.UpdateJobCheckpoint(ctx, job.ID, indexName, cursor); err != nil {
			return err
		}

		drained, err := puller.processIndex(ctx, pageRequest{
			upstream:    upstream,
			source:      source,
			indexName:   indexName,
			start:       start,
			end:         job.EndTS,
			searchAfter: searchAfter,
			cursor:      cursor,
			throttle:    throttle,
			proceed: func(ctx context.Context) (bool, error) {
				fresh, err := puller.store.JobByID(ctx, job.ID)
				if err != nil {
					return false, err
				}
				return fresh != nil && fresh.Active(), nil
			},
			checkpoint: func(ctx context.Context, checkpoint metadata.Checkpoint) error {
				return puller.store.UpdateJobCheckpoint(ctx, job.ID, indexName, checkpoint)
			},
		})
		if err != nil {
			return err
		}
		if !drained {
			log.Info("job deactivated, stopping", zap.String("index", indexName))
			return nil
		}

		// Park the resume pointer on the next index so a restart does
		// not replay the one just finished.
		if position+1 < len(indices) {
			err := puller.store.UpdateJobCheckpoint(ctx, job.ID, indices[position+1], metadata.Checkpoint{})
			if err != nil {
				return err
			}
		}
	}

	fresh, err := puller.store.JobByID(ctx, job.ID)
	if err != nil {
		return err
	}
	if fresh != nil && fresh.Active() {
		log.Info("backfill complete")
		return puller.store.SetJobStatus(ctx, job.ID, metadata.JobCompleted, "")
	}
	return nil
}
