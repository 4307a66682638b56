// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

package puller

import (
	"context"

	"go.uber.org/zap"

	"github.com/bronzelake/datapipeline/metadata"
)

// processIncremental advances the tail of every index matching the
// source's pattern. Index failures are recorded in ingestion state and
// do not block the remaining indices.
func (puller *Puller) processIncremental(ctx context.Context, upstream Upstream, source metadata.Source) (err error) {
	defer mon.Task()(&ctx)(&err)

	indices, err := upstream.ListIndices(ctx, source.IndexPattern)
	if err != nil {
		return err
	}
	if len(indices) == 0 {
		puller.log.Info("no indices match the pattern",
			zap.Int64("source", source.ID),
			zap.String("pattern", source.IndexPattern))
		return nil
	}

	for _, indexName := range indices {
		if err := puller.pullIndexTail(ctx, upstream, source, indexName); err != nil {
			if ctx.Err() != nil {
				return err
			}
			puller.log.Error("incremental pull failed",
				zap.Int64("source", source.ID),
				zap.String("index", indexName),
				zap.Error(err))
		}
	}
	return nil
}

// pullIndexTail drains one index from its stored checkpoint up to now.
// The pull window starts one overlap before the last seen timestamp so
// late writers are picked up on the next pass; the stored sort cursor is
// only trusted when the overlap is disabled, otherwise it would skip the
// reread the overlap exists for.
func (puller *Puller) pullIndexTail(ctx context.Context, upstream Upstream, source metadata.Source, indexName string) (err error) {
	defer mon.Task()(&ctx)(&err)

	state, err := puller.store.IngestionState(ctx, source.ID, indexName)
	if err != nil {
		return err
	}

	end := puller.now().UTC()
	start := end.Add(-puller.config.Overlap)
	var cursor metadata.Checkpoint
	var searchAfter []interface{}
	if state != nil {
		cursor = state.Checkpoint
		if state.LastTS != nil {
			start = state.LastTS.Add(-puller.config.Overlap)
			if puller.config.Overlap == 0 {
				searchAfter = state.LastSort
			}
		}
	}

	_, pageErr := puller.processIndex(ctx, pageRequest{
		upstream:    upstream,
		source:      source,
		indexName:   indexName,
		start:       &start,
		end:         &end,
		searchAfter: searchAfter,
		cursor:      cursor,
		throttle:    puller.config.RateLimit,
		checkpoint: func(ctx context.Context, checkpoint metadata.Checkpoint) error {
			return puller.store.UpsertIngestionState(ctx, source.ID, indexName, checkpoint, metadata.StateRunning, "")
		},
	})
	// the checkpoint is already persisted per page, so the terminal
	// writes only flip the status and leave the cursor alone; on an
	// index with no state row yet this is a no-op instead of an insert
	// with an empty checkpoint
	if pageErr != nil {
		if ctx.Err() == nil {
			err := puller.store.SetIngestionStatus(ctx, source.ID, indexName, metadata.StateError, pageErr.Error())
			if err != nil {
				puller.log.Warn("failed to record ingestion error",
					zap.Int64("source", source.ID),
					zap.String("index", indexName),
					zap.Error(err))
			}
		}
		return pageErr
	}
	return puller.store.SetIngestionStatus(ctx, source.ID, indexName, metadata.StateIdle, "")
}
