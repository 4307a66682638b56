// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

package puller

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bronzelake/datapipeline/clickhouse"
	"github.com/bronzelake/datapipeline/metadata"
	"github.com/bronzelake/datapipeline/private/timestamps"
)

// pitKeepAlive must cover the gap between two search requests against
// the same snapshot.
const pitKeepAlive = "1m"

// pageRequest describes one index drain: the window, the resume cursor
// and the callbacks of whoever owns the checkpoint.
type pageRequest struct {
	upstream  Upstream
	source    metadata.Source
	indexName string

	start *time.Time
	end   *time.Time

	searchAfter []interface{}
	cursor      metadata.Checkpoint
	throttle    time.Duration

	// proceed, when set, is consulted before every page. Returning
	// false stops the drain without error.
	proceed func(ctx context.Context) (bool, error)

	// checkpoint persists the cursor after every inserted page.
	checkpoint func(ctx context.Context, checkpoint metadata.Checkpoint) error
}

// processIndex pages through one index in stable (time, id) order,
// inserting each page and advancing the checkpoint. A point-in-time
// snapshot keeps the pagination stable; when the engine cannot open one
// the index is searched directly. Returns false when proceed called off
// the drain before the index was exhausted.
func (puller *Puller) processIndex(ctx context.Context, req pageRequest) (drained bool, err error) {
	defer mon.Task()(&ctx)(&err)

	pitID, err := req.upstream.OpenPIT(ctx, req.indexName)
	if err != nil {
		puller.log.Warn("point-in-time unavailable, searching the index directly",
			zap.String("index", req.indexName), zap.Error(err))
		pitID = ""
	} else {
		defer req.upstream.ClosePIT(ctx, pitID)
	}

	searchAfter := req.searchAfter
	cursor := req.cursor
	for {
		if req.proceed != nil {
			ok, err := req.proceed(ctx)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}

		body := map[string]interface{}{
			"size": puller.config.BatchSize,
			"sort": []map[string]interface{}{
				{req.source.TimeField: "asc"},
				{"_id": "asc"},
			},
			"track_total_hits": false,
			"query":            puller.buildQuery(req.source, req.start, req.end),
		}
		searchIndex := req.indexName
		if pitID != "" {
			body["pit"] = map[string]interface{}{"id": pitID, "keep_alive": pitKeepAlive}
			searchIndex = ""
		}
		if len(searchAfter) > 0 {
			body["search_after"] = searchAfter
		}

		result, err := req.upstream.Search(ctx, body, searchIndex)
		if err != nil {
			return false, err
		}
		hits := result.Hits.Hits
		if len(hits) == 0 {
			return true, nil
		}

		rows, pageCursor := puller.buildRows(hits, req.source, req.indexName)
		if len(rows) > 0 {
			err := puller.warehouse.InsertRows(ctx,
				clickhouse.BronzeDatabase(req.source.ProjectID),
				clickhouse.RawEventsTable, rows)
			if err != nil {
				return false, err
			}
		}

		searchAfter = hits[len(hits)-1].Sort
		if pageCursor.LastTS == nil {
			pageCursor.LastTS = cursor.LastTS
		}
		cursor = pageCursor
		if err := req.checkpoint(ctx, cursor); err != nil {
			return false, err
		}

		if !puller.sleep(ctx, req.throttle) {
			return false, ctx.Err()
		}
	}
}

// buildQuery intersects the pull window with the source's optional
// stored filter. An unparseable filter is ignored with a warning rather
// than blocking ingestion.
func (puller *Puller) buildQuery(source metadata.Source, start, end *time.Time) map[string]interface{} {
	bounds := map[string]interface{}{}
	if start != nil {
		bounds["gte"] = timestamps.FormatSearch(*start)
	}
	if end != nil {
		bounds["lte"] = timestamps.FormatSearch(*end)
	}
	var window map[string]interface{}
	if len(bounds) > 0 {
		window = map[string]interface{}{
			"range": map[string]interface{}{source.TimeField: bounds},
		}
	}

	var filter map[string]interface{}
	if strings.TrimSpace(source.QueryFilterJSON) != "" {
		if err := json.Unmarshal([]byte(source.QueryFilterJSON), &filter); err != nil {
			puller.log.Warn("invalid stored query filter, ignoring",
				zap.Int64("source", source.ID), zap.Error(err))
			filter = nil
		}
	}

	switch {
	case window != nil && filter != nil:
		return map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{window, filter},
			},
		}
	case window != nil:
		return window
	case filter != nil:
		return filter
	default:
		return map[string]interface{}{"match_all": map[string]interface{}{}}
	}
}
