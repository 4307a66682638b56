// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

package puller

import (
	"encoding/json"
	"strconv"

	"go.uber.org/zap"

	"github.com/bronzelake/datapipeline/metadata"
	"github.com/bronzelake/datapipeline/opensearch"
	"github.com/bronzelake/datapipeline/private/timestamps"
)

// buildRows maps one page of hits to landing-table rows and derives the
// checkpoint for the page. Documents without a usable timestamp are
// skipped with a warning; the cursor still advances past them so they
// are not refetched forever.
func (puller *Puller) buildRows(hits []opensearch.Hit, source metadata.Source, indexName string) ([]map[string]interface{}, metadata.Checkpoint) {
	ingestedAt := puller.now().UTC()

	var checkpoint metadata.Checkpoint
	rows := make([]map[string]interface{}, 0, len(hits))
	for _, hit := range hits {
		var tsValue interface{}
		if hit.Source != nil {
			tsValue = hit.Source[source.TimeField]
		}
		eventTS, ok := timestamps.Parse(tsValue)
		if !ok && len(hit.Sort) > 0 {
			// the sort key is the time field's doc value, usable when
			// the stored value itself is missing or malformed
			eventTS, ok = timestamps.Parse(hit.Sort[0])
		}
		if !ok {
			puller.log.Warn("skipping document without a usable timestamp",
				zap.String("index", indexName), zap.String("id", hit.ID))
			continue
		}

		eventID := hit.ID
		if eventID == "" {
			if value, ok := hit.Source["event_id"].(string); ok {
				eventID = value
			}
		}

		raw, err := json.Marshal(hit.Source)
		if err != nil {
			puller.log.Warn("skipping unserializable document",
				zap.String("index", indexName), zap.String("id", hit.ID), zap.Error(err))
			continue
		}

		hitIndex := hit.Index
		if hitIndex == "" {
			hitIndex = indexName
		}

		rows = append(rows, map[string]interface{}{
			"event_id":    eventID,
			"event_ts":    timestamps.FormatClickHouse(eventTS),
			"index_name":  hitIndex,
			"source_id":   strconv.FormatInt(source.ID, 10),
			"raw":         string(raw),
			"ingested_at": timestamps.FormatClickHouse(ingestedAt),
			"extras":      map[string]string{"_index": hitIndex},
		})

		ts := eventTS
		checkpoint.LastTS = &ts
	}

	if len(hits) > 0 {
		last := hits[len(hits)-1]
		checkpoint.LastSort = last.Sort
		checkpoint.LastID = last.ID
	}
	return rows, checkpoint
}
