// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

package metadata

import (
	"context"
	"database/sql"
	"errors"
)

// IngestionState returns the tail position for (source, index), or nil
// when the index has never been ingested.
func (db *DB) IngestionState(ctx context.Context, sourceID int64, indexName string) (_ *IngestionState, err error) {
	defer mon.Task()(&ctx)(&err)

	state := IngestionState{SourceID: sourceID, IndexName: indexName}
	var lastTS sql.NullTime
	var lastID, lastError sql.NullString
	var lastSort []byte

	err = db.db.QueryRowContext(ctx, `
		SELECT last_ts,
		       last_sort_json,
		       last_id,
		       status,
		       last_error
		FROM metadata.ingestion_state
		WHERE source_id = $1
		  AND index_name = $2
	`, sourceID, indexName).Scan(&lastTS, &lastSort, &lastID, &state.Status, &lastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}

	if lastTS.Valid {
		ts := lastTS.Time.UTC()
		state.LastTS = &ts
	}
	state.LastID = lastID.String
	state.LastError = lastError.String
	state.LastSort, err = unmarshalSort(lastSort)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// UpsertIngestionState records a new checkpoint together with the
// current status for (source, index).
func (db *DB) UpsertIngestionState(ctx context.Context, sourceID int64, indexName string, checkpoint Checkpoint, status, lastError string) (err error) {
	defer mon.Task()(&ctx)(&err)

	sortValue, err := marshalSort(checkpoint.LastSort)
	if err != nil {
		return err
	}
	var lastTS interface{}
	if checkpoint.LastTS != nil {
		lastTS = checkpoint.LastTS.UTC()
	}

	_, err = db.db.ExecContext(ctx, `
		INSERT INTO metadata.ingestion_state (
		  source_id,
		  index_name,
		  last_ts,
		  last_sort_json,
		  last_id,
		  status,
		  last_error,
		  updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (source_id, index_name) DO UPDATE SET
		  last_ts = EXCLUDED.last_ts,
		  last_sort_json = EXCLUDED.last_sort_json,
		  last_id = EXCLUDED.last_id,
		  status = EXCLUDED.status,
		  last_error = EXCLUDED.last_error,
		  updated_at = now()
	`, sourceID, indexName, lastTS, sortValue, nullString(checkpoint.LastID), status, nullString(lastError))
	return Error.Wrap(err)
}

// SetIngestionStatus updates only the status and error text, leaving the
// checkpoint untouched.
func (db *DB) SetIngestionStatus(ctx context.Context, sourceID int64, indexName string, status, lastError string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.ExecContext(ctx, `
		UPDATE metadata.ingestion_state
		SET status = $1,
		    last_error = $2,
		    updated_at = now()
		WHERE source_id = $3
		  AND index_name = $4
	`, status, nullString(lastError), sourceID, indexName)
	return Error.Wrap(err)
}
