// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

package metadata

import (
	"context"
	"database/sql"
	"errors"
)

const backfillJobColumns = `
	job_id,
	source_id,
	start_ts,
	end_ts,
	throttle_seconds,
	status,
	last_error,
	last_index_name,
	last_ts,
	last_sort_json,
	last_id
`

// ClaimableJob returns the oldest pending or running backfill job for
// the source, or nil when there is none.
func (db *DB) ClaimableJob(ctx context.Context, sourceID int64) (_ *BackfillJob, err error) {
	defer mon.Task()(&ctx)(&err)

	row := db.db.QueryRowContext(ctx, `
		SELECT `+backfillJobColumns+`
		FROM metadata.backfill_jobs
		WHERE source_id = $1
		  AND status IN ('pending', 'running')
		ORDER BY created_at ASC
		LIMIT 1
	`, sourceID)
	return scanBackfillJob(row)
}

// JobByID returns one backfill job, or nil when it does not exist.
func (db *DB) JobByID(ctx context.Context, jobID int64) (_ *BackfillJob, err error) {
	defer mon.Task()(&ctx)(&err)

	row := db.db.QueryRowContext(ctx, `
		SELECT `+backfillJobColumns+`
		FROM metadata.backfill_jobs
		WHERE job_id = $1
	`, jobID)
	return scanBackfillJob(row)
}

func scanBackfillJob(row *sql.Row) (*BackfillJob, error) {
	var job BackfillJob
	var startTS, endTS, lastTS sql.NullTime
	var throttle sql.NullFloat64
	var lastError, lastIndexName, lastID sql.NullString
	var lastSort []byte

	err := row.Scan(
		&job.ID,
		&job.SourceID,
		&startTS,
		&endTS,
		&throttle,
		&job.Status,
		&lastError,
		&lastIndexName,
		&lastTS,
		&lastSort,
		&lastID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}

	if startTS.Valid {
		ts := startTS.Time.UTC()
		job.StartTS = &ts
	}
	if endTS.Valid {
		ts := endTS.Time.UTC()
		job.EndTS = &ts
	}
	if lastTS.Valid {
		ts := lastTS.Time.UTC()
		job.LastTS = &ts
	}
	job.ThrottleSeconds = throttle.Float64
	job.LastError = lastError.String
	job.LastIndexName = lastIndexName.String
	job.LastID = lastID.String
	job.LastSort, err = unmarshalSort(lastSort)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// SetJobStatus transitions a job and records the failure text, if any.
func (db *DB) SetJobStatus(ctx context.Context, jobID int64, status, lastError string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.ExecContext(ctx, `
		UPDATE metadata.backfill_jobs
		SET status = $1,
		    last_error = $2,
		    updated_at = now()
		WHERE job_id = $3
	`, status, nullString(lastError), jobID)
	return Error.Wrap(err)
}

// UpdateJobCheckpoint stores the resume pointer: the index currently
// being processed and the intra-index cursor. Empty values clear the
// pointer.
func (db *DB) UpdateJobCheckpoint(ctx context.Context, jobID int64, indexName string, checkpoint Checkpoint) (err error) {
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
		UPDATE metadata.backfill_jobs
		SET last_index_name = $1,
		    last_ts = $2,
		    last_sort_json = $3,
		    last_id = $4,
		    updated_at = now()
		WHERE job_id = $5
	`, nullString(indexName), lastTS, sortValue, nullString(checkpoint.LastID), jobID)
	return Error.Wrap(err)
}
