// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

package metadata

import (
	"context"
	"encoding/json"
)

// UpsertHeartbeat records worker liveness together with a snapshot of
// its effective configuration.
func (db *DB) UpsertHeartbeat(ctx context.Context, workerID, workerType, status string, details map[string]interface{}) (err error) {
	defer mon.Task()(&ctx)(&err)

	if details == nil {
		details = map[string]interface{}{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return Error.Wrap(err)
	}

	_, err = db.db.ExecContext(ctx, `
		INSERT INTO metadata.worker_heartbeats (
		  worker_id, worker_type, last_seen, status, details
		) VALUES ($1, $2, now(), $3, $4)
		ON CONFLICT (worker_id) DO UPDATE SET
		  last_seen = now(),
		  status = EXCLUDED.status,
		  details = EXCLUDED.details
	`, workerID, workerType, status, string(payload))
	return Error.Wrap(err)
}
