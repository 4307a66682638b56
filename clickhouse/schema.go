// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

package clickhouse

import (
	"context"

	"go.uber.org/zap"

	"github.com/bronzelake/datapipeline/private/ident"
)

// RawEventsTable is the per-project raw landing table.
const RawEventsTable = "os_events_raw"

// legacyBronzeTables pre-date per-project storage and live in a shared
// root database.
var legacyBronzeTables = []string{
	"suricata_events_raw",
	"wazuh_events_raw",
	"zeek_events_raw",
}

// BronzeDatabase returns the per-project landing database name.
func BronzeDatabase(projectID string) string {
	return projectID + "_bronze"
}

// GoldDatabase returns the per-project curated database name.
func GoldDatabase(projectID string) string {
	return projectID + "_gold"
}

// EnsureDefaultBronzeColumns adds the raw/extras columns to the legacy
// root bronze tables when they exist. Absent tables are skipped.
func (client *Client) EnsureDefaultBronzeColumns(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	for _, table := range legacyBronzeTables {
		exists, err := client.TableExists(ctx, "bronze", table)
		if err != nil {
			return err
		}
		if !exists {
			client.log.Info("skipping legacy bronze table", zap.String("table", table))
			continue
		}
		_, err = client.Exec(ctx,
			"ALTER TABLE bronze."+table+
				" ADD COLUMN IF NOT EXISTS raw String,"+
				" ADD COLUMN IF NOT EXISTS extras Map(String, String) DEFAULT map()")
		if err != nil {
			return err
		}
	}
	return nil
}

// EnsureProjectStorage creates the per-project databases and the raw
// landing table. Idempotent.
func (client *Client) EnsureProjectStorage(ctx context.Context, projectID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := ident.Require(projectID); err != nil {
		return err
	}
	bronzeDB, err := ident.Quote(BronzeDatabase(projectID))
	if err != nil {
		return err
	}
	goldDB, err := ident.Quote(GoldDatabase(projectID))
	if err != nil {
		return err
	}

	if _, err := client.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+bronzeDB); err != nil {
		return err
	}
	if _, err := client.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+goldDB); err != nil {
		return err
	}

	_, err = client.Exec(ctx,
		"CREATE TABLE IF NOT EXISTS "+bronzeDB+".`"+RawEventsTable+"` ("+
			"event_id String, "+
			"event_ts DateTime64(3), "+
			"index_name String, "+
			"source_id String, "+
			"raw String, "+
			"ingested_at DateTime64(3), "+
			"extras Map(String, String) DEFAULT map()"+
			") ENGINE = MergeTree "+
			"PARTITION BY toDate(event_ts) "+
			"ORDER BY (source_id, toDate(event_ts), event_ts, event_id)")
	return err
}
