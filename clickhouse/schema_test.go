// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

package clickhouse_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWarehouse records every statement and serves table-existence
// probes from a fixed set.
type fakeWarehouse struct {
	statements []string
	existing   map[string]bool
}

func (f *fakeWarehouse) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statement := r.URL.Query().Get("query")
		if strings.Contains(statement, "system.tables") {
			for name, exists := range f.existing {
				if strings.Contains(statement, "'"+name+"'") && exists {
					_, _ = w.Write([]byte("1\n"))
					return
				}
			}
			_, _ = w.Write([]byte("0\n"))
			return
		}
		f.statements = append(f.statements, statement)
	}
}

func TestEnsureProjectStorage(t *testing.T) {
	fake := &fakeWarehouse{}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newClient(t, server.URL)
	require.NoError(t, client.EnsureProjectStorage(context.Background(), "demo"))

	require.Len(t, fake.statements, 3)
	assert.Equal(t, "CREATE DATABASE IF NOT EXISTS `demo_bronze`", fake.statements[0])
	assert.Equal(t, "CREATE DATABASE IF NOT EXISTS `demo_gold`", fake.statements[1])

	ddl := fake.statements[2]
	assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS `demo_bronze`.`os_events_raw`")
	assert.Contains(t, ddl, "event_ts DateTime64(3)")
	assert.Contains(t, ddl, "extras Map(String, String) DEFAULT map()")
	assert.Contains(t, ddl, "ENGINE = MergeTree")
	assert.Contains(t, ddl, "PARTITION BY toDate(event_ts)")
	assert.Contains(t, ddl, "ORDER BY (source_id, toDate(event_ts), event_ts, event_id)")
}

func TestEnsureProjectStorageIdempotent(t *testing.T) {
	fake := &fakeWarehouse{}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newClient(t, server.URL)
	require.NoError(t, client.EnsureProjectStorage(context.Background(), "demo"))
	first := append([]string(nil), fake.statements...)

	require.NoError(t, client.EnsureProjectStorage(context.Background(), "demo"))
	assert.Equal(t, first, fake.statements[len(first):], "second run emits the same IF NOT EXISTS statements")
}

func TestEnsureProjectStorageRejectsUnsafeProject(t *testing.T) {
	fake := &fakeWarehouse{}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newClient(t, server.URL)
	err := client.EnsureProjectStorage(context.Background(), "demo; DROP DATABASE system")
	require.Error(t, err)
	require.Empty(t, fake.statements)
}

func TestEnsureDefaultBronzeColumns(t *testing.T) {
	fake := &fakeWarehouse{existing: map[string]bool{
		"suricata_events_raw": true,
		"zeek_events_raw":     true,
	}}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newClient(t, server.URL)
	require.NoError(t, client.EnsureDefaultBronzeColumns(context.Background()))

	require.Len(t, fake.statements, 2, "absent wazuh table is skipped")
	assert.Contains(t, fake.statements[0], "ALTER TABLE bronze.suricata_events_raw")
	assert.Contains(t, fake.statements[0], "ADD COLUMN IF NOT EXISTS raw String")
	assert.Contains(t, fake.statements[0], "ADD COLUMN IF NOT EXISTS extras Map(String, String) DEFAULT map()")
	assert.Contains(t, fake.statements[1], "ALTER TABLE bronze.zeek_events_raw")
}
