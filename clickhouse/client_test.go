// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

package clickhouse_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/bronzelake/datapipeline/clickhouse"
	"github.com/bronzelake/datapipeline/private/retry"
)

func newClient(t *testing.T, baseURL string) *clickhouse.Client {
	return clickhouse.NewClient(zaptest.NewLogger(t), clickhouse.Config{
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
		Retry:   retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond},
	})
}

func TestExec(t *testing.T) {
	var statement string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		statement = r.URL.Query().Get("query")
		_, _ = w.Write([]byte("Ok.\n"))
	}))
	defer server.Close()

	client := newClient(t, server.URL)
	out, err := client.Exec(context.Background(), "CREATE DATABASE IF NOT EXISTS `demo_bronze`")
	require.NoError(t, err)
	assert.Equal(t, "Ok.\n", out)
	assert.Equal(t, "CREATE DATABASE IF NOT EXISTS `demo_bronze`", statement)
}

func TestExecDDLFailureNotRetried(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.Error(w, "Code: 62. DB::Exception: Syntax error", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newClient(t, server.URL)
	_, err := client.Exec(context.Background(), "CREATE BROKEN")
	require.Error(t, err)
	require.Equal(t, 1, requests)
}

func TestTableExists(t *testing.T) {
	tests := []struct {
		response string
		want     bool
	}{
		{"1\n", true},
		{"0\n", false},
		{"", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			query := r.URL.Query().Get("query")
			assert.Contains(t, query, "system.tables")
			assert.Contains(t, query, "database = 'bronze'")
			assert.Contains(t, query, "name = 'wazuh_events_raw'")
			_, _ = w.Write([]byte(tt.response))
		}))

		client := newClient(t, server.URL)
		exists, err := client.TableExists(context.Background(), "bronze", "wazuh_events_raw")
		require.NoError(t, err)
		assert.Equal(t, tt.want, exists)
		server.Close()
	}
}

func TestInsertRows(t *testing.T) {
	var statement, body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		statement = r.URL.Query().Get("query")
		data, _ := io.ReadAll(r.Body)
		body = string(data)
	}))
	defer server.Close()

	client := newClient(t, server.URL)
	rows := []map[string]interface{}{
		{"event_id": "a", "source_id": "1"},
		{"event_id": "b", "source_id": "1"},
	}
	require.NoError(t, client.InsertRows(context.Background(), "demo_bronze", "os_events_raw", rows))

	assert.Equal(t, "INSERT INTO `demo_bronze`.`os_events_raw` FORMAT JSONEachRow", statement)
	lines := strings.Split(strings.TrimSpace(body), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"event_id":"a"`)
	assert.Contains(t, lines[1], `"event_id":"b"`)
}

func TestInsertRowsRetriesTransientFailures(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests < 3 {
			http.Error(w, "Code: 252. DB::Exception: Too many parts", http.StatusInternalServerError)
			return
		}
	}))
	defer server.Close()

	client := newClient(t, server.URL)
	err := client.InsertRows(context.Background(), "demo_bronze", "os_events_raw",
		[]map[string]interface{}{{"event_id": "a"}})
	require.NoError(t, err)
	require.Equal(t, 3, requests)
}

func TestInsertRowsRejectsUnsafeIdentifiers(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer server.Close()

	client := newClient(t, server.URL)
	err := client.InsertRows(context.Background(), "demo_bronze;DROP", "os_events_raw",
		[]map[string]interface{}{{"event_id": "a"}})
	require.Error(t, err)
	require.Zero(t, requests, "no SQL may be emitted for an unsafe identifier")
}

func TestInsertRowsEmptyBatch(t *testing.T) {
	client := newClient(t, "http://warehouse.invalid")
	require.NoError(t, client.InsertRows(context.Background(), "demo_bronze", "os_events_raw", nil))
}
