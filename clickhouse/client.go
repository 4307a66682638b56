// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

// Package clickhouse is a thin client over the warehouse HTTP interface.
// Statements travel as the "query" parameter; row payloads are
// line-delimited JSON bodies.
package clickhouse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/bronzelake/datapipeline/private/ident"
	"github.com/bronzelake/datapipeline/private/retry"
)

var (
	mon = monkit.Package()

	// Error is the class of warehouse client errors.
	Error = errs.Class("clickhouse client")
)

// Config binds a client to one warehouse.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Retry   retry.Config
}

// Client talks to one warehouse over HTTP.
type Client struct {
	log    *zap.Logger
	config Config
	http   *http.Client
}

// NewClient creates a warehouse client.
func NewClient(log *zap.Logger, config Config) *Client {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Client{
		log:    log,
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
	}
}

// StatementError is a non-2xx response from the warehouse.
type StatementError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *StatementError) Error() string {
	return "statement failed with status " + strconv.Itoa(e.Code) + ": " + e.Message
}

// post runs one statement, optionally with a body payload, and returns
// the raw response text.
func (client *Client) post(ctx context.Context, statement string, body []byte) ([]byte, error) {
	query := url.Values{}
	query.Set("query", statement)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, client.config.BaseURL+"/?"+query.Encode(), reader)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	resp, err := client.http.Do(req)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if resp.StatusCode >= 400 {
		return nil, &StatementError{Code: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	return data, nil
}

// Exec runs a single statement, typically DDL. It is not retried; DDL
// failures are semantic and belong to the caller.
func (client *Client) Exec(ctx context.Context, statement string) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	data, err := client.post(ctx, statement, nil)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// TableExists probes system.tables for the given table.
func (client *Client) TableExists(ctx context.Context, database, table string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	statement := "SELECT count() FROM system.tables WHERE database = " +
		quoteLiteral(database) + " AND name = " + quoteLiteral(table) +
		" FORMAT TabSeparated"
	data, err := client.post(ctx, statement, nil)
	if err != nil {
		return false, err
	}

	count, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, nil
	}
	return count > 0, nil
}

// InsertRows writes rows into database.table as one JSON document per
// line. Transient failures are retried with the shared backoff policy;
// 4xx responses are semantic and surface immediately.
func (client *Client) InsertRows(ctx context.Context, database, table string, rows []map[string]interface{}) (err error) {
	defer mon.Task()(&ctx)(&err)

	if len(rows) == 0 {
		return nil
	}

	quotedDB, err := ident.Quote(database)
	if err != nil {
		return err
	}
	quotedTable, err := ident.Quote(table)
	if err != nil {
		return err
	}
	statement := "INSERT INTO " + quotedDB + "." + quotedTable + " FORMAT JSONEachRow"

	var payload bytes.Buffer
	encoder := json.NewEncoder(&payload)
	encoder.SetEscapeHTML(false)
	for _, row := range rows {
		if err := encoder.Encode(row); err != nil {
			return Error.Wrap(err)
		}
	}

	return retry.Do(ctx, client.config.Retry, func() error {
		_, err := client.post(ctx, statement, payload.Bytes())
		var statementErr *StatementError
		if errors.As(err, &statementErr) && statementErr.Code < 500 {
			return retry.Permanent(err)
		}
		return err
	})
}

// quoteLiteral renders a SQL string literal with quotes and backslashes
// escaped.
func quoteLiteral(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, `'`, `\'`)
	return "'" + value + "'"
}
