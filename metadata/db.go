// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

// Package metadata is the typed gateway over the relational metadata
// store. Every operation is a single autocommitted statement; the
// package holds no long-lived transactions, so concurrent editors and
// workers only contend at row level.
package metadata

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "github.com/lib/pq"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var (
	mon = monkit.Package()

	// Error is the class of metadata store errors.
	Error = errs.Class("metadata")
)

// DB provides access to the metadata tables.
type DB struct {
	db *sql.DB
}

// Open connects to the metadata store and verifies the connection.
func Open(ctx context.Context, dsn string) (*DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, errs.Combine(Error.Wrap(err), db.Close())
	}
	return &DB{db: db}, nil
}

// Wrap reuses an existing handle; tests use it with mocked connections.
func Wrap(db *sql.DB) *DB {
	return &DB{db: db}
}

// Close releases the connection pool.
func (db *DB) Close() error {
	return Error.Wrap(db.db.Close())
}

// marshalSort renders sort values for a jsonb parameter; nil stays NULL.
func marshalSort(sort []interface{}) (interface{}, error) {
	if sort == nil {
		return nil, nil
	}
	data, err := json.Marshal(sort)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return string(data), nil
}

// unmarshalSort decodes a jsonb column into sort values.
func unmarshalSort(raw []byte) ([]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var sort []interface{}
	if err := json.Unmarshal(raw, &sort); err != nil {
		return nil, Error.Wrap(err)
	}
	return sort, nil
}

// nullString renders "" as SQL NULL.
func nullString(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
