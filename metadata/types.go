// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

package metadata

import "time"

// Backfill job statuses. A job is claimable while pending or running;
// the other three are terminal.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// Ingestion state statuses for one (source, index).
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateError   = "error"
)

// Project is one tenant.
type Project struct {
	ID       string
	Timezone string
	Enabled  bool
}

// Source is one upstream cluster to pull from, joined with its project's
// timezone. SecretRef and SecretEnc are alternative credential storages;
// the resolver prefers the file reference.
type Source struct {
	ID              int64
	ProjectID       string
	Name            string
	BaseURL         string
	AuthType        string
	Username        string
	SecretRef       string
	SecretEnc       []byte
	IndexPattern    string
	TimeField       string
	QueryFilterJSON string
	Timezone        string
}

// Checkpoint is the resume cursor within one index: the last ingested
// document's timestamp, sort values and id.
type Checkpoint struct {
	LastTS   *time.Time
	LastSort []interface{}
	LastID   string
}

// IngestionState is the incremental tail position for one (source, index).
type IngestionState struct {
	SourceID  int64
	IndexName string
	Checkpoint
	Status    string
	LastError string
}

// BackfillJob is a bounded historical load for one source.
type BackfillJob struct {
	ID              int64
	SourceID        int64
	StartTS         *time.Time
	EndTS           *time.Time
	ThrottleSeconds float64
	Status          string
	LastError       string
	LastIndexName   string
	Checkpoint
}

// Active reports whether the job may still be processed.
func (job *BackfillJob) Active() bool {
	return job.Status == JobPending || job.Status == JobRunning
}

// PullerConfigRow is the operator-editable override of the puller
// configuration. Nil fields are unset and leave the effective value
// untouched.
type PullerConfigRow struct {
	PollIntervalSeconds      *int64
	OverlapMinutes           *int64
	BatchSize                *int64
	MaxRetries               *int64
	BackoffBaseSeconds       *float64
	RateLimitSeconds         *float64
	OpenSearchTimeoutSeconds *int64
	ClickHouseTimeoutSeconds *int64
	OpenSearchVerifySSL      *bool
}

// ParsingTable declares one typed per-project table fed from the raw
// landing table. An empty ProjectID scopes the table to every enabled
// project.
type ParsingTable struct {
	ID        int64
	ProjectID string
	Dataset   string
	TableName string
	Enabled   bool
}

// ParsingField declares one column of a parsing table. JSONPath is a
// newline- or comma-separated fallback list of paths.
type ParsingField struct {
	ID         int64
	TableID    int64
	ColumnName string
	ColumnType string
	JSONPath   string
	Ordinal    int
}

// RegistryField declares one derived column added to an existing table.
type RegistryField struct {
	ID            int64
	ProjectID     string
	Dataset       string
	Layer         string
	TableName     string
	ColumnName    string
	ColumnType    string
	ExpressionSQL string
	Mode          string
}
