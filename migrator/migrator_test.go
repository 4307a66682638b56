// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

package migrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/bronzelake/datapipeline/metadata"
)

type fakeMetadata struct {
	projects []metadata.Project
	registry []metadata.RegistryField
	tables   []metadata.ParsingTable
	fields   map[int64][]metadata.ParsingField
}

func (fake *fakeMetadata) Projects(ctx context.Context) ([]metadata.Project, error) {
	return fake.projects, nil
}

func (fake *fakeMetadata) FieldRegistry(ctx context.Context) ([]metadata.RegistryField, error) {
	return fake.registry, nil
}

func (fake *fakeMetadata) ParsingTables(ctx context.Context) ([]metadata.ParsingTable, error) {
	return fake.tables, nil
}

func (fake *fakeMetadata) ParsingFields(ctx context.Context, tableID int64) ([]metadata.ParsingField, error) {
	return fake.fields[tableID], nil
}

type fakeDDL struct {
	statements   []string
	failPrefix   string
	defaultCalls int
	projects     []string
}

func (fake *fakeDDL) EnsureDefaultBronzeColumns(ctx context.Context) error {
	fake.defaultCalls++
	return nil
}

func (fake *fakeDDL) EnsureProjectStorage(ctx context.Context, projectID string) error {
	fake.projects = append(fake.projects, projectID)
	return nil
}

func (fake *fakeDDL) Exec(ctx context.Context, statement string) (string, error) {
	if fake.failPrefix != "" && strings.HasPrefix(statement, fake.failPrefix) {
		return "", errors.New("ddl rejected")
	}
	fake.statements = append(fake.statements, statement)
	return "", nil
}

func eventFields() []metadata.ParsingField {
	return []metadata.ParsingField{
		{TableID: 1, ColumnName: "event_ts", ColumnType: "DateTime64(3)", JSONPath: "__event_ts", Ordinal: 0},
		{TableID: 1, ColumnName: "event_id", ColumnType: "String", JSONPath: "__event_id", Ordinal: 1},
		{TableID: 1, ColumnName: "src_ip", ColumnType: "Nullable(IPv6)", JSONPath: "$.source.ip\n$.client.ip", Ordinal: 2},
	}
}

func TestBuildParsingStatements(t *testing.T) {
	table := metadata.ParsingTable{ID: 1, TableName: "flow_events", Dataset: "suricata"}
	statements, err := buildParsingStatements("demo", table, eventFields())
	require.NoError(t, err)
	require.Len(t, statements, 6)

	assert.Equal(t,
		"CREATE TABLE IF NOT EXISTS `demo_bronze`.`flow_events` "+
			"(`event_ts` DateTime64(3), `event_id` String, `src_ip` Nullable(IPv6)) "+
			"ENGINE = MergeTree PARTITION BY toDate(event_ts) ORDER BY (event_ts, event_id)",
		statements[0])
	assert.Equal(t,
		"ALTER TABLE `demo_bronze`.`flow_events` ADD COLUMN IF NOT EXISTS `src_ip` Nullable(IPv6)",
		statements[3])
	assert.Equal(t, "DROP VIEW IF EXISTS `demo_bronze`.`flow_events_mv`", statements[4])

	view := statements[5]
	assert.True(t, strings.HasPrefix(view,
		"CREATE MATERIALIZED VIEW `demo_bronze`.`flow_events_mv` TO `demo_bronze`.`flow_events` AS SELECT "))
	assert.Contains(t, view,
		"coalesce(toIPv6OrNull(JSON_VALUE(raw,'$.source.ip')), toIPv6OrNull(JSON_VALUE(raw,'$.client.ip'))) AS `src_ip`")
	assert.Contains(t, view, "FROM `demo_bronze`.`os_events_raw` WHERE (")
	assert.Contains(t, view, "'suricata'")
}

func TestBuildParsingStatementsWithoutEventID(t *testing.T) {
	table := metadata.ParsingTable{ID: 1, TableName: "flow_events"}
	fields := []metadata.ParsingField{
		{TableID: 1, ColumnName: "event_ts", ColumnType: "DateTime64(3)", JSONPath: "__event_ts"},
	}
	statements, err := buildParsingStatements("demo", table, fields)
	require.NoError(t, err)
	assert.Contains(t, statements[0], "ORDER BY (event_ts)")
	// no dataset means the view admits every row
	assert.Contains(t, statements[len(statements)-1], "WHERE 1")
}

func TestBuildParsingStatementsRequiresEventTS(t *testing.T) {
	table := metadata.ParsingTable{ID: 1, TableName: "flow_events"}
	fields := []metadata.ParsingField{
		{TableID: 1, ColumnName: "msg", ColumnType: "String", JSONPath: "message"},
	}
	_, err := buildParsingStatements("demo", table, fields)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event_ts")
}

func TestBuildRegistryStatement(t *testing.T) {
	statement, err := buildRegistryStatement("demo", metadata.RegistryField{
		Layer:         "bronze",
		TableName:     "os_events_raw",
		ColumnName:    "k",
		ColumnType:    "Nullable(String)",
		ExpressionSQL: "JSONExtractString(raw,'k')",
		Mode:          "ALIAS",
	})
	require.NoError(t, err)
	assert.Equal(t,
		"ALTER TABLE `demo_bronze`.`os_events_raw` ADD COLUMN IF NOT EXISTS `k` Nullable(String) ALIAS JSONExtractString(raw,'k')",
		statement)
}

func TestBuildRegistryStatementVariants(t *testing.T) {
	// no expression adds a plain column
	statement, err := buildRegistryStatement("demo", metadata.RegistryField{
		Layer:      "gold_fact",
		TableName:  "fact_events",
		ColumnName: "cnt",
		ColumnType: "UInt64",
	})
	require.NoError(t, err)
	assert.Equal(t, "ALTER TABLE `demo_gold`.`fact_events` ADD COLUMN IF NOT EXISTS `cnt` UInt64", statement)

	// an explicit database in the table name wins over the layer
	statement, err = buildRegistryStatement("demo", metadata.RegistryField{
		Layer:         "bronze",
		TableName:     "shared.events",
		ColumnName:    "k",
		ColumnType:    "String",
		ExpressionSQL: "upper(k)",
		Mode:          "MATERIALIZED",
	})
	require.NoError(t, err)
	assert.Equal(t, "ALTER TABLE `shared`.`events` ADD COLUMN IF NOT EXISTS `k` String MATERIALIZED upper(k)", statement)

	// hand-entered layers come with stray case and whitespace
	statement, err = buildRegistryStatement("demo", metadata.RegistryField{
		Layer:      " Bronze ",
		TableName:  "os_events_raw",
		ColumnName: "k",
		ColumnType: "String",
	})
	require.NoError(t, err)
	assert.Equal(t, "ALTER TABLE `demo_bronze`.`os_events_raw` ADD COLUMN IF NOT EXISTS `k` String", statement)

	_, err = buildRegistryStatement("demo", metadata.RegistryField{Layer: "platinum"})
	require.Error(t, err)
}

func TestMigratorRun(t *testing.T) {
	ctx := context.Background()
	store := &fakeMetadata{
		projects: []metadata.Project{{ID: "alpha", Enabled: true}, {ID: "beta", Enabled: true}},
		tables: []metadata.ParsingTable{
			{ID: 1, TableName: "flow_events", Dataset: "suricata"},
		},
		fields: map[int64][]metadata.ParsingField{1: eventFields()},
		registry: []metadata.RegistryField{
			{ID: 10, ProjectID: "alpha", Layer: "bronze", TableName: "os_events_raw",
				ColumnName: "k", ColumnType: "Nullable(String)",
				ExpressionSQL: "JSONExtractString(raw,'k')", Mode: "ALIAS"},
			{ID: 11, ProjectID: "alpha", Layer: "platinum", TableName: "x", ColumnName: "y", ColumnType: "String"},
		},
	}
	warehouse := &fakeDDL{}
	service := New(zaptest.NewLogger(t), store, warehouse)

	results, err := service.Run(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, 1, warehouse.defaultCalls)
	assert.Equal(t, []string{"alpha", "beta"}, warehouse.projects)

	// the unscoped parsing table lands in every enabled project
	var created []string
	for _, statement := range warehouse.statements {
		if strings.HasPrefix(statement, "CREATE TABLE") {
			created = append(created, statement)
		}
	}
	require.Len(t, created, 2)
	assert.Contains(t, created[0], "`alpha_bronze`.`flow_events`")
	assert.Contains(t, created[1], "`beta_bronze`.`flow_events`")

	// the unknown layer is skipped without failing the run
	for _, result := range results {
		assert.NoError(t, result.Err, "step %s %s", result.Step, result.Target)
	}
	assert.Contains(t, warehouse.statements,
		"ALTER TABLE `alpha_bronze`.`os_events_raw` ADD COLUMN IF NOT EXISTS `k` Nullable(String) ALIAS JSONExtractString(raw,'k')")
}

func TestMigratorRunSkipsDisabledProjects(t *testing.T) {
	ctx := context.Background()
	store := &fakeMetadata{
		projects: []metadata.Project{{ID: "alpha", Enabled: true}},
		tables: []metadata.ParsingTable{
			{ID: 1, ProjectID: "ghost", TableName: "flow_events"},
		},
		fields: map[int64][]metadata.ParsingField{1: eventFields()},
		registry: []metadata.RegistryField{
			{ID: 10, ProjectID: "ghost", Layer: "bronze", TableName: "os_events_raw",
				ColumnName: "k", ColumnType: "String"},
		},
	}
	warehouse := &fakeDDL{}
	service := New(zaptest.NewLogger(t), store, warehouse)

	results, err := service.Run(ctx, false)
	require.NoError(t, err)

	// no DDL targets a database that was never created
	for _, statement := range warehouse.statements {
		assert.False(t, strings.Contains(statement, "ghost"), statement)
	}
	for _, result := range results {
		assert.False(t, strings.Contains(result.Target, "ghost"), result.Target)
	}
}

func TestMigratorRunStopsOnFirstFailure(t *testing.T) {
	ctx := context.Background()
	store := &fakeMetadata{
		projects: []metadata.Project{{ID: "alpha", Enabled: true}},
		tables: []metadata.ParsingTable{
			{ID: 1, ProjectID: "alpha", TableName: "flow_events"},
			{ID: 2, ProjectID: "alpha", TableName: "dns_events"},
		},
		fields: map[int64][]metadata.ParsingField{
			1: eventFields(),
			2: eventFields(),
		},
	}
	warehouse := &fakeDDL{failPrefix: "CREATE TABLE"}
	service := New(zaptest.NewLogger(t), store, warehouse)

	results, err := service.Run(ctx, false)
	require.Error(t, err)
	// the second table never ran
	var failed int
	for _, result := range results {
		if result.Err != nil {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
	for _, statement := range warehouse.statements {
		assert.False(t, strings.Contains(statement, "dns_events"))
	}
}

func TestMigratorRunCollectsFailures(t *testing.T) {
	ctx := context.Background()
	store := &fakeMetadata{
		projects: []metadata.Project{{ID: "alpha", Enabled: true}},
		tables: []metadata.ParsingTable{
			{ID: 1, ProjectID: "alpha", TableName: "flow_events"},
			{ID: 2, ProjectID: "alpha", TableName: "dns_events"},
		},
		fields: map[int64][]metadata.ParsingField{
			1: eventFields(),
			2: eventFields(),
		},
	}
	warehouse := &fakeDDL{failPrefix: "CREATE TABLE"}
	service := New(zaptest.NewLogger(t), store, warehouse)

	results, err := service.Run(ctx, true)
	require.NoError(t, err)

	var failed int
	for _, result := range results {
		if result.Err != nil {
			failed++
		}
	}
	assert.Equal(t, 2, failed)
}
