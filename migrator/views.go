// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

package migrator

import (
	"strings"

	"github.com/bronzelake/datapipeline/clickhouse"
	"github.com/bronzelake/datapipeline/metadata"
	"github.com/bronzelake/datapipeline/private/ident"
)

// buildParsingStatements renders the DDL for one parsing table within
// one project: the typed table, per-column evolution alters, and the
// continuous view feeding it from the raw landing table. The view is
// dropped and recreated so expression changes always take effect.
func buildParsingStatements(projectID string, table metadata.ParsingTable, fields []metadata.ParsingField) ([]string, error) {
	if len(fields) == 0 {
		return nil, Error.New("parsing table %q has no enabled fields", table.TableName)
	}

	database, err := ident.Quote(clickhouse.BronzeDatabase(projectID))
	if err != nil {
		return nil, err
	}
	tableName, err := ident.Quote(table.TableName)
	if err != nil {
		return nil, err
	}
	viewName, err := ident.Quote(table.TableName + "_mv")
	if err != nil {
		return nil, err
	}
	rawTable, err := ident.Quote(clickhouse.RawEventsTable)
	if err != nil {
		return nil, err
	}
	target := database + "." + tableName

	hasEventTS := false
	hasEventID := false
	columns := make([]string, 0, len(fields))
	selects := make([]string, 0, len(fields))
	for _, field := range fields {
		column, err := ident.Quote(field.ColumnName)
		if err != nil {
			return nil, err
		}
		switch field.ColumnName {
		case "event_ts":
			hasEventTS = true
		case "event_id":
			hasEventID = true
		}
		columns = append(columns, column+" "+field.ColumnType)

		expression, err := CompileExpression(field.JSONPath, field.ColumnType)
		if err != nil {
			return nil, err
		}
		selects = append(selects, expression+" AS "+column)
	}
	if !hasEventTS {
		return nil, Error.New("parsing table %q has no event_ts column", table.TableName)
	}

	orderBy := "(event_ts)"
	if hasEventID {
		orderBy = "(event_ts, event_id)"
	}

	statements := []string{
		"CREATE TABLE IF NOT EXISTS " + target + " (" + strings.Join(columns, ", ") + ")" +
			" ENGINE = MergeTree" +
			" PARTITION BY toDate(event_ts)" +
			" ORDER BY " + orderBy,
	}
	for _, column := range columns {
		statements = append(statements,
			"ALTER TABLE "+target+" ADD COLUMN IF NOT EXISTS "+column)
	}
	statements = append(statements,
		"DROP VIEW IF EXISTS "+database+"."+viewName,
		"CREATE MATERIALIZED VIEW "+database+"."+viewName+
			" TO "+target+
			" AS SELECT "+strings.Join(selects, ", ")+
			" FROM "+database+"."+rawTable+
			" WHERE "+datasetPredicate(table.Dataset),
	)
	return statements, nil
}
