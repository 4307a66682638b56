// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

package metadata

import (
	"context"
	"database/sql"

	"github.com/zeebo/errs"
)

// Projects returns every enabled project in id order.
func (db *DB) Projects(ctx context.Context) (_ []Project, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.db.QueryContext(ctx, `
		SELECT project_id, timezone, enabled
		FROM metadata.projects
		WHERE enabled = TRUE
		ORDER BY project_id
	`)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var projects []Project
	for rows.Next() {
		var project Project
		var timezone sql.NullString
		if err := rows.Scan(&project.ID, &timezone, &project.Enabled); err != nil {
			return nil, Error.Wrap(err)
		}
		project.Timezone = timezone.String
		projects = append(projects, project)
	}
	return projects, Error.Wrap(rows.Err())
}

// FieldRegistry returns every enabled derived-column declaration in
// field id order.
func (db *DB) FieldRegistry(ctx context.Context) (_ []RegistryField, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.db.QueryContext(ctx, `
		SELECT field_id,
		       project_id,
		       dataset,
		       layer,
		       table_name,
		       column_name,
		       column_type,
		       expression_sql,
		       mode
		FROM metadata.field_registry
		WHERE enabled = TRUE
		ORDER BY field_id
	`)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var fields []RegistryField
	for rows.Next() {
		var field RegistryField
		var projectID, dataset, layer, expression, mode sql.NullString
		err := rows.Scan(
			&field.ID,
			&projectID,
			&dataset,
			&layer,
			&field.TableName,
			&field.ColumnName,
			&field.ColumnType,
			&expression,
			&mode,
		)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		field.ProjectID = projectID.String
		field.Dataset = dataset.String
		field.Layer = layer.String
		field.ExpressionSQL = expression.String
		field.Mode = mode.String
		fields = append(fields, field)
	}
	return fields, Error.Wrap(rows.Err())
}

// ParsingTables returns every enabled parsing-table declaration.
func (db *DB) ParsingTables(ctx context.Context) (_ []ParsingTable, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.db.QueryContext(ctx, `
		SELECT table_id, project_id, dataset, table_name, enabled
		FROM metadata.bronze_event_tables
		WHERE enabled = TRUE
		ORDER BY project_id, table_name
	`)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var tables []ParsingTable
	for rows.Next() {
		var table ParsingTable
		var projectID, dataset sql.NullString
		if err := rows.Scan(&table.ID, &projectID, &dataset, &table.TableName, &table.Enabled); err != nil {
			return nil, Error.Wrap(err)
		}
		table.ProjectID = projectID.String
		table.Dataset = dataset.String
		tables = append(tables, table)
	}
	return tables, Error.Wrap(rows.Err())
}

// ParsingFields returns the enabled columns of one parsing table in
// ordinal order.
func (db *DB) ParsingFields(ctx context.Context, tableID int64) (_ []ParsingField, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.db.QueryContext(ctx, `
		SELECT field_id, table_id, column_name, column_type, json_path, ordinal
		FROM metadata.bronze_event_fields
		WHERE table_id = $1
		  AND enabled = TRUE
		ORDER BY ordinal, column_name
	`, tableID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var fields []ParsingField
	for rows.Next() {
		var field ParsingField
		var jsonPath sql.NullString
		err := rows.Scan(
			&field.ID,
			&field.TableID,
			&field.ColumnName,
			&field.ColumnType,
			&jsonPath,
			&field.Ordinal,
		)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		field.JSONPath = jsonPath.String
		fields = append(fields, field)
	}
	return fields, Error.Wrap(rows.Err())
}
