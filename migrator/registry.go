// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

package migrator

import (
	"strings"

	"github.com/bronzelake/datapipeline/metadata"
	"github.com/bronzelake/datapipeline/private/ident"
)

// Derived-column modes.
const (
	ModeAlias        = "ALIAS"
	ModeMaterialized = "MATERIALIZED"
)

// layerSuffix maps a registry layer to its database suffix. Layers are
// declared by hand in the metadata, so case and whitespace vary.
func layerSuffix(layer string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(layer)) {
	case "bronze":
		return "_bronze", true
	case "gold", "gold_fact", "gold_dim":
		return "_gold", true
	}
	return "", false
}

// buildRegistryStatement renders the ALTER adding one derived column
// within one project. A table name carrying an explicit database wins
// over the layer-derived one. Without an expression the column is added
// plain; with one it defaults to ALIAS unless MATERIALIZED is declared.
func buildRegistryStatement(projectID string, field metadata.RegistryField) (string, error) {
	suffix, ok := layerSuffix(field.Layer)
	if !ok {
		return "", Error.New("unknown layer %q", field.Layer)
	}

	databaseName := projectID + suffix
	tableName := field.TableName
	if explicit, rest, found := strings.Cut(field.TableName, "."); found {
		databaseName = explicit
		tableName = rest
	}

	database, err := ident.Quote(databaseName)
	if err != nil {
		return "", err
	}
	table, err := ident.Quote(tableName)
	if err != nil {
		return "", err
	}
	column, err := ident.Quote(field.ColumnName)
	if err != nil {
		return "", err
	}

	statement := "ALTER TABLE " + database + "." + table +
		" ADD COLUMN IF NOT EXISTS " + column + " " + field.ColumnType
	if strings.TrimSpace(field.ExpressionSQL) != "" {
		mode := ModeAlias
		if strings.EqualFold(field.Mode, ModeMaterialized) {
			mode = ModeMaterialized
		}
		statement += " " + mode + " " + field.ExpressionSQL
	}
	return statement, nil
}
