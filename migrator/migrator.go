// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

// Package migrator materializes the declared schema in the warehouse:
// per-project databases, the raw landing table, typed parsing tables
// with their continuous views, and registry-declared derived columns.
// Every statement is idempotent except view recreation.
package migrator

import (
	"context"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/bronzelake/datapipeline/metadata"
)

var (
	mon = monkit.Package()

	// Error is the class of migrator errors.
	Error = errs.Class("migrator")
)

// Store is the metadata surface the migrator reads.
type Store interface {
	Projects(ctx context.Context) ([]metadata.Project, error)
	FieldRegistry(ctx context.Context) ([]metadata.RegistryField, error)
	ParsingTables(ctx context.Context) ([]metadata.ParsingTable, error)
	ParsingFields(ctx context.Context, tableID int64) ([]metadata.ParsingField, error)
}

// Warehouse is the DDL surface the migrator writes.
type Warehouse interface {
	EnsureDefaultBronzeColumns(ctx context.Context) error
	EnsureProjectStorage(ctx context.Context, projectID string) error
	Exec(ctx context.Context, statement string) (string, error)
}

// Result records the outcome of one migration step.
type Result struct {
	Step   string
	Target string
	Err    error
}

// Migrator applies the metadata-declared schema to the warehouse.
type Migrator struct {
	log       *zap.Logger
	store     Store
	warehouse Warehouse
}

// New creates a migrator.
func New(log *zap.Logger, store Store, warehouse Warehouse) *Migrator {
	return &Migrator{
		log:       log,
		store:     store,
		warehouse: warehouse,
	}
}

// Run applies every migration step. With collect set, step failures are
// recorded and the run continues; otherwise the first failure stops the
// run. Metadata read failures are always fatal.
func (migrator *Migrator) Run(ctx context.Context, collect bool) (_ []Result, err error) {
	defer mon.Task()(&ctx)(&err)

	projects, err := migrator.store.Projects(ctx)
	if err != nil {
		return nil, err
	}
	registry, err := migrator.store.FieldRegistry(ctx)
	if err != nil {
		return nil, err
	}
	tables, err := migrator.store.ParsingTables(ctx)
	if err != nil {
		return nil, err
	}

	run := &migrationRun{migrator: migrator, collect: collect}

	run.step(ctx, "legacy bronze columns", "bronze", func(ctx context.Context) error {
		return migrator.warehouse.EnsureDefaultBronzeColumns(ctx)
	})

	enabled := make(map[string]bool, len(projects))
	for _, project := range projects {
		enabled[project.ID] = true
		run.step(ctx, "project storage", project.ID, func(ctx context.Context) error {
			return migrator.warehouse.EnsureProjectStorage(ctx, project.ID)
		})
	}

	for _, table := range tables {
		if run.stopped() {
			break
		}
		fields, err := migrator.store.ParsingFields(ctx, table.ID)
		if err != nil {
			return run.results, err
		}
		for _, projectID := range migrator.tableScope(table, projects, enabled) {
			run.step(ctx, "parsing table", projectID+"."+table.TableName, func(ctx context.Context) error {
				return migrator.ensureParsingTable(ctx, projectID, table, fields)
			})
		}
	}

	for _, field := range registry {
		if run.stopped() {
			break
		}
		for _, projectID := range migrator.registryScope(field, projects, enabled) {
			run.step(ctx, "registry field", projectID+"."+field.TableName+"."+field.ColumnName, func(ctx context.Context) error {
				return migrator.applyRegistryField(ctx, projectID, field)
			})
		}
	}

	if !collect && run.failure != nil {
		return run.results, run.failure
	}
	return run.results, nil
}

// tableScope returns the projects a parsing table applies to: its own
// when declared and enabled, otherwise every enabled project. A table
// pinned to a disabled or unknown project is skipped, its target
// database was never created.
func (migrator *Migrator) tableScope(table metadata.ParsingTable, projects []metadata.Project, enabled map[string]bool) []string {
	if table.ProjectID != "" {
		if !enabled[table.ProjectID] {
			migrator.log.Warn("skipping parsing table scoped to a project that is not enabled",
				zap.Int64("table", table.ID),
				zap.String("project", table.ProjectID))
			return nil
		}
		return []string{table.ProjectID}
	}
	scope := make([]string, 0, len(projects))
	for _, project := range projects {
		scope = append(scope, project.ID)
	}
	return scope
}

func (migrator *Migrator) registryScope(field metadata.RegistryField, projects []metadata.Project, enabled map[string]bool) []string {
	if field.ProjectID != "" {
		if !enabled[field.ProjectID] {
			migrator.log.Warn("skipping registry field scoped to a project that is not enabled",
				zap.Int64("field", field.ID),
				zap.String("project", field.ProjectID))
			return nil
		}
		return []string{field.ProjectID}
	}
	scope := make([]string, 0, len(projects))
	for _, project := range projects {
		scope = append(scope, project.ID)
	}
	return scope
}

func (migrator *Migrator) ensureParsingTable(ctx context.Context, projectID string, table metadata.ParsingTable, fields []metadata.ParsingField) (err error) {
	defer mon.Task()(&ctx)(&err)

	statements, err := buildParsingStatements(projectID, table, fields)
	if err != nil {
		return err
	}
	for _, statement := range statements {
		if _, err := migrator.warehouse.Exec(ctx, statement); err != nil {
			return err
		}
	}
	return nil
}

// applyRegistryField adds one derived column. Unknown layers are logged
// and skipped rather than failing the run.
func (migrator *Migrator) applyRegistryField(ctx context.Context, projectID string, field metadata.RegistryField) (err error) {
	defer mon.Task()(&ctx)(&err)

	if _, ok := layerSuffix(field.Layer); !ok {
		migrator.log.Warn("skipping registry field with unknown layer",
			zap.Int64("field", field.ID),
			zap.String("layer", field.Layer))
		return nil
	}
	statement, err := buildRegistryStatement(projectID, field)
	if err != nil {
		return err
	}
	_, err = migrator.warehouse.Exec(ctx, statement)
	return err
}

// migrationRun tracks per-step outcomes and the stop decision.
type migrationRun struct {
	migrator *Migrator
	collect  bool
	results  []Result
	failure  error
}

func (run *migrationRun) stopped() bool {
	return !run.collect && run.failure != nil
}

func (run *migrationRun) step(ctx context.Context, name, target string, fn func(ctx context.Context) error) {
	if run.stopped() {
		return
	}
	err := fn(ctx)
	run.results = append(run.results, Result{Step: name, Target: target, Err: err})
	if err != nil {
		run.migrator.log.Error("migration step failed",
			zap.String("step", name),
			zap.String("target", target),
			zap.Error(err))
		if run.failure == nil {
			run.failure = err
		}
	}
}
