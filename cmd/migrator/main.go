// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

// Command migrator applies the metadata-declared schema to the
// warehouse. It runs once and exits.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/bronzelake/datapipeline/clickhouse"
	"github.com/bronzelake/datapipeline/metadata"
	"github.com/bronzelake/datapipeline/migrator"
	"github.com/bronzelake/datapipeline/private/process"
	"github.com/bronzelake/datapipeline/private/retry"
)

func main() {
	var keepGoing bool

	apply := &cobra.Command{
		Use:   "apply",
		Short: "apply the declared schema to the warehouse",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(keepGoing)
		},
	}
	apply.Flags().BoolVar(&keepGoing, "keep-going", false, "run every step and report failures at the end")

	root := &cobra.Command{
		Use:           "migrator",
		Short:         "schema migrator for the warehouse",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(apply)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "migrator:", err)
		os.Exit(1)
	}
}

func runApply(keepGoing bool) error {
	env := viper.New()
	env.AutomaticEnv()
	env.SetDefault("LOG_LEVEL", "info")
	env.SetDefault("CLICKHOUSE_TIMEOUT_SECONDS", 30)
	env.SetDefault("MAX_RETRIES", 3)
	env.SetDefault("BACKOFF_BASE_SECONDS", 1.0)

	log, err := process.NewLogger(env.GetString("LOG_LEVEL"))
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	dsn := env.GetString("POSTGRES_DSN")
	if dsn == "" {
		return errors.New("POSTGRES_DSN is required")
	}
	warehouseURL := env.GetString("CLICKHOUSE_HTTP_URL")
	if warehouseURL == "" {
		return errors.New("CLICKHOUSE_HTTP_URL is required")
	}

	ctx, cancel := process.Ctx()
	defer cancel()

	db, err := metadata.Open(ctx, dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	warehouse := clickhouse.NewClient(log.Named("clickhouse"), clickhouse.Config{
		BaseURL: warehouseURL,
		Timeout: time.Duration(env.GetInt("CLICKHOUSE_TIMEOUT_SECONDS")) * time.Second,
		Retry: retry.Config{
			MaxAttempts: env.GetInt("MAX_RETRIES") + 1,
			BaseDelay:   time.Duration(env.GetFloat64("BACKOFF_BASE_SECONDS") * float64(time.Second)),
		},
	})

	service := migrator.New(log.Named("migrator"), db, warehouse)
	results, err := service.Run(ctx, keepGoing)
	if err != nil {
		return err
	}

	var failed int
	for _, result := range results {
		if result.Err != nil {
			failed++
		}
	}
	log.Info("migration finished",
		zap.Int("steps", len(results)),
		zap.Int("failed", failed))
	if failed > 0 {
		return fmt.Errorf("%d migration steps failed", failed)
	}
	return nil
}
