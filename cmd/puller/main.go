// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

// Command puller runs the ingestion loop: it pulls documents from every
// enabled source into the warehouse until the process is signalled.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/bronzelake/datapipeline/clickhouse"
	"github.com/bronzelake/datapipeline/metadata"
	"github.com/bronzelake/datapipeline/private/process"
	"github.com/bronzelake/datapipeline/private/secrets"
	"github.com/bronzelake/datapipeline/puller"
)

func main() {
	root := &cobra.Command{
		Use:   "puller",
		Short: "pulls documents from the configured search clusters into the warehouse",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "puller:", err)
		os.Exit(1)
	}
}

func run() error {
	env := viper.New()
	env.AutomaticEnv()
	setDefaults(env)

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

	config := puller.Config{
		PollInterval:      time.Duration(env.GetInt("POLL_INTERVAL_SECONDS")) * time.Second,
		BatchSize:         env.GetInt("BATCH_SIZE"),
		Overlap:           time.Duration(env.GetInt("OVERLAP_MINUTES")) * time.Minute,
		MaxRetries:        env.GetInt("MAX_RETRIES"),
		BackoffBase:       time.Duration(env.GetFloat64("BACKOFF_BASE_SECONDS") * float64(time.Second)),
		RateLimit:         time.Duration(env.GetFloat64("RATE_LIMIT_SECONDS") * float64(time.Second)),
		OpenSearchTimeout: time.Duration(env.GetInt("OPENSEARCH_TIMEOUT_SECONDS")) * time.Second,
		ClickHouseTimeout: time.Duration(env.GetInt("CLICKHOUSE_TIMEOUT_SECONDS")) * time.Second,
		VerifyTLS:         env.GetBool("OPENSEARCH_VERIFY_SSL"),
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
		Timeout: config.ClickHouseTimeout,
		Retry:   config.RetryConfig(),
	})
	resolver := secrets.NewResolver(log.Named("secrets"), env.GetString("SECRET_KEY"))

	workerID := resolveWorkerID(env)
	log.Info("starting puller", zap.String("worker_id", workerID))

	service := puller.New(log.Named("puller"), db, warehouse, resolver, workerID, config)
	defer func() { _ = service.Close() }()

	err = service.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info("shutting down")
		return nil
	}
	return err
}

func setDefaults(env *viper.Viper) {
	env.SetDefault("LOG_LEVEL", "info")
	env.SetDefault("POLL_INTERVAL_SECONDS", 30)
	env.SetDefault("BATCH_SIZE", 500)
	env.SetDefault("OVERLAP_MINUTES", 10)
	env.SetDefault("MAX_RETRIES", 3)
	env.SetDefault("BACKOFF_BASE_SECONDS", 1.0)
	env.SetDefault("RATE_LIMIT_SECONDS", 0.0)
	env.SetDefault("OPENSEARCH_TIMEOUT_SECONDS", 30)
	env.SetDefault("CLICKHOUSE_TIMEOUT_SECONDS", 30)
	env.SetDefault("OPENSEARCH_VERIFY_SSL", true)
}

func resolveWorkerID(env *viper.Viper) string {
	if id := env.GetString("WORKER_ID"); id != "" {
		return id
	}
	if host := env.GetString("HOSTNAME"); host != "" {
		return host
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "opensearch-puller"
}
