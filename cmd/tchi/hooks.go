package main

import (
	"context"
	"fmt"
	"log/slog"

	kafkaadapter "github.com/couchcryptid/tchi-pipeline/internal/adapter/kafka"
	"github.com/couchcryptid/tchi-pipeline/internal/adapter/postgres"
	s3adapter "github.com/couchcryptid/tchi-pipeline/internal/adapter/s3"
	"github.com/couchcryptid/tchi-pipeline/internal/config"
	"github.com/couchcryptid/tchi-pipeline/internal/pipeline"
)

// buildHooks wires the run hooks enabled in cfg. The returned func closes
// their connections.
func buildHooks(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]pipeline.RunHook, func(), error) {
	var (
		hooks   []pipeline.RunHook
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.KafkaEnabled {
		pub := kafkaadapter.NewRunPublisher(cfg, logger)
		hooks = append(hooks, pub)
		closers = append(closers, func() { logClose(logger, "kafka writer", pub.Close) })
		logger.Info("run events enabled", "topic", cfg.KafkaRunsTopic, "brokers", cfg.KafkaBrokers)
	}

	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { logClose(logger, "postgres", db.Close) })
		store := postgres.NewRunStore(db, logger)
		if err := store.EnsureSchema(ctx); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		hooks = append(hooks, store)
		logger.Info("run metadata enabled")
	}

	if cfg.ArchiveBucket != "" {
		client, err := s3adapter.NewClient(ctx)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		hooks = append(hooks, s3adapter.NewArchiver(client, cfg.ArchiveBucket, cfg.ArchivePrefix, logger))
		logger.Info("run archival enabled", "bucket", cfg.ArchiveBucket, "prefix", cfg.ArchivePrefix)
	}

	return hooks, closeAll, nil
}
