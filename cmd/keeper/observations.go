package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"feedKeeper/internal/config"
	"feedKeeper/internal/feed"
	"feedKeeper/internal/pipeline"
	"feedKeeper/internal/storage"
	"feedKeeper/internal/storage/postgres"
)

func runObservations(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadObservations(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, chainID, err := dialChain(ctx, cfg.Chain, 0)
	if err != nil {
		return err
	}
	defer chainClient.Close()

	jobAddress, err := resolveJob(cfg.Chain, chainID)
	if err != nil {
		return err
	}
	job, err := feed.NewJob(chainClient, jobAddress)
	if err != nil {
		return err
	}
	dataFeed, err := resolveDataFeed(ctx, cfg.Chain, chainID, job)
	if err != nil {
		return fmt.Errorf("resolve data feed: %w", err)
	}

	var sink storage.ObservationSink
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		sink = store
	} else {
		sink = storage.ObservationFiles{
			Observations: storage.NewJsonlStorage(cfg.Out),
			Errors:       storage.NewJsonlStorage(cfg.Errors),
		}
	}

	normalizer, err := feed.NewNormalizer()
	if err != nil {
		return err
	}

	exporter := pipeline.NewExporter(pipeline.ExportConfig{
		DataFeed:          dataFeed,
		FromBlock:         cfg.FromBlock,
		ToBlock:           cfg.ToBlock,
		BatchSize:         cfg.BatchSize,
		CheckpointPath:    cfg.Checkpoint,
		CheckpointEnabled: cfg.CheckpointEnabled,
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff,
	}, chainClient, normalizer, sink, logger)

	logger.Info("export start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("chain_id", chainID.String()),
		zap.String("data_feed", dataFeed.Hex()),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Bool("postgres", cfg.PGDSN != ""),
	)

	stats, err := exporter.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("export complete",
		zap.Int("logs", stats.Logs),
		zap.Int("observations", stats.Observations),
		zap.Int("failed", stats.Failed),
	)
	return nil
}
