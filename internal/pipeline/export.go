package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"feedKeeper/internal/chain"
	"feedKeeper/internal/feed"
	"feedKeeper/internal/model"
	"feedKeeper/internal/storage"
)

// EventQuerier reads historical logs.
type EventQuerier interface {
	LatestBlock(ctx context.Context) (model.BlockRef, error)
	QueryEvents(ctx context.Context, filter chain.EventFilter, fromBlock, toBlock uint64) ([]types.Log, error)
}

// ExportConfig holds settings for exporting observations over a block range.
type ExportConfig struct {
	DataFeed          common.Address
	FromBlock         uint64
	ToBlock           uint64
	BatchSize         uint64
	CheckpointPath    string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
}

// ExportStats summarizes an export run.
type ExportStats struct {
	Logs         int
	Observations int
	Failed       int
}

// Exporter decodes PoolObserved logs in a block range into an ObservationSink.
type Exporter struct {
	cfg        ExportConfig
	source     EventQuerier
	normalizer *feed.Normalizer
	sink       storage.ObservationSink
	logger     *zap.Logger
	checkpoint *CheckpointStore
}

func NewExporter(cfg ExportConfig, source EventQuerier, normalizer *feed.Normalizer, sink storage.ObservationSink, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		cfg:        cfg,
		source:     source,
		normalizer: normalizer,
		sink:       sink,
		logger:     logger,
		checkpoint: NewCheckpointStore(cfg.CheckpointPath, cfg.CheckpointEnabled, cfg.DataFeed),
	}
}

// Run exports the configured range, resuming after the last checkpoint.
func (e *Exporter) Run(ctx context.Context) (ExportStats, error) {
	var stats ExportStats
	if e.source == nil || e.normalizer == nil || e.sink == nil {
		return stats, fmt.Errorf("exporter requires a source, normalizer and sink")
	}
	if e.cfg.BatchSize == 0 {
		return stats, fmt.Errorf("batch size must be greater than zero")
	}

	retry := newBackoff(e.cfg.MaxRetries, e.cfg.RetryBackoff, e.logger)

	span := BlockRange{From: e.cfg.FromBlock, To: e.cfg.ToBlock}
	if span.To == 0 {
		var latest model.BlockRef
		err := retry.do(ctx, "latest block fetch", func(ctx context.Context) error {
			var err error
			latest, err = e.source.LatestBlock(ctx)
			return err
		})
		if err != nil {
			return stats, fmt.Errorf("get latest block: %w", err)
		}
		span.To = latest.Number
	}

	cp, ok, err := e.checkpoint.Load()
	if err != nil {
		return stats, err
	}
	if ok {
		span = span.After(cp.LastProcessedBlock)
		e.logger.Info("resume from checkpoint", zap.Uint64("last_processed", cp.LastProcessedBlock), zap.Uint64("from", span.From))
	}
	if span.Len() == 0 {
		e.logger.Info("nothing to export", zap.Uint64("from", span.From), zap.Uint64("to", span.To))
		return stats, nil
	}

	ranges, err := span.Batches(e.cfg.BatchSize)
	if err != nil {
		return stats, err
	}
	filter := chain.EventFilter{
		Addresses: []common.Address{e.cfg.DataFeed},
		Topic0:    []common.Hash{e.normalizer.Topic0()},
	}

	for _, blockRange := range ranges {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		var logs []types.Log
		err := retry.do(ctx, "query events", func(ctx context.Context) error {
			var err error
			logs, err = e.source.QueryEvents(ctx, filter, blockRange.From, blockRange.To)
			return err
		}, zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
		if err != nil {
			return stats, fmt.Errorf("query events: %w", err)
		}

		observations := make([]model.Observation, 0, len(logs))
		var failures []model.DecodeError
		for _, log := range logs {
			if log.Removed {
				continue
			}
			obs, err := e.normalizer.Decode(log)
			if err != nil {
				var decodeErr *feed.DecodeError
				if errors.As(err, &decodeErr) {
					failures = append(failures, decodeErr.Record())
				} else {
					failures = append(failures, model.DecodeError{BlockNumber: log.BlockNumber, TxHash: log.TxHash.Hex(), Error: err.Error()})
				}
				continue
			}
			observations = append(observations, obs)
		}

		if err := e.sink.PutObservations(ctx, observations); err != nil {
			return stats, fmt.Errorf("store observations: %w", err)
		}
		if err := e.sink.PutDecodeErrors(ctx, failures); err != nil {
			return stats, fmt.Errorf("store decode errors: %w", err)
		}
		if err := e.checkpoint.Save(blockRange.To); err != nil {
			return stats, err
		}

		stats.Logs += len(logs)
		stats.Observations += len(observations)
		stats.Failed += len(failures)
		e.logger.Info("batch complete",
			zap.Int("observations", len(observations)),
			zap.Int("failed", len(failures)),
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
		)
	}

	return stats, nil
}
