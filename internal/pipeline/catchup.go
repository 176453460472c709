package pipeline

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"feedKeeper/internal/metrics"
	"feedKeeper/internal/model"
)

// CatchUp loads the historical window ending at the latest block into the
// backlog. Nothing is dispatched until the next cycle.
func (c *Controller) CatchUp(ctx context.Context) (int, error) {
	retry := newBackoff(c.cfg.MaxRetries, c.cfg.RetryBackoff, c.logger)

	var latest model.BlockRef
	err := retry.do(ctx, "latest block fetch", func(ctx context.Context) error {
		var err error
		latest, err = c.source.LatestBlock(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("get latest block: %w", err)
	}

	window := Lookback(latest.Number, c.cfg.PastBlocks)
	ranges, err := window.Batches(c.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	c.logger.Info("catch-up start", zap.Uint64("from", window.From), zap.Uint64("to", window.To), zap.Int("batches", len(ranges)))

	var observations []model.Observation
	seen := make(map[model.ObservationKey]struct{})
	for _, blockRange := range ranges {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		var logs []types.Log
		err := retry.do(ctx, "query events", func(ctx context.Context) error {
			var err error
			logs, err = c.source.QueryEvents(ctx, c.filter, blockRange.From, blockRange.To)
			return err
		}, zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
		if err != nil {
			return 0, fmt.Errorf("query events %d-%d: %w", blockRange.From, blockRange.To, err)
		}
		metrics.EventsReceived.WithLabelValues("catchup").Add(float64(len(logs)))
		for _, log := range logs {
			if log.Removed {
				continue
			}
			obs, err := c.normalizer.Decode(log)
			if err != nil {
				metrics.DecodeErrors.Inc()
				c.logger.Warn("drop undecodable log",
					zap.Uint64("block", log.BlockNumber),
					zap.String("tx", log.TxHash.Hex()),
					zap.Error(err),
				)
				continue
			}
			if _, ok := seen[obs.Key()]; ok {
				continue
			}
			seen[obs.Key()] = struct{}{}
			observations = append(observations, obs)
		}
	}

	SortObservations(observations)
	added := 0
	for _, obs := range observations {
		if c.backlog.Add(obs) {
			added++
		}
	}

	c.logger.Info("catch-up complete",
		zap.Int("observations", len(observations)),
		zap.Int("added", added),
		zap.Int("backlog", c.backlog.Len()),
	)
	return added, nil
}
