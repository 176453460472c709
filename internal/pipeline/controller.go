package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"feedKeeper/internal/chain"
	"feedKeeper/internal/dispatch"
	"feedKeeper/internal/feed"
	"feedKeeper/internal/gate"
	"feedKeeper/internal/metrics"
	"feedKeeper/internal/model"
)

const (
	DefaultPastBlocks = 14_400
	DefaultBatchSize  = 2_000
	DefaultWorkers    = 8
)

// ChainSource provides historical and live PoolObserved logs and block heads.
type ChainSource interface {
	LatestBlock(ctx context.Context) (model.BlockRef, error)
	QueryEvents(ctx context.Context, filter chain.EventFilter, fromBlock, toBlock uint64) ([]types.Log, error)
	SubscribeBlocks(ctx context.Context, ch chan<- model.BlockRef) (ethereum.Subscription, error)
	SubscribeEvents(ctx context.Context, filter chain.EventFilter, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Dispatcher fans one observation out to the targets.
type Dispatcher interface {
	Dispatch(ctx context.Context, snap *gate.Snapshot, obs model.Observation, block model.BlockRef) dispatch.Summary
}

// Registry is the in-flight registry reset at each cycle.
type Registry interface {
	ForgetConfirmed()
}

// Config holds runtime settings for the controller.
type Config struct {
	DataFeed     common.Address
	PastBlocks   uint64
	BatchSize    uint64
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
}

// Controller runs catch-up once and then dispatches live traffic per block and per event.
type Controller struct {
	cfg        Config
	source     ChainSource
	normalizer *feed.Normalizer
	oracle     gate.Oracle
	dispatcher Dispatcher
	registry   Registry
	logger     *zap.Logger

	filter   chain.EventFilter
	backlog  *Backlog
	snapshot atomic.Pointer[gate.Snapshot]
	passing  atomic.Bool
}

// New wires a controller from its collaborators.
func New(cfg Config, source ChainSource, normalizer *feed.Normalizer, oracle gate.Oracle, dispatcher Dispatcher, registry Registry, logger *zap.Logger) (*Controller, error) {
	if source == nil || normalizer == nil || oracle == nil || dispatcher == nil {
		return nil, fmt.Errorf("controller requires a chain source, normalizer, oracle and dispatcher")
	}
	if cfg.DataFeed == (common.Address{}) {
		return nil, fmt.Errorf("data feed address is required")
	}
	if cfg.PastBlocks == 0 {
		cfg.PastBlocks = DefaultPastBlocks
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:        cfg,
		source:     source,
		normalizer: normalizer,
		oracle:     oracle,
		dispatcher: dispatcher,
		registry:   registry,
		logger:     logger,
		filter: chain.EventFilter{
			Addresses: []common.Address{cfg.DataFeed},
			Topic0:    []common.Hash{normalizer.Topic0()},
		},
		backlog: NewBacklog(),
	}, nil
}

// Backlog exposes the observations waiting for a later cycle.
func (c *Controller) Backlog() *Backlog {
	return c.backlog
}

// CurrentBlock returns the block of the active cycle.
func (c *Controller) CurrentBlock() (model.BlockRef, bool) {
	snap := c.snapshot.Load()
	if snap == nil {
		return model.BlockRef{}, false
	}
	return snap.Block(), true
}

// Confirmed reports whether the current cycle already sees req's sequence on
// its target. Before the first cycle nothing is known and it reports false.
func (c *Controller) Confirmed(ctx context.Context, req model.WorkRequest) (bool, error) {
	snap := c.snapshot.Load()
	if snap == nil {
		return false, nil
	}
	state, err := snap.State(ctx, req.PoolID, req.TargetID)
	if err != nil {
		return false, err
	}
	return req.Sequence <= state.LastConfirmed, nil
}

// Run subscribes to live traffic, loads the historical window in the
// background and serves until ctx is done or a subscription fails.
func (c *Controller) Run(ctx context.Context) error {
	blocks := make(chan model.BlockRef, 16)
	logs := make(chan types.Log, 256)

	blockSub, err := c.source.SubscribeBlocks(ctx, blocks)
	if err != nil {
		return fmt.Errorf("subscribe blocks: %w", err)
	}
	defer blockSub.Unsubscribe()

	eventSub, err := c.source.SubscribeEvents(ctx, c.filter, logs)
	if err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}
	defer eventSub.Unsubscribe()

	var live errgroup.Group
	live.SetLimit(c.cfg.Workers)
	var passes sync.WaitGroup
	defer func() {
		_ = live.Wait()
		passes.Wait()
	}()

	catchUp := make(chan error, 1)
	go func() {
		_, err := c.CatchUp(ctx)
		catchUp <- err
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-catchUp:
			if err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error("catch-up failed", zap.Error(err))
			}
			catchUp = nil
		case err := <-blockSub.Err():
			return fmt.Errorf("block subscription: %w", err)
		case err := <-eventSub.Err():
			return fmt.Errorf("event subscription: %w", err)
		case block := <-blocks:
			snap := c.beginCycle(block)
			if !c.passing.CompareAndSwap(false, true) {
				c.logger.Debug("dispatch pass still running, skipping block", zap.Uint64("block", block.Number))
				continue
			}
			passes.Add(1)
			go func() {
				defer passes.Done()
				defer c.passing.Store(false)
				c.dispatchBacklog(ctx, snap)
			}()
		case log := <-logs:
			obs, ok := c.accept(log)
			if !ok {
				continue
			}
			snap := c.snapshot.Load()
			if snap == nil {
				continue
			}
			live.Go(func() error {
				c.dispatchOne(ctx, snap, obs)
				return nil
			})
		}
	}
}

// RunCycle starts a new cycle at block and runs one dispatch pass over the backlog.
func (c *Controller) RunCycle(ctx context.Context, block model.BlockRef) {
	snap := c.beginCycle(block)
	c.dispatchBacklog(ctx, snap)
}

// HandleLog decodes a live log and dispatches it immediately against the
// current cycle. It also joins the backlog for later cycles.
func (c *Controller) HandleLog(ctx context.Context, log types.Log) {
	obs, ok := c.accept(log)
	if !ok {
		return
	}
	if snap := c.snapshot.Load(); snap != nil {
		c.dispatchOne(ctx, snap, obs)
	}
}

func (c *Controller) beginCycle(block model.BlockRef) *gate.Snapshot {
	snap := gate.NewSnapshot(c.oracle, block)
	c.snapshot.Store(snap)
	if c.registry != nil {
		c.registry.ForgetConfirmed()
	}
	metrics.BlockHeight.Set(float64(block.Number))

	if block.Number > c.cfg.PastBlocks {
		if pruned := c.backlog.PruneBefore(block.Number - c.cfg.PastBlocks); pruned > 0 {
			c.logger.Info("pruned expired observations", zap.Int("count", pruned), zap.Uint64("block", block.Number))
		}
	}
	return snap
}

// accept normalizes a log and adds it to the backlog. It reports false for
// removed logs, decode failures and repeats.
func (c *Controller) accept(log types.Log) (model.Observation, bool) {
	if log.Removed {
		return model.Observation{}, false
	}
	metrics.EventsReceived.WithLabelValues("live").Inc()

	obs, err := c.normalizer.Decode(log)
	if err != nil {
		metrics.DecodeErrors.Inc()
		c.logger.Warn("drop undecodable log",
			zap.Uint64("block", log.BlockNumber),
			zap.String("tx", log.TxHash.Hex()),
			zap.Uint("log_index", log.Index),
			zap.Error(err),
		)
		return model.Observation{}, false
	}
	if !c.backlog.Add(obs) {
		return model.Observation{}, false
	}
	return obs, true
}

func (c *Controller) dispatchOne(ctx context.Context, snap *gate.Snapshot, obs model.Observation) dispatch.Summary {
	summary := c.dispatcher.Dispatch(ctx, snap, obs, snap.Block())
	if summary.StaleEverywhere() {
		c.backlog.Remove(obs.Key())
	}
	return summary
}

// dispatchBacklog runs pools concurrently and each pool in sequence order.
func (c *Controller) dispatchBacklog(ctx context.Context, snap *gate.Snapshot) {
	pools := c.backlog.Pools()
	if len(pools) == 0 {
		return
	}

	var (
		mu    sync.Mutex
		total dispatch.Summary
	)
	var g errgroup.Group
	g.SetLimit(c.cfg.Workers)
	for _, observations := range pools {
		observations := observations
		g.Go(func() error {
			var pool dispatch.Summary
			for _, obs := range observations {
				if ctx.Err() != nil {
					return nil
				}
				pool.Add(c.dispatchOne(ctx, snap, obs))
			}
			mu.Lock()
			total.Add(pool)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	c.logger.Info("dispatch pass complete",
		zap.Uint64("block", snap.Block().Number),
		zap.Int("pools", len(pools)),
		zap.Int("submitted", total.Submitted),
		zap.Int("failed", total.Failed),
		zap.Int("held", total.Held),
		zap.Int("stale", total.Stale),
		zap.Int("oracle_errors", total.OracleErrors),
		zap.Int("backlog", c.backlog.Len()),
	)
}
