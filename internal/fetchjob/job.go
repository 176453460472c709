package fetchjob

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"feedKeeper/internal/broadcast"
	"feedKeeper/internal/feed"
	"feedKeeper/internal/metrics"
	"feedKeeper/internal/model"
)

// Reason tells the strategy job why it is being worked.
type Reason uint8

const (
	// ReasonCooldown: the cooldown since the last worked timestamp has passed.
	ReasonCooldown Reason = 1
	// ReasonTwap: the twap difference between pool and oracle crossed the threshold.
	ReasonTwap Reason = 2
)

// ParseReason maps a configured name or number to a Reason.
func ParseReason(input string) (Reason, error) {
	switch input {
	case "", "1", "cooldown":
		return ReasonCooldown, nil
	case "2", "twap":
		return ReasonTwap, nil
	default:
		return 0, fmt.Errorf("unsupported trigger reason: %s", input)
	}
}

// PoolLister returns the pools to work.
type PoolLister interface {
	Pools(ctx context.Context) ([]common.Hash, error)
}

// Whitelist lists the pools whitelisted on the data feed the job is bound to.
// The feed is resolved from the job on every call.
type Whitelist struct {
	job    *feed.StrategyJob
	caller feed.ContractCaller
}

func NewWhitelist(job *feed.StrategyJob, caller feed.ContractCaller) *Whitelist {
	return &Whitelist{job: job, caller: caller}
}

func (w *Whitelist) Pools(ctx context.Context) ([]common.Hash, error) {
	address, err := w.job.DataFeed(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve data feed: %w", err)
	}
	dataFeed, err := feed.NewDataFeed(w.caller, address)
	if err != nil {
		return nil, err
	}
	return dataFeed.WhitelistedPools(ctx)
}

// BlockSource streams new heads.
type BlockSource interface {
	SubscribeBlocks(ctx context.Context, ch chan<- model.BlockRef) (ethereum.Subscription, error)
}

// Config holds the strategy job settings.
type Config struct {
	Job     common.Address
	Reason  Reason
	Workers int
}

// Summary counts the outcome of one round.
type Summary struct {
	Pools     int
	Confirmed int
	Failed    int
}

// Runner works every whitelisted pool on each new block.
type Runner struct {
	cfg     Config
	pools   PoolLister
	channel broadcast.Channel
	logger  *zap.Logger

	working atomic.Bool
}

func NewRunner(cfg Config, pools PoolLister, channel broadcast.Channel, logger *zap.Logger) *Runner {
	if cfg.Reason == 0 {
		cfg.Reason = ReasonCooldown
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, pools: pools, channel: channel, logger: logger}
}

// Work submits work(bytes32,uint8) for every pool concurrently.
func (r *Runner) Work(ctx context.Context, block model.BlockRef) (Summary, error) {
	parsed, err := feed.StrategyJobABI()
	if err != nil {
		return Summary{}, fmt.Errorf("parse strategy job abi: %w", err)
	}
	pools, err := r.pools.Pools(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list pools: %w", err)
	}

	summary := Summary{Pools: len(pools)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(r.cfg.Workers)
	for _, pool := range pools {
		pool := pool
		g.Go(func() error {
			receipt, err := r.channel.Submit(ctx, broadcast.Call{
				Contract: r.cfg.Job,
				ABI:      parsed,
				Method:   feed.StrategyWorkMethod,
				Args:     []interface{}{[32]byte(pool), uint8(r.cfg.Reason)},
				Block:    block,
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				metrics.FetchJobRuns.WithLabelValues("failed").Inc()
				r.logger.Warn("strategy work failed", zap.String("pool", pool.Hex()), zap.Uint64("block", block.Number), zap.Error(err))
				return nil
			}
			summary.Confirmed++
			metrics.FetchJobRuns.WithLabelValues("confirmed").Inc()
			r.logger.Info("strategy work confirmed", zap.String("pool", pool.Hex()), zap.String("tx", receipt.TxHash.Hex()))
			return nil
		})
	}
	_ = g.Wait()

	return summary, nil
}

// Run works the pools on each block until ctx is done. A block arriving while
// the previous round is still running is skipped.
func (r *Runner) Run(ctx context.Context, source BlockSource) error {
	blocks := make(chan model.BlockRef, 16)
	sub, err := source.SubscribeBlocks(ctx, blocks)
	if err != nil {
		return fmt.Errorf("subscribe blocks: %w", err)
	}
	defer sub.Unsubscribe()

	var rounds sync.WaitGroup
	defer rounds.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("block subscription: %w", err)
		case block := <-blocks:
			if !r.working.CompareAndSwap(false, true) {
				r.logger.Debug("previous round still running, skipping block", zap.Uint64("block", block.Number))
				continue
			}
			rounds.Add(1)
			go func() {
				defer rounds.Done()
				defer r.working.Store(false)
				summary, err := r.Work(ctx, block)
				if err != nil {
					r.logger.Warn("strategy round failed", zap.Uint64("block", block.Number), zap.Error(err))
					return
				}
				r.logger.Info("strategy round complete",
					zap.Uint64("block", block.Number),
					zap.Int("pools", summary.Pools),
					zap.Int("confirmed", summary.Confirmed),
					zap.Int("failed", summary.Failed),
				)
			}()
		}
	}
}
