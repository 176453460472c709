package broadcast

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"feedKeeper/internal/feed"
	"feedKeeper/internal/metrics"
	"feedKeeper/internal/model"
)

// Tracker receives the outcome of first attempts.
type Tracker interface {
	Complete(key model.RequestKey)
	Fail(key model.RequestKey, err error)
}

// AdapterConfig binds the adapter to the job contract.
type AdapterConfig struct {
	Job common.Address
	ABI abi.ABI
	// CurrentBlock, when set, supplies fresh fee context for retries.
	CurrentBlock func() (model.BlockRef, bool)
}

// Adapter turns work requests into job calls on a Channel.
type Adapter struct {
	channel Channel
	cfg     AdapterConfig
	tracker Tracker
	logger  *zap.Logger
}

func NewAdapter(channel Channel, cfg AdapterConfig, tracker Tracker, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{channel: channel, cfg: cfg, tracker: tracker, logger: logger}
}

// Submit makes the first attempt for req and reports the outcome to the tracker.
func (a *Adapter) Submit(ctx context.Context, req model.WorkRequest) error {
	err := a.Attempt(ctx, req)
	if a.tracker != nil {
		if err != nil {
			a.tracker.Fail(req.Key(), err)
		} else {
			a.tracker.Complete(req.Key())
		}
	}
	return err
}

// Attempt submits req once. Any error is a *Failure.
func (a *Adapter) Attempt(ctx context.Context, req model.WorkRequest) error {
	block := req.Block
	if req.Attempt > 0 && a.cfg.CurrentBlock != nil {
		if current, ok := a.cfg.CurrentBlock(); ok {
			block = current
		}
	}

	call := Call{
		Contract: a.cfg.Job,
		ABI:      a.cfg.ABI,
		Method:   feed.WorkMethod,
		Args:     feed.WorkArguments(req),
		Block:    block,
	}

	target := strconv.FormatUint(uint64(req.TargetID), 10)
	start := time.Now()
	receipt, err := a.channel.Submit(ctx, call)
	metrics.SubmitLatency.WithLabelValues(target).Observe(time.Since(start).Seconds())

	fields := []zap.Field{
		zap.Uint32("target", req.TargetID),
		zap.String("pool", req.PoolID.Hex()),
		zap.Uint32("sequence", req.Sequence),
		zap.Uint8("attempt", req.Attempt),
		zap.Uint64("block", block.Number),
	}
	if err != nil {
		metrics.Submissions.WithLabelValues(target, "failed").Inc()
		a.logger.Warn("work submission failed", append(fields, zap.Error(err))...)
		return newFailure("adapter", "submit", fmt.Errorf("work %s: %w", req.Key(), err))
	}

	metrics.Submissions.WithLabelValues(target, "confirmed").Inc()
	a.logger.Info("work confirmed", append(fields,
		zap.String("tx", receipt.TxHash.Hex()),
		zap.Uint64("included_in", receipt.BlockNumber),
		zap.String("channel", receipt.Channel),
	)...)
	return nil
}
