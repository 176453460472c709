package dispatch

import (
	"context"
	"errors"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"feedKeeper/internal/gate"
	"feedKeeper/internal/metrics"
	"feedKeeper/internal/model"
)

// Registry records issued requests and rejects ones already tracked.
type Registry interface {
	Track(req model.WorkRequest) bool
}

// Submitter makes the first attempt for a request.
type Submitter interface {
	Submit(ctx context.Context, req model.WorkRequest) error
}

type outcome int

const (
	outcomeHeld outcome = iota
	outcomeStale
	outcomeSubmitted
	outcomeFailed
	outcomeDuplicate
	outcomeOracleError
)

// Summary counts what happened to one observation across targets.
type Summary struct {
	Targets      int
	Submitted    int
	Failed       int
	Held         int
	Stale        int
	Duplicate    int
	OracleErrors int
}

// Permitted is the number of targets the gate let through.
func (s Summary) Permitted() int {
	return s.Submitted + s.Failed + s.Duplicate
}

// StaleEverywhere reports whether every target already confirmed the observation.
func (s Summary) StaleEverywhere() bool {
	return s.Targets > 0 && s.Stale == s.Targets
}

// Add accumulates other into s.
func (s *Summary) Add(other Summary) {
	s.Targets += other.Targets
	s.Submitted += other.Submitted
	s.Failed += other.Failed
	s.Held += other.Held
	s.Stale += other.Stale
	s.Duplicate += other.Duplicate
	s.OracleErrors += other.OracleErrors
}

// Dispatcher fans an observation out to every configured target.
type Dispatcher struct {
	gate      *gate.Gate
	targets   []uint32
	registry  Registry
	submitter Submitter
	logger    *zap.Logger
}

func New(g *gate.Gate, targets []uint32, registry Registry, submitter Submitter, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		gate:      g,
		targets:   append([]uint32(nil), targets...),
		registry:  registry,
		submitter: submitter,
		logger:    logger,
	}
}

// Targets returns the configured target chain ids.
func (d *Dispatcher) Targets() []uint32 {
	return append([]uint32(nil), d.targets...)
}

// Dispatch evaluates obs against every target concurrently and submits a work
// request to each one the gate permits. A failure on one target never delays
// or cancels another. It returns once every target has finished.
func (d *Dispatcher) Dispatch(ctx context.Context, snap *gate.Snapshot, obs model.Observation, block model.BlockRef) Summary {
	outcomes := make([]outcome, len(d.targets))

	var g errgroup.Group
	for i, target := range d.targets {
		i, target := i, target
		g.Go(func() error {
			outcomes[i] = d.dispatchTarget(ctx, snap, obs, target, block)
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{Targets: len(d.targets)}
	for _, o := range outcomes {
		switch o {
		case outcomeHeld:
			summary.Held++
		case outcomeStale:
			summary.Stale++
		case outcomeSubmitted:
			summary.Submitted++
		case outcomeFailed:
			summary.Failed++
		case outcomeDuplicate:
			summary.Duplicate++
		case outcomeOracleError:
			summary.OracleErrors++
		}
	}
	return summary
}

func (d *Dispatcher) dispatchTarget(ctx context.Context, snap *gate.Snapshot, obs model.Observation, target uint32, block model.BlockRef) outcome {
	label := strconv.FormatUint(uint64(target), 10)
	log := d.logger.With(
		zap.Uint32("target", target),
		zap.String("pool", obs.PoolID.Hex()),
		zap.Uint32("sequence", obs.Sequence),
	)

	verdict, err := d.gate.Check(ctx, snap, obs, target)
	if err != nil {
		if errors.Is(err, gate.ErrOracleRead) {
			metrics.OracleReadErrors.WithLabelValues(label).Inc()
		}
		log.Warn("gate check failed", zap.Error(err))
		return outcomeOracleError
	}
	metrics.GateVerdicts.WithLabelValues(label, verdict.String()).Inc()

	switch verdict {
	case gate.Stale:
		return outcomeStale
	case gate.Hold:
		log.Debug("observation held")
		return outcomeHeld
	}

	req := model.NewWorkRequest(obs, target, block)
	if !d.registry.Track(req) {
		log.Debug("work request already tracked")
		return outcomeDuplicate
	}

	log.Info("dispatching work request", zap.Uint64("block", block.Number))
	if err := d.submitter.Submit(ctx, req); err != nil {
		return outcomeFailed
	}
	return outcomeSubmitted
}
