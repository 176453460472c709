package retry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"feedKeeper/internal/metrics"
	"feedKeeper/internal/model"
	"feedKeeper/internal/storage"
)

const (
	DefaultInterval   = 60 * time.Second
	DefaultMaxRetries = 3
)

// ErrRetryExhausted is recorded when a request runs out of attempts.
var ErrRetryExhausted = errors.New("retry exhausted")

// State is the lifecycle position of a tracked request.
type State int

const (
	InFlight State = iota
	Scheduled
	Confirmed
)

func (s State) String() string {
	switch s {
	case InFlight:
		return "in_flight"
	case Scheduled:
		return "scheduled"
	case Confirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// Entry is a tracked work request.
type Entry struct {
	Request       model.WorkRequest
	NextAttemptAt time.Time
	State         State
	LastErr       error

	// letterID is fixed at the first dead-letter attempt so a re-record after
	// a sink failure carries the same id.
	letterID uuid.UUID
}

// AttemptsSoFar is the number of retries already made for the request.
func (e Entry) AttemptsSoFar() uint8 {
	return e.Request.Attempt
}

// Submitter performs one submission attempt.
type Submitter interface {
	Attempt(ctx context.Context, req model.WorkRequest) error
}

// Confirmations reports whether the target already holds a request's sequence.
type Confirmations interface {
	Confirmed(ctx context.Context, req model.WorkRequest) (bool, error)
}

// Config tunes the queue.
type Config struct {
	Interval   time.Duration
	MaxRetries uint8
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Queue tracks every request between issue and confirmation. It is the single
// registry used to avoid issuing the same (target, pool, sequence) twice.
type Queue struct {
	interval   time.Duration
	maxRetries uint8
	now        func() time.Time

	submitter     Submitter
	confirmations Confirmations
	sink          storage.DeadLetterSink
	logger    *zap.Logger

	mu      sync.Mutex
	entries map[model.RequestKey]*Entry
}

// NewQueue builds a retry queue. The submitter may be set later with SetSubmitter.
func NewQueue(cfg Config, submitter Submitter, sink storage.DeadLetterSink, logger *zap.Logger) *Queue {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		interval:   cfg.Interval,
		maxRetries: cfg.MaxRetries,
		now:        cfg.Now,
		submitter:  submitter,
		sink:       sink,
		logger:     logger,
		entries:    make(map[model.RequestKey]*Entry),
	}
}

// SetSubmitter wires the component that re-attempts scheduled requests.
func (q *Queue) SetSubmitter(submitter Submitter) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.submitter = submitter
}

// SetConfirmations wires the view used to drop due entries a target already confirmed.
func (q *Queue) SetConfirmations(confirmations Confirmations) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.confirmations = confirmations
}

// Track registers a freshly issued request as in flight. It returns false when
// the same key is already in flight, scheduled or confirmed this cycle.
func (q *Queue) Track(req model.WorkRequest) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := req.Key()
	if _, ok := q.entries[key]; ok {
		return false
	}
	q.entries[key] = &Entry{Request: req, State: InFlight}
	metrics.RetryQueueSize.Set(float64(len(q.entries)))
	return true
}

// Complete marks a request confirmed. The tombstone blocks re-issue until ForgetConfirmed.
func (q *Queue) Complete(key model.RequestKey) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[key]
	if !ok {
		return
	}
	entry.State = Confirmed
	entry.LastErr = nil
}

// Fail schedules the request for another attempt one interval from now.
// The first failure keeps attempt 0. Failures of retries increment it.
func (q *Queue) Fail(key model.RequestKey, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[key]
	if !ok || entry.State == Confirmed {
		return
	}
	q.schedule(entry, err)
}

func (q *Queue) schedule(entry *Entry, err error) {
	entry.State = Scheduled
	entry.LastErr = err
	entry.NextAttemptAt = q.now().Add(q.interval)
	q.logger.Info("work request scheduled for retry",
		zap.Uint32("target", entry.Request.TargetID),
		zap.String("pool", entry.Request.PoolID.Hex()),
		zap.Uint32("sequence", entry.Request.Sequence),
		zap.Uint8("attempt", entry.Request.Attempt),
		zap.Time("next_attempt_at", entry.NextAttemptAt),
		zap.Error(err),
	)
}

// ForgetConfirmed drops confirmed tombstones. Called at the start of each cycle,
// after which the oracle reflects the confirmations.
func (q *Queue) ForgetConfirmed() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for key, entry := range q.entries {
		if entry.State == Confirmed {
			delete(q.entries, key)
		}
	}
	metrics.RetryQueueSize.Set(float64(len(q.entries)))
}

// Len returns the number of tracked requests in any state.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Entry returns a copy of the tracked entry for key.
func (q *Queue) Entry(key model.RequestKey) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

type claim struct {
	key      model.RequestKey
	req      model.WorkRequest
	lastErr  error
	exhaust  bool
	letterID uuid.UUID
}

// Tick processes every due entry. Entries the target already confirmed are
// dropped, exhausted entries are dead-lettered without a further submit and the
// rest are re-attempted concurrently. Claimed entries move to InFlight under the
// lock so a concurrent Tick cannot take them again.
func (q *Queue) Tick(ctx context.Context) error {
	now := q.now()

	q.mu.Lock()
	submitter := q.submitter
	confirmations := q.confirmations
	var due []claim
	for key, entry := range q.entries {
		if entry.State != Scheduled || now.Before(entry.NextAttemptAt) {
			continue
		}
		c := claim{key: key, lastErr: entry.LastErr}
		if entry.AttemptsSoFar() >= q.maxRetries {
			c.exhaust = true
			if entry.letterID == uuid.Nil {
				entry.letterID = uuid.New()
			}
			c.letterID = entry.letterID
		} else {
			entry.Request.Attempt++
		}
		entry.State = InFlight
		c.req = entry.Request
		due = append(due, c)
	}
	q.mu.Unlock()

	if len(due) == 0 {
		return nil
	}

	var deadLetterErrs []error
	var errMu sync.Mutex

	var g errgroup.Group
	for _, c := range due {
		c := c
		g.Go(func() error {
			if q.alreadyConfirmed(ctx, confirmations, c) {
				return nil
			}
			if c.exhaust {
				if err := q.deadLetter(ctx, c); err != nil {
					errMu.Lock()
					deadLetterErrs = append(deadLetterErrs, err)
					errMu.Unlock()
				}
				return nil
			}
			q.retry(ctx, submitter, c)
			return nil
		})
	}
	_ = g.Wait()

	q.mu.Lock()
	metrics.RetryQueueSize.Set(float64(len(q.entries)))
	q.mu.Unlock()

	return errors.Join(deadLetterErrs...)
}

// alreadyConfirmed marks the claimed entry confirmed when the target has caught
// up with it on its own. A failed lookup falls through to the normal path.
func (q *Queue) alreadyConfirmed(ctx context.Context, confirmations Confirmations, c claim) bool {
	if confirmations == nil {
		return false
	}
	confirmed, err := confirmations.Confirmed(ctx, c.req)
	if err != nil {
		q.logger.Debug("confirmation lookup failed",
			zap.Uint32("target", c.req.TargetID),
			zap.String("pool", c.req.PoolID.Hex()),
			zap.Uint32("sequence", c.req.Sequence),
			zap.Error(err),
		)
		return false
	}
	if !confirmed {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if entry, ok := q.entries[c.key]; ok {
		entry.State = Confirmed
		entry.LastErr = nil
	}
	q.logger.Info("work request already confirmed on target",
		zap.Uint32("target", c.req.TargetID),
		zap.String("pool", c.req.PoolID.Hex()),
		zap.Uint32("sequence", c.req.Sequence),
	)
	return true
}

func (q *Queue) retry(ctx context.Context, submitter Submitter, c claim) {
	target := strconv.FormatUint(uint64(c.req.TargetID), 10)
	metrics.RetryAttempts.WithLabelValues(target).Inc()

	var err error
	if submitter == nil {
		err = fmt.Errorf("no submitter configured")
	} else {
		err = submitter.Attempt(ctx, c.req)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[c.key]
	if !ok {
		return
	}
	if err == nil {
		entry.State = Confirmed
		entry.LastErr = nil
		q.logger.Info("work request confirmed on retry",
			zap.Uint32("target", c.req.TargetID),
			zap.String("pool", c.req.PoolID.Hex()),
			zap.Uint32("sequence", c.req.Sequence),
			zap.Uint8("attempt", c.req.Attempt),
		)
		return
	}
	q.schedule(entry, err)
}

// deadLetter records an exhausted entry and only then drops it. When the sink
// fails the entry is scheduled again with its attempts and letter id unchanged.
func (q *Queue) deadLetter(ctx context.Context, c claim) error {
	req := c.req
	reason := ErrRetryExhausted.Error()
	if c.lastErr != nil {
		reason = fmt.Errorf("%w: %v", ErrRetryExhausted, c.lastErr).Error()
	}
	letter := model.DeadLetter{
		ID:            c.letterID,
		Request:       req,
		FinalAttempts: req.Attempt,
		Reason:        reason,
		RecordedAt:    q.now().UTC(),
	}

	if q.sink != nil {
		if err := q.sink.Record(ctx, letter); err != nil {
			q.mu.Lock()
			if entry, ok := q.entries[c.key]; ok {
				entry.State = Scheduled
				entry.NextAttemptAt = q.now().Add(q.interval)
			}
			q.mu.Unlock()
			return fmt.Errorf("record dead letter %s: %w", req.Key(), err)
		}
	}

	q.mu.Lock()
	delete(q.entries, c.key)
	q.mu.Unlock()

	metrics.DeadLetters.WithLabelValues(strconv.FormatUint(uint64(req.TargetID), 10)).Inc()
	q.logger.Warn("work request dead-lettered",
		zap.Uint32("target", req.TargetID),
		zap.String("pool", req.PoolID.Hex()),
		zap.Uint32("sequence", req.Sequence),
		zap.Uint8("attempt", req.Attempt),
		zap.String("reason", reason),
		zap.Stringer("id", letter.ID),
	)
	return nil
}

// Run ticks the queue until ctx is done.
func (q *Queue) Run(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = q.interval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := q.Tick(ctx); err != nil {
				q.logger.Error("retry tick failed", zap.Error(err))
			}
		}
	}
}
