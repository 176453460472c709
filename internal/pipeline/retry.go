package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const maxBackoff = 30 * time.Second

// backoff retries RPC reads with doubling delays.
type backoff struct {
	retries int
	base    time.Duration
	logger  *zap.Logger
}

func newBackoff(retries int, base time.Duration, logger *zap.Logger) backoff {
	if retries < 0 {
		retries = 0
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	return backoff{retries: retries, base: base, logger: logger}
}

// do runs fn until it succeeds, the retries run out or ctx is done.
// Failed attempts are logged under op with fields attached.
func (b backoff) do(ctx context.Context, op string, fn func(context.Context) error, fields ...zap.Field) error {
	delay := b.base
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.logger.Warn(op+" failed", append(fields, zap.Int("attempt", attempt), zap.Error(err))...)
		if attempt > b.retries {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if delay *= 2; delay > maxBackoff {
			delay = maxBackoff
		}
	}
}
