package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestBackoffRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := newBackoff(3, time.Millisecond, zap.NewNop()).do(context.Background(), "flaky", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("unavailable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestBackoffGivesUp(t *testing.T) {
	boom := errors.New("unavailable")
	calls := 0
	err := newBackoff(2, time.Millisecond, zap.NewNop()).do(context.Background(), "broken", func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected first try plus 2 retries, got %d calls", calls)
	}
}

func TestBackoffStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	err := newBackoff(5, time.Hour, zap.NewNop()).do(ctx, "cancelled", func(context.Context) error {
		cancel()
		return errors.New("unavailable")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
