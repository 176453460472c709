package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"feedKeeper/internal/model"
)

// DefaultBuilders are the block builders private transactions are sent to.
var DefaultBuilders = []string{
	"https://rpc.titanbuilder.xyz/",
	"https://rpc.beaverbuild.org/",
}

const (
	builderTripFailures = 5
	builderCooldown     = 30 * time.Second
)

type builder struct {
	url     string
	client  *rpc.Client
	breaker *gobreaker.CircuitBreaker
}

// PrivateSender sends raw transactions directly to block builders, keeping
// them out of the public mempool. A builder that keeps rejecting is skipped
// until its breaker half-opens again.
type PrivateSender struct {
	builders []builder
	logger   *zap.Logger
}

var _ Sender = (*PrivateSender)(nil)

// DialPrivateSender connects to every builder endpoint.
func DialPrivateSender(ctx context.Context, urls []string, logger *zap.Logger) (*PrivateSender, error) {
	if len(urls) == 0 {
		urls = DefaultBuilders
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PrivateSender{logger: logger}
	for _, url := range urls {
		client, err := rpc.DialContext(ctx, url)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("dial builder %s: %w", url, err)
		}
		s.builders = append(s.builders, builder{
			url:     url,
			client:  client,
			breaker: s.newBreaker(url),
		})
	}
	return s, nil
}

func (s *PrivateSender) newBreaker(url string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        url,
		MaxRequests: 1,
		Timeout:     builderCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= builderTripFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("builder breaker state changed",
				zap.String("builder", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

func (s *PrivateSender) Name() string { return "private" }

// Close closes the builder connections.
func (s *PrivateSender) Close() {
	for _, b := range s.builders {
		b.client.Close()
	}
}

// Send succeeds when at least one builder accepts the transaction.
func (s *PrivateSender) Send(ctx context.Context, tx *types.Transaction, _ model.BlockRef) error {
	if len(s.builders) == 0 {
		return fmt.Errorf("no builders configured")
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode tx: %w", err)
	}
	encoded := hexutil.Encode(raw)

	errs := make([]error, len(s.builders))
	var g errgroup.Group
	for i, b := range s.builders {
		i, b := i, b
		g.Go(func() error {
			_, err := b.breaker.Execute(func() (interface{}, error) {
				var hash string
				return nil, b.client.CallContext(ctx, &hash, "eth_sendRawTransaction", encoded)
			})
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", b.url, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err == nil {
			return nil
		}
	}
	return errors.Join(errs...)
}
