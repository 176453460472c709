package chain

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"

	"feedKeeper/internal/model"
)

// SubscribeBlocks streams new heads into ch. Endpoints without notification
// support (plain HTTP) fall back to polling the head at the poll interval.
func (c *Client) SubscribeBlocks(ctx context.Context, ch chan<- model.BlockRef) (ethereum.Subscription, error) {
	headers := make(chan *types.Header, 16)
	sub, err := c.ethClient.SubscribeNewHead(ctx, headers)
	if err != nil {
		if errors.Is(err, rpc.ErrNotificationsUnsupported) {
			return c.pollBlocks(ctx, ch), nil
		}
		return nil, err
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case header := <-headers:
				select {
				case ch <- model.BlockRefFromHeader(header):
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

// SubscribeEvents streams logs matching the filter into ch, polling when the
// endpoint cannot push notifications.
func (c *Client) SubscribeEvents(ctx context.Context, filter EventFilter, ch chan<- types.Log) (ethereum.Subscription, error) {
	sub, err := c.ethClient.SubscribeFilterLogs(ctx, filter.query(), ch)
	if err != nil {
		if errors.Is(err, rpc.ErrNotificationsUnsupported) {
			return c.pollEvents(ctx, filter, ch)
		}
		return nil, err
	}
	return sub, nil
}

func (c *Client) pollBlocks(ctx context.Context, ch chan<- model.BlockRef) ethereum.Subscription {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		var last uint64
		for {
			header, err := c.HeaderByNumber(ctx, nil)
			if err == nil && header.Number != nil && header.Number.Uint64() > last {
				last = header.Number.Uint64()
				select {
				case ch <- model.BlockRefFromHeader(header):
				case <-quit:
					return nil
				}
			}

			select {
			case <-quit:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})
}

func (c *Client) pollEvents(ctx context.Context, filter EventFilter, ch chan<- types.Log) (ethereum.Subscription, error) {
	latest, err := c.LatestBlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	next := latest + 1

	return event.NewSubscription(func(quit <-chan struct{}) error {
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-quit:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}

			head, err := c.LatestBlockNumber(ctx)
			if err != nil || head < next {
				continue
			}
			query := filter.query()
			query.FromBlock = new(big.Int).SetUint64(next)
			query.ToBlock = new(big.Int).SetUint64(head)
			if err := c.wait(ctx); err != nil {
				return err
			}
			logs, err := c.logsClient.FilterLogs(ctx, query)
			if err != nil {
				continue
			}
			for _, log := range logs {
				select {
				case ch <- log:
				case <-quit:
					return nil
				}
			}
			next = head + 1
		}
	}), nil
}
