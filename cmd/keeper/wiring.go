package main

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"feedKeeper/internal/broadcast"
	"feedKeeper/internal/chain"
	"feedKeeper/internal/config"
	"feedKeeper/internal/feed"
	"feedKeeper/internal/pipeline"
	"feedKeeper/internal/storage"
	"feedKeeper/internal/storage/postgres"
	"feedKeeper/internal/storage/redis"
)

func dialChain(ctx context.Context, cfg config.Chain, pollInterval time.Duration) (*chain.Client, *big.Int, error) {
	if cfg.RPCURL == "" {
		return nil, nil, fmt.Errorf("rpc url is required")
	}

	client, err := chain.NewClient(ctx, cfg.RPCURL,
		chain.WithLogsURL(cfg.LogsRPCURL),
		chain.WithRateLimit(cfg.RPCRate),
		chain.WithPollInterval(pollInterval),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect rpc: %w", err)
	}

	chainID, err := client.GetChainID(ctx)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("get chain id: %w", err)
	}
	return client, chainID, nil
}

// resolveJob picks the configured job address, falling back to the address book.
func resolveJob(cfg config.Chain, chainID *big.Int) (common.Address, error) {
	job, err := pipeline.ParseAddress(cfg.Job)
	if err != nil {
		return common.Address{}, err
	}
	if job != (common.Address{}) {
		return job, nil
	}
	if known, ok := feed.KnownContracts[chainID.Uint64()]; ok {
		return known.Job, nil
	}
	return common.Address{}, fmt.Errorf("no job address configured for chain %s", chainID)
}

// resolveDataFeed picks the configured data feed, then the address book, then asks the job.
func resolveDataFeed(ctx context.Context, cfg config.Chain, chainID *big.Int, job *feed.Job) (common.Address, error) {
	dataFeed, err := pipeline.ParseAddress(cfg.DataFeed)
	if err != nil {
		return common.Address{}, err
	}
	if dataFeed != (common.Address{}) {
		return dataFeed, nil
	}
	if known, ok := feed.KnownContracts[chainID.Uint64()]; ok && known.Job == job.Address() {
		return known.DataFeed, nil
	}
	return job.DataFeed(ctx)
}

func buildChannel(ctx context.Context, cfg config.Broadcast, client *chain.Client, chainID *big.Int, logger *zap.Logger) (broadcast.Channel, func(), error) {
	key, err := broadcast.ParsePrivateKey(cfg.SignerKey)
	if err != nil {
		return nil, nil, fmt.Errorf("signer key: %w", err)
	}
	signer, err := broadcast.NewTxSigner(key, broadcast.TxConfig{
		ChainID:     chainID,
		GasLimit:    cfg.GasLimit,
		PriorityFee: new(big.Int).SetUint64(cfg.PriorityFeeWei),
	}, client)
	if err != nil {
		return nil, nil, err
	}

	closeFn := func() {}
	var sender broadcast.Sender
	switch cfg.Mode {
	case "private":
		private, err := broadcast.DialPrivateSender(ctx, cfg.Builders, logger)
		if err != nil {
			return nil, nil, err
		}
		sender = private
		closeFn = private.Close
	case "bundle":
		authKey := key
		if cfg.BundleSignerKey != "" {
			authKey, err = broadcast.ParsePrivateKey(cfg.BundleSignerKey)
			if err != nil {
				return nil, nil, fmt.Errorf("bundle signer key: %w", err)
			}
		}
		bundle, err := broadcast.NewBundleSender(cfg.BundleRelay, authKey, 0)
		if err != nil {
			return nil, nil, err
		}
		sender = bundle
	case "direct":
		sender = broadcast.NewDirectSender(client)
	default:
		return nil, nil, fmt.Errorf("unsupported broadcast channel: %s", cfg.Mode)
	}

	logger.Info("broadcast channel ready",
		zap.String("channel", sender.Name()),
		zap.String("signer", signer.Address().Hex()),
		zap.Uint64("gas_limit", cfg.GasLimit),
		zap.Uint64("priority_fee", cfg.PriorityFeeWei),
	)
	return broadcast.NewTxChannel(signer, sender, client, cfg.ConfirmTimeout, logger), closeFn, nil
}

func buildDeadLetterSink(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.DeadLetterSink, func(), error) {
	switch cfg.DeadLetter {
	case "", "jsonl":
		if cfg.DeadLetterPath == "" {
			return nil, nil, fmt.Errorf("dead letter path is required")
		}
		return storage.NewJsonlStorage(cfg.DeadLetterPath), func() {}, nil
	case "postgres":
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return store, store.Close, nil
	case "redis":
		list, err := redis.NewDeadLetterList(redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Key:      cfg.RedisKey,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := list.Ping(ctx); err != nil {
			_ = list.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return list, func() { _ = list.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported dead letter sink: %s", cfg.DeadLetter)
	}
}
