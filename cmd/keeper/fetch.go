package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"feedKeeper/internal/config"
	"feedKeeper/internal/feed"
	"feedKeeper/internal/fetchjob"
	"feedKeeper/internal/pipeline"
)

func runFetch(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFetch(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	reason, err := fetchjob.ParseReason(cfg.Reason)
	if err != nil {
		return err
	}
	jobAddress, err := pipeline.ParseAddress(cfg.Job)
	if err != nil {
		return err
	}
	if jobAddress == (common.Address{}) {
		return errors.New("job address is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, chainID, err := dialChain(ctx, cfg.Chain, cfg.PollInterval)
	if err != nil {
		return err
	}
	defer chainClient.Close()

	job, err := feed.NewStrategyJob(chainClient, jobAddress)
	if err != nil {
		return err
	}

	channel, closeChannel, err := buildChannel(ctx, cfg.Broadcast, chainClient, chainID, logger)
	if err != nil {
		return err
	}
	defer closeChannel()

	runner := fetchjob.NewRunner(fetchjob.Config{
		Job:     jobAddress,
		Reason:  reason,
		Workers: cfg.Workers,
	}, fetchjob.NewWhitelist(job, chainClient), channel, logger)

	logger.Info("fetch start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("chain_id", chainID.String()),
		zap.String("job", jobAddress.Hex()),
		zap.String("reason", cfg.Reason),
		zap.String("broadcast", cfg.Mode),
	)

	if err := runner.Run(ctx, chainClient); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("fetch stopped")
	return nil
}
