package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"feedKeeper/internal/broadcast"
	"feedKeeper/internal/config"
	"feedKeeper/internal/dispatch"
	"feedKeeper/internal/feed"
	"feedKeeper/internal/gate"
	"feedKeeper/internal/model"
	"feedKeeper/internal/pipeline"
	"feedKeeper/internal/retry"
)

func runKeeper(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	targets, err := pipeline.ParseTargets(cfg.Targets)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		targets = feed.DefaultTargets
	}
	policy, err := gate.ParsePolicy(cfg.GatePolicy, cfg.GateWindow)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, chainID, err := dialChain(ctx, cfg.Chain, cfg.PollInterval)
	if err != nil {
		return err
	}
	defer chainClient.Close()

	jobAddress, err := resolveJob(cfg.Chain, chainID)
	if err != nil {
		return err
	}
	job, err := feed.NewJob(chainClient, jobAddress)
	if err != nil {
		return err
	}
	dataFeed, err := resolveDataFeed(ctx, cfg.Chain, chainID, job)
	if err != nil {
		return fmt.Errorf("resolve data feed: %w", err)
	}

	sink, closeSink, err := buildDeadLetterSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	channel, closeChannel, err := buildChannel(ctx, cfg.Broadcast, chainClient, chainID, logger)
	if err != nil {
		return err
	}
	defer closeChannel()

	normalizer, err := feed.NewNormalizer()
	if err != nil {
		return err
	}

	queue := retry.NewQueue(retry.Config{
		Interval:   cfg.RetryInterval,
		MaxRetries: cfg.MaxAttempts,
	}, nil, sink, logger)

	var controller *pipeline.Controller
	adapter := broadcast.NewAdapter(channel, broadcast.AdapterConfig{
		Job: jobAddress,
		ABI: job.ABI(),
		CurrentBlock: func() (model.BlockRef, bool) {
			return controller.CurrentBlock()
		},
	}, queue, logger)
	queue.SetSubmitter(adapter)

	dispatcher := dispatch.New(gate.New(policy), targets, queue, adapter, logger)

	controller, err = pipeline.New(pipeline.Config{
		DataFeed:     dataFeed,
		PastBlocks:   cfg.PastBlocks,
		BatchSize:    cfg.BatchSize,
		Workers:      cfg.Workers,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, chainClient, normalizer, job, dispatcher, queue, logger)
	if err != nil {
		return err
	}
	queue.SetConfirmations(controller)

	logger.Info("keeper start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("chain_id", chainID.String()),
		zap.String("job", jobAddress.Hex()),
		zap.String("data_feed", dataFeed.Hex()),
		zap.Uint32s("targets", targets),
		zap.String("gate_policy", policy.Name()),
		zap.String("broadcast", cfg.Mode),
		zap.Duration("retry_interval", cfg.RetryInterval),
		zap.Uint8("max_retries", cfg.MaxAttempts),
		zap.Uint64("past_blocks", cfg.PastBlocks),
		zap.String("dead_letter", cfg.DeadLetter),
	)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return runMetricsServer(gctx, cfg.MetricsAddr, logger)
		})
	}
	g.Go(func() error {
		return queue.Run(gctx, cfg.RetryTick)
	})
	g.Go(func() error {
		return controller.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("keeper stopped", zap.Int("pending_retries", queue.Len()))
	return nil
}

func runMetricsServer(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Warn("failed to write health response", zap.Error(err))
		}
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("metrics server started", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
