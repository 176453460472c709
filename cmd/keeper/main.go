package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "keeper",
		Short:        "Oracle data feed keeper",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Bridge PoolObserved observations to the target chains",
		RunE:  runKeeper,
	}

	addChainFlags(runCmd)
	addBroadcastFlags(runCmd, "private")
	runCmd.Flags().StringSlice("targets", []string{"10", "137"}, "target chain ids (comma-separated)")
	runCmd.Flags().String("gate-policy", "strict", "sequence gate policy (strict, window)")
	runCmd.Flags().Uint32("gate-window", 10, "look-ahead of the window gate policy")
	runCmd.Flags().Uint64("past-blocks", 14400, "blocks replayed by catch-up at startup")
	runCmd.Flags().Uint64("batch-size", 2000, "blocks per log query")
	runCmd.Flags().Int("workers", 8, "concurrent dispatch tasks")
	runCmd.Flags().Duration("retry-interval", 60*time.Second, "delay between attempts of a failed submission")
	runCmd.Flags().Duration("retry-tick", 5*time.Second, "how often the retry queue is drained")
	runCmd.Flags().Int("max-retries", 3, "retries before a submission is dead-lettered")
	runCmd.Flags().String("dead-letter", "jsonl", "dead letter sink (jsonl, postgres, redis)")
	runCmd.Flags().String("dead-letter-path", "./data/dead_letters.jsonl", "dead letter JSONL path")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	runCmd.Flags().String("redis-addr", "", "Redis address")
	runCmd.Flags().String("redis-password", "", "Redis password")
	runCmd.Flags().Int("redis-db", 0, "Redis database")
	runCmd.Flags().String("redis-key", "keeper:dead_letters", "Redis list holding dead letters")
	runCmd.Flags().String("metrics-addr", ":9102", "address serving /metrics and /healthz (empty disables)")

	root.AddCommand(runCmd)

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Work the strategy job for every whitelisted pool on each block",
		RunE:  runFetch,
	}

	addChainFlags(fetchCmd)
	addBroadcastFlags(fetchCmd, "bundle")
	fetchCmd.Flags().String("reason", "cooldown", "trigger reason (cooldown, twap)")
	fetchCmd.Flags().Int("workers", 8, "concurrent submissions")

	root.AddCommand(fetchCmd)

	observationsCmd := &cobra.Command{
		Use:   "observations",
		Short: "Export PoolObserved events in a block range",
		RunE:  runObservations,
	}

	addChainFlags(observationsCmd)
	observationsCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	observationsCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	observationsCmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	observationsCmd.Flags().String("out", "./data/observations.jsonl", "output observations JSONL")
	observationsCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	observationsCmd.Flags().String("pg-dsn", "", "write to Postgres instead of JSONL")
	observationsCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	observationsCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")

	root.AddCommand(observationsCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addChainFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "RPC URL (wss:// enables subscriptions)")
	cmd.Flags().String("rpc-logs", "", "optional RPC URL for log queries")
	cmd.Flags().String("job", "", "job contract address (defaults by chain id)")
	cmd.Flags().String("data-feed", "", "data feed address (defaults by chain id, then job.dataFeed())")
	cmd.Flags().Float64("rpc-rps", 0, "max RPC requests per second, 0 disables the limit")
	cmd.Flags().Int("rpc-max-retries", 5, "maximum RPC retry attempts")
	cmd.Flags().Duration("rpc-retry-backoff", 500*time.Millisecond, "initial RPC retry backoff")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func addBroadcastFlags(cmd *cobra.Command, mode string) {
	cmd.Flags().String("broadcast", mode, "broadcast channel (private, bundle, direct)")
	cmd.Flags().String("signer-key", "", "hex private key of the transaction signer")
	cmd.Flags().String("bundle-signer-key", "", "hex private key authenticating bundle requests")
	cmd.Flags().StringSlice("builders", nil, "builder RPC URLs for the private channel")
	cmd.Flags().String("bundle-relay", "", "bundle relay URL")
	cmd.Flags().Uint64("gas-limit", 700000, "gas limit of work transactions")
	cmd.Flags().Uint64("priority-fee", 2_000_000_000, "priority fee in wei")
	cmd.Flags().Duration("confirm-timeout", 3*time.Minute, "how long to wait for inclusion")
	cmd.Flags().Duration("poll-interval", 12*time.Second, "head polling interval when subscriptions are unavailable")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
