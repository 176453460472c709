package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "KEEPER"

// Chain holds the connection and contract settings shared by every command.
type Chain struct {
	RPCURL       string
	LogsRPCURL   string
	Job          string
	DataFeed     string
	RPCRate      float64
	MaxRetries   int
	RetryBackoff time.Duration
	LogLevel     string
}

// Broadcast holds transaction signing and delivery settings.
type Broadcast struct {
	Mode            string
	SignerKey       string
	BundleSignerKey string
	Builders        []string
	BundleRelay     string
	GasLimit        uint64
	PriorityFeeWei  uint64
	ConfirmTimeout  time.Duration
	PollInterval    time.Duration
}

// Config holds configuration for the run command.
type Config struct {
	Chain
	Broadcast

	Targets       []string
	GatePolicy    string
	GateWindow    uint32
	PastBlocks    uint64
	BatchSize     uint64
	Workers       int
	RetryInterval time.Duration
	RetryTick     time.Duration
	MaxAttempts   uint8

	DeadLetter     string
	DeadLetterPath string
	PGDSN          string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKey       string

	MetricsAddr string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		setChainDefaults(v)
		setBroadcastDefaults(v)
		v.SetDefault("targets", []string{"10", "137"})
		v.SetDefault("gate-policy", "strict")
		v.SetDefault("gate-window", 10)
		v.SetDefault("past-blocks", uint64(14400))
		v.SetDefault("batch-size", uint64(2000))
		v.SetDefault("workers", 8)
		v.SetDefault("retry-interval", 60*time.Second)
		v.SetDefault("retry-tick", 5*time.Second)
		v.SetDefault("max-retries", 3)
		v.SetDefault("dead-letter", "jsonl")
		v.SetDefault("dead-letter-path", "./data/dead_letters.jsonl")
		v.SetDefault("redis-key", "keeper:dead_letters")
		v.SetDefault("metrics-addr", ":9102")
	})
	if err != nil {
		return Config{}, err
	}

	maxRetries := v.GetInt("max-retries")
	if maxRetries < 1 || maxRetries > 255 {
		return Config{}, fmt.Errorf("max-retries must be between 1 and 255, got %d", maxRetries)
	}

	cfg := Config{
		Chain:     loadChain(v),
		Broadcast: loadBroadcast(v),

		Targets:       getStringSlice(v, "targets"),
		GatePolicy:    v.GetString("gate-policy"),
		GateWindow:    v.GetUint32("gate-window"),
		PastBlocks:    v.GetUint64("past-blocks"),
		BatchSize:     v.GetUint64("batch-size"),
		Workers:       v.GetInt("workers"),
		RetryInterval: v.GetDuration("retry-interval"),
		RetryTick:     v.GetDuration("retry-tick"),
		MaxAttempts:   uint8(maxRetries),

		DeadLetter:     strings.ToLower(v.GetString("dead-letter")),
		DeadLetterPath: v.GetString("dead-letter-path"),
		PGDSN:          v.GetString("pg-dsn"),
		RedisAddr:      v.GetString("redis-addr"),
		RedisPassword:  v.GetString("redis-password"),
		RedisDB:        v.GetInt("redis-db"),
		RedisKey:       v.GetString("redis-key"),

		MetricsAddr: v.GetString("metrics-addr"),
	}

	return cfg, nil
}

// FetchConfig holds configuration for the fetch command.
type FetchConfig struct {
	Chain
	Broadcast

	Reason  string
	Workers int
}

// LoadFetch merges config file, environment variables, and flags into FetchConfig.
func LoadFetch(cfgFile string, flags *pflag.FlagSet) (FetchConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		setChainDefaults(v)
		setBroadcastDefaults(v)
		v.SetDefault("broadcast", "bundle")
		v.SetDefault("reason", "cooldown")
		v.SetDefault("workers", 8)
	})
	if err != nil {
		return FetchConfig{}, err
	}

	return FetchConfig{
		Chain:     loadChain(v),
		Broadcast: loadBroadcast(v),
		Reason:    v.GetString("reason"),
		Workers:   v.GetInt("workers"),
	}, nil
}

// ObservationsConfig holds configuration for the observations command.
type ObservationsConfig struct {
	Chain

	FromBlock         uint64
	ToBlock           uint64
	BatchSize         uint64
	Out               string
	Errors            string
	PGDSN             string
	Checkpoint        string
	CheckpointEnabled bool
}

// LoadObservations merges config file, environment variables, and flags into ObservationsConfig.
func LoadObservations(cfgFile string, flags *pflag.FlagSet) (ObservationsConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		setChainDefaults(v)
		v.SetDefault("batch-size", uint64(2000))
		v.SetDefault("out", "./data/observations.jsonl")
		v.SetDefault("errors", "./data/decode_errors.jsonl")
		v.SetDefault("checkpoint", "./data/checkpoint.json")
		v.SetDefault("checkpoint-enabled", true)
	})
	if err != nil {
		return ObservationsConfig{}, err
	}

	return ObservationsConfig{
		Chain:             loadChain(v),
		FromBlock:         v.GetUint64("from"),
		ToBlock:           v.GetUint64("to"),
		BatchSize:         v.GetUint64("batch-size"),
		Out:               v.GetString("out"),
		Errors:            v.GetString("errors"),
		PGDSN:             v.GetString("pg-dsn"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
	}, nil
}

func newViper(cfgFile string, flags *pflag.FlagSet, defaults func(*viper.Viper)) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if defaults != nil {
		defaults(v)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func setChainDefaults(v *viper.Viper) {
	v.SetDefault("rpc-rps", 0.0)
	v.SetDefault("rpc-max-retries", 5)
	v.SetDefault("rpc-retry-backoff", 500*time.Millisecond)
	v.SetDefault("log-level", "info")
}

func setBroadcastDefaults(v *viper.Viper) {
	v.SetDefault("broadcast", "private")
	v.SetDefault("gas-limit", uint64(700000))
	v.SetDefault("priority-fee", uint64(2_000_000_000))
	v.SetDefault("confirm-timeout", 3*time.Minute)
	v.SetDefault("poll-interval", 12*time.Second)
}

func loadChain(v *viper.Viper) Chain {
	return Chain{
		RPCURL:       v.GetString("rpc"),
		LogsRPCURL:   v.GetString("rpc-logs"),
		Job:          v.GetString("job"),
		DataFeed:     v.GetString("data-feed"),
		RPCRate:      v.GetFloat64("rpc-rps"),
		MaxRetries:   v.GetInt("rpc-max-retries"),
		RetryBackoff: v.GetDuration("rpc-retry-backoff"),
		LogLevel:     v.GetString("log-level"),
	}
}

func loadBroadcast(v *viper.Viper) Broadcast {
	return Broadcast{
		Mode:            strings.ToLower(v.GetString("broadcast")),
		SignerKey:       v.GetString("signer-key"),
		BundleSignerKey: v.GetString("bundle-signer-key"),
		Builders:        getStringSlice(v, "builders"),
		BundleRelay:     v.GetString("bundle-relay"),
		GasLimit:        v.GetUint64("gas-limit"),
		PriorityFeeWei:  v.GetUint64("priority-fee"),
		ConfirmTimeout:  v.GetDuration("confirm-timeout"),
		PollInterval:    v.GetDuration("poll-interval"),
	}
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
