// Package redis keeps dead letters in a Redis list so operators can inspect
// and drain them from any host.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"feedKeeper/internal/model"
	"feedKeeper/internal/storage"
)

var _ storage.DeadLetterSink = (*DeadLetterList)(nil)

const defaultKey = "keeper:dead_letters"

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Key is the list the letters are pushed to.
	Key string
}

// DeadLetterList appends dead letters to a Redis list with RPUSH.
type DeadLetterList struct {
	client *redis.Client
	key    string
	logger *zap.Logger
}

// NewDeadLetterList creates the sink. It does not contact the server.
func NewDeadLetterList(cfg Config, logger *zap.Logger) (*DeadLetterList, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.Key == "" {
		cfg.Key = defaultKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &DeadLetterList{
		client: client,
		key:    cfg.Key,
		logger: logger.With(zap.String("component", "redis-dead-letters")),
	}, nil
}

// Ping checks the Redis connection.
func (l *DeadLetterList) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (l *DeadLetterList) Close() error {
	return l.client.Close()
}

// Record pushes one letter onto the list.
func (l *DeadLetterList) Record(ctx context.Context, letter model.DeadLetter) error {
	payload, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := l.client.RPush(ctx, l.key, payload).Err(); err != nil {
		return fmt.Errorf("push dead letter: %w", err)
	}
	l.logger.Debug("dead letter stored",
		zap.String("key", l.key),
		zap.Stringer("id", letter.ID),
		zap.String("request", letter.Request.Key().String()),
	)
	return nil
}

// Len returns the number of stored letters.
func (l *DeadLetterList) Len(ctx context.Context) (int64, error) {
	return l.client.LLen(ctx, l.key).Result()
}
