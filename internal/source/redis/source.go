// Package redissource feeds the lazy queue from a Redis list of JSON request submissions.
package redissource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlengine/internal/job"
)

// ListClient is the subset of *redis.Client the backlog needs.
type ListClient interface {
	LPop(ctx context.Context, key string) *redis.StringCmd
	RPush(ctx context.Context, key string, values ...any) *redis.IntCmd
}

// Config selects the Redis list.
type Config struct {
	Addr string `mapstructure:"addr"`
	Key  string `mapstructure:"key"`
	DB   int    `mapstructure:"db"`
}

// NewClient connects to Redis and checks the connection.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// Seq pops submissions from the head of key until the list is empty, ctx ends, or
// Redis fails. Entries that do not decode to a valid request are logged and skipped.
func Seq(ctx context.Context, client ListClient, key string, logger *zap.Logger) iter.Seq[*job.Request] {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("redis_source").With(zap.String("key", key))
	return func(yield func(*job.Request) bool) {
		for ctx.Err() == nil {
			raw, err := client.LPop(ctx, key).Result()
			if errors.Is(err, redis.Nil) {
				logger.Debug("backlog exhausted")
				return
			}
			if err != nil {
				logger.Error("pop backlog entry", zap.Error(err))
				return
			}
			req, err := decode(raw)
			if err != nil {
				logger.Warn("skipping malformed backlog entry", zap.String("entry", raw), zap.Error(err))
				continue
			}
			if !yield(req) {
				return
			}
		}
	}
}

// Push appends submissions to the tail of key and returns the list length.
func Push(ctx context.Context, client ListClient, key string, subs ...job.Submission) (int64, error) {
	if len(subs) == 0 {
		return 0, nil
	}
	values := make([]any, 0, len(subs))
	for _, s := range subs {
		if _, err := s.Request(); err != nil {
			return 0, err
		}
		b, err := json.Marshal(s)
		if err != nil {
			return 0, fmt.Errorf("encode submission: %w", err)
		}
		values = append(values, string(b))
	}
	n, err := client.RPush(ctx, key, values...).Result()
	if err != nil {
		return 0, fmt.Errorf("push backlog: %w", err)
	}
	return n, nil
}

func decode(raw string) (*job.Request, error) {
	var sub job.Submission
	if err := json.Unmarshal([]byte(raw), &sub); err != nil {
		return nil, fmt.Errorf("decode submission: %w", err)
	}
	return sub.Request()
}
