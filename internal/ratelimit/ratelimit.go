// Package ratelimit provides a fixed-window request limiter backed by Redis.
// Signing endpoints use it per client IP so that token guessing stays
// impractical even though tokens themselves are unguessable.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Limiter decides whether a request identified by key may proceed
type Limiter interface {
	// Allow counts the request against the key's window and reports whether
	// it is within the limit
	Allow(ctx context.Context, key string) (bool, error)

	// Attempts returns the current count for a key
	Attempts(ctx context.Context, key string) (int, error)
}

// Config configures the limiter
type Config struct {
	Enabled  bool
	RedisURL string
	Attempts int
	Window   time.Duration
}

type redisLimiter struct {
	client   *redis.Client
	attempts int
	window   time.Duration
	logger   *logrus.Logger
}

// NewLimiter creates a Redis-backed limiter, or a no-op one when disabled
func NewLimiter(cfg Config, logger *logrus.Logger) (Limiter, error) {
	if !cfg.Enabled {
		logger.Info("Rate limiting disabled")
		return &noopLimiter{}, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"attempts": cfg.Attempts,
		"window":   cfg.Window,
	}).Info("Rate limiting service initialized")

	return &redisLimiter{
		client:   client,
		attempts: cfg.Attempts,
		window:   cfg.Window,
		logger:   logger,
	}, nil
}

// Allow counts the request and reports whether the key is within its limit
func (l *redisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	pipeline := l.client.Pipeline()
	incrCmd := pipeline.Incr(ctx, key)
	pipeline.Expire(ctx, key, l.window)

	if _, err := pipeline.Exec(ctx); err != nil {
		l.logger.WithContext(ctx).WithError(err).Error("Failed to increment rate limit counter")
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	count := incrCmd.Val()
	allowed := count <= int64(l.attempts)
	if !allowed {
		l.logger.WithContext(ctx).WithFields(logrus.Fields{
			"key":   key,
			"count": count,
			"limit": l.attempts,
		}).Warn("Rate limit exceeded")
	}
	return allowed, nil
}

// Attempts returns the current count for a key
func (l *redisLimiter) Attempts(ctx context.Context, key string) (int, error) {
	count, err := l.client.Get(ctx, key).Int()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get attempts: %w", err)
	}
	return count, nil
}

type noopLimiter struct{}

func (noopLimiter) Allow(ctx context.Context, key string) (bool, error) { return true, nil }

func (noopLimiter) Attempts(ctx context.Context, key string) (int, error) { return 0, nil }
