package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/copysentry/backend/internal/metrics"
	"github.com/copysentry/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// SetSignature caches the fingerprint computed for a candidate URL so the
// next match sweep inside the TTL skips the fetch entirely.
func (c *Client) SetSignature(ctx context.Context, urlHash, signature string, ttl time.Duration) error {
	err := c.client.Set(ctx, fmt.Sprintf("signature:%s", urlHash), signature, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set signature cache: %w", err)
	}

	logger.Debug("Signature cached", zap.String("url_hash", urlHash), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) GetSignature(ctx context.Context, urlHash string) (string, bool, error) {
	signature, err := c.client.Get(ctx, fmt.Sprintf("signature:%s", urlHash)).Result()
	if err == redis.Nil {
		metrics.SignatureCacheHits.WithLabelValues("miss").Inc()
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get signature cache: %w", err)
	}

	metrics.SignatureCacheHits.WithLabelValues("hit").Inc()
	logger.Debug("Signature cache hit", zap.String("url_hash", urlHash))
	return signature, true, nil
}

// MarkNotified suppresses repeat drafts for a match that was recently
// noticed. The notice agent checks this before drafting.
func (c *Client) MarkNotified(ctx context.Context, matchID string, ttl time.Duration) error {
	err := c.client.Set(ctx, fmt.Sprintf("notified:%s", matchID), "1", ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to mark notified: %w", err)
	}
	return nil
}

func (c *Client) WasNotified(ctx context.Context, matchID string) (bool, error) {
	_, err := c.client.Get(ctx, fmt.Sprintf("notified:%s", matchID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check notified marker: %w", err)
	}
	return true, nil
}

// InvalidateSignatures drops every cached candidate signature so the next
// scan refetches each candidate.
func (c *Client) InvalidateSignatures(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "signature:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Signature cache invalidated")
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
