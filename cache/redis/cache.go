// Package redis caches finalized session summaries in Redis.
//
// A finalized summary never changes, so entries are written once and only
// expire through the configured TTL. The store remains the source of truth.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warp/cashgame-ledger/config"
	"github.com/warp/cashgame-ledger/ledger"
)

// SummaryCache is a read-through cache for finalized summaries.
type SummaryCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New connects to Redis and verifies the connection.
func New(cfg *config.RedisConfig, logger *slog.Logger) (*SummaryCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewWithClient(client, cfg.TTL, logger), nil
}

// NewWithClient wraps an existing client (for testing)
func NewWithClient(client *redis.Client, ttl time.Duration, logger *slog.Logger) *SummaryCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &SummaryCache{client: client, ttl: ttl, logger: logger}
}

// Close closes the Redis connection
func (c *SummaryCache) Close() error {
	return c.client.Close()
}

func summaryKey(id ledger.SessionID) string {
	return fmt.Sprintf("session:%s:summary", id)
}

// GetSummary returns the cached summary, or nil without error on a miss.
func (c *SummaryCache) GetSummary(ctx context.Context, id ledger.SessionID) (*ledger.Summary, error) {
	data, err := c.client.Get(ctx, summaryKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cached summary: %w", err)
	}

	var summary ledger.Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		// A corrupt entry is treated as a miss; the store is authoritative.
		c.logger.Warn("dropping unreadable cached summary",
			slog.String("session_id", string(id)),
			slog.String("error", err.Error()),
		)
		c.client.Del(ctx, summaryKey(id))
		return nil, nil
	}
	return &summary, nil
}

// SetSummary stores a finalized summary. A zero TTL keeps it forever.
func (c *SummaryCache) SetSummary(ctx context.Context, s ledger.Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	if err := c.client.Set(ctx, summaryKey(s.SessionID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("caching summary: %w", err)
	}
	return nil
}

// Flush drops every cached summary. The scenario loader calls it after
// wiping the store so no entry outlives its session.
func (c *SummaryCache) Flush(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, summaryKey("*"), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning cached summaries: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("flushing cached summaries: %w", err)
	}
	c.logger.Debug("flushed cached summaries", slog.Int("count", len(keys)))
	return nil
}
