package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stockpulse/analyzer/internal/domain/model"
)

// RedisQuoteCache caches fetched market snapshots in Redis, keyed by
// symbol and trading date. It implements core.QuoteCache. Backend failures
// are logged and swallowed; a broken cache must never fail a pipeline.
type RedisQuoteCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisQuoteCache creates a new RedisQuoteCache with the given client and TTL.
func NewRedisQuoteCache(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *RedisQuoteCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisQuoteCache{client: client, ttl: ttl, logger: logger}
}

func quoteKey(symbol string, tradingDate time.Time) string {
	return fmt.Sprintf("quote:%s:%s", model.NormalizeSymbol(symbol), model.FormatTradingDate(tradingDate))
}

// Get returns the cached snapshot for (symbol, tradingDate), or nil on a
// miss. Decode and backend errors are treated as misses.
func (c *RedisQuoteCache) Get(ctx context.Context, symbol string, tradingDate time.Time) (*model.Snapshot, error) {
	raw, err := c.client.Get(ctx, quoteKey(symbol, tradingDate)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && c.logger != nil {
			c.logger.WarnContext(ctx, "quote cache get failed", "symbol", symbol, "err", err)
		}
		return nil, nil
	}

	var snap model.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		if c.logger != nil {
			c.logger.WarnContext(ctx, "quote cache entry corrupt", "symbol", symbol, "err", err)
		}
		return nil, nil
	}
	return &snap, nil
}

// Set stores a snapshot under its (symbol, tradingDate) key with the cache TTL.
func (c *RedisQuoteCache) Set(ctx context.Context, snap *model.Snapshot, tradingDate time.Time) error {
	if snap == nil {
		return errors.New("snapshot is required")
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := c.client.Set(ctx, quoteKey(snap.Symbol, tradingDate), raw, c.ttl).Err(); err != nil {
		if c.logger != nil {
			c.logger.WarnContext(ctx, "quote cache set failed", "symbol", snap.Symbol, "err", err)
		}
	}
	return nil
}
