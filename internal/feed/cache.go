package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"structure-signals/internal/market"
)

// RedisClient is the subset of go-redis used by Cached.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Cached shares recent feed responses between workers through redis so that
// several processes polling the same instrument hit the provider once per TTL.
// Cache failures fall through to the wrapped feed.
type Cached struct {
	next   Feed
	client RedisClient
	ttl    time.Duration
	prefix string
	logger zerolog.Logger
}

// NewCached wraps next with a redis cache.
func NewCached(next Feed, client RedisClient, ttl time.Duration, logger zerolog.Logger) *Cached {
	if ttl <= 0 {
		ttl = 20 * time.Second
	}
	return &Cached{
		next:   next,
		client: client,
		ttl:    ttl,
		prefix: "structsig:feed",
		logger: logger.With().Str("component", "feed_cache").Logger(),
	}
}

// NewRedisClient builds and pings a redis client.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Latest implements Feed.
func (c *Cached) Latest(ctx context.Context, instrument string, tf market.Timeframe) (market.Candle, error) {
	key := fmt.Sprintf("%s:latest:%s:%s", c.prefix, instrument, tf)

	var candle market.Candle
	if c.load(ctx, key, &candle) {
		return candle, nil
	}

	candle, err := c.next.Latest(ctx, instrument, tf)
	if err != nil {
		return market.Candle{}, err
	}
	c.store(ctx, key, candle)
	return candle, nil
}

// Window implements Feed.
func (c *Cached) Window(ctx context.Context, instrument string, tf market.Timeframe, n int) (market.Window, error) {
	key := fmt.Sprintf("%s:window:%s:%s:%d", c.prefix, instrument, tf, n)

	var candles []market.Candle
	if c.load(ctx, key, &candles) && len(candles) > 0 {
		return market.NewWindow(instrument, tf, candles), nil
	}

	w, err := c.next.Window(ctx, instrument, tf, n)
	if err != nil {
		return market.Window{}, err
	}
	c.store(ctx, key, w.Candles())
	return w, nil
}

func (c *Cached) load(ctx context.Context, key string, dest any) bool {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache entry undecodable")
		return false
	}
	return true
}

func (c *Cached) store(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

var _ Feed = (*Cached)(nil)
