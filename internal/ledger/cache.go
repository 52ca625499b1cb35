package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joao-fontenele/fulfillment/internal/domain"
)

const DefaultCacheTTL = 5 * time.Minute

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func earningsKey(sellerID, timeframe string) string {
	return fmt.Sprintf("payouts:earnings:%s:%s", sellerID, timeframe)
}

func (c *RedisCache) Get(ctx context.Context, sellerID, timeframe string) (*domain.Earnings, error) {
	raw, err := c.client.Get(ctx, earningsKey(sellerID, timeframe)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var earnings domain.Earnings
	if err := json.Unmarshal(raw, &earnings); err != nil {
		return nil, fmt.Errorf("decode cached earnings: %w", err)
	}
	return &earnings, nil
}

func (c *RedisCache) Set(ctx context.Context, sellerID, timeframe string, earnings *domain.Earnings) error {
	b, err := json.Marshal(earnings)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, earningsKey(sellerID, timeframe), b, c.ttl).Err()
}

// Invalidate removes every timeframe cached for the sellers.
func (c *RedisCache) Invalidate(ctx context.Context, sellerIDs ...string) error {
	keys := make([]string, 0, len(sellerIDs)*len(Timeframes))
	for _, sellerID := range sellerIDs {
		for _, tf := range Timeframes {
			keys = append(keys, earningsKey(sellerID, tf))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
