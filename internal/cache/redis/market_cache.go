package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/theSchein/pamela-sub002/internal/domain"
)

const marketTTL = 5 * time.Minute

// MarketCache implements domain.MarketCache using Redis hashes with
// JSON-serialized market data and a secondary token-to-market index.
//
// Key schema:
//
//	market:{externalID}    - hash with field "data" containing JSON
//	market:token:{tokenID} - string value of the owning external ID
type MarketCache struct {
	rdb *redis.Client
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.Underlying()}
}

func marketKey(externalID string) string { return "market:" + externalID }
func marketTokenKey(tokenID string) string { return "market:token:" + tokenID }

// Set stores a market in the cache with a short TTL and indexes every one of
// its outcome tokens back to the market.
func (mc *MarketCache) Set(ctx context.Context, m domain.Market) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", m.ExternalID, err)
	}

	key := marketKey(m.ExternalID)

	pipe := mc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, marketTTL)

	for _, t := range m.Tokens {
		if t.TokenID == "" {
			continue
		}
		pipe.Set(ctx, marketTokenKey(t.TokenID), m.ExternalID, marketTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %s: %w", m.ExternalID, err)
	}
	return nil
}

// Get retrieves a market by its external ID. It returns domain.ErrNotFound
// when the key does not exist.
func (mc *MarketCache) Get(ctx context.Context, externalID string) (domain.Market, error) {
	data, err := mc.rdb.HGet(ctx, marketKey(externalID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", externalID, err)
	}

	var m domain.Market
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %s: %w", externalID, err)
	}
	return m, nil
}

// GetByToken looks up a market by one of its outcome token IDs.
func (mc *MarketCache) GetByToken(ctx context.Context, tokenID string) (domain.Market, error) {
	externalID, err := mc.rdb.Get(ctx, marketTokenKey(tokenID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market by token %s: %w", tokenID, err)
	}
	return mc.Get(ctx, externalID)
}

// Invalidate removes a market and its token index entries from the cache.
func (mc *MarketCache) Invalidate(ctx context.Context, externalID string) error {
	// Retrieve the market first to find its token IDs so the reverse index
	// entries can be cleaned up too.
	m, err := mc.Get(ctx, externalID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("redis: invalidate market %s: %w", externalID, err)
	}

	pipe := mc.rdb.TxPipeline()
	pipe.Del(ctx, marketKey(externalID))

	// Only delete token mappings if the market was successfully read.
	if err == nil {
		for _, t := range m.Tokens {
			if t.TokenID == "" {
				continue
			}
			pipe.Del(ctx, marketTokenKey(t.TokenID))
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", externalID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
