// Package service contains the read-side application services that sit
// between the HTTP handlers and the stores.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/theSchein/pamela-sub002/internal/domain"
)

// MarketService serves market reads with a cache-aside strategy: the Redis
// cache is consulted first and back-filled from Postgres on a miss. The
// cache is optional; when nil every read goes straight to the store.
type MarketService struct {
	markets domain.MarketStore
	cache   domain.MarketCache
	logger  *slog.Logger
}

// NewMarketService creates a MarketService. cache may be nil.
func NewMarketService(markets domain.MarketStore, cache domain.MarketCache, logger *slog.Logger) *MarketService {
	return &MarketService{
		markets: markets,
		cache:   cache,
		logger:  logger,
	}
}

// GetMarket retrieves a market by its upstream identifier, checking the
// cache first and falling back to the persistent store on a miss.
func (s *MarketService) GetMarket(ctx context.Context, externalID string) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, externalID); err == nil {
			return m, nil
		}
	}

	m, err := s.markets.GetByExternalID(ctx, externalID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get %q: %w", externalID, err)
	}

	s.backfill(ctx, m)
	return m, nil
}

// GetMarketByToken retrieves a market by one of its outcome token IDs.
func (s *MarketService) GetMarketByToken(ctx context.Context, tokenID string) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.GetByToken(ctx, tokenID); err == nil {
			return m, nil
		}
	}

	m, err := s.markets.GetByTokenID(ctx, tokenID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get by token %q: %w", tokenID, err)
	}

	s.backfill(ctx, m)
	return m, nil
}

// Search returns active markets whose question or slug matches the term,
// ordered by liquidity. Search results are not cached.
func (s *MarketService) Search(ctx context.Context, term string, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.Search(ctx, term, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: search %q: %w", term, err)
	}
	return markets, nil
}

// ListActive returns active markets directly from the persistent store.
func (s *MarketService) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.ListActive(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list active: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets in the persistent store.
func (s *MarketService) Count(ctx context.Context) (int64, error) {
	count, err := s.markets.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("market_service: count: %w", err)
	}
	return count, nil
}

// backfill writes a market into the cache after a store read. Cache write
// failures are logged and swallowed; the entry expires on its own anyway.
func (s *MarketService) backfill(ctx context.Context, m domain.Market) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, m); err != nil {
		s.logger.WarnContext(ctx, "market_service: cache set failed",
			slog.String("external_id", m.ExternalID),
			slog.String("error", err.Error()),
		)
	}
}
