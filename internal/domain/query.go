package domain

import (
	"context"
	"time"
)

// MarketQuery is the acceptance filter a sync pass translates into upstream
// listing-API query parameters.
type MarketQuery struct {
	Limit  int
	Offset int

	Active *bool
	Closed *bool

	MinLiquidity float64
	MinVolume    float64

	// EndDateMin is the earliest acceptable end date; nil means no floor.
	EndDateMin *time.Time

	// Search scopes the pass to a free-text term; "" means the full catalog.
	Search string
}

// MarketFetcher retrieves one page of canonical markets from the upstream
// listings API.
type MarketFetcher interface {
	FetchMarkets(ctx context.Context, q MarketQuery) ([]Market, error)
}
