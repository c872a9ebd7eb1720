package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// MarketStore persists canonical markets together with their token and
// reward rows. The sync engine is the sole writer; discovery features only
// select.
type MarketStore interface {
	// UpsertFull writes the market, its tokens, and its reward block inside
	// a single transaction keyed by ExternalID. On success it advances
	// last_synced_at and updated_at to the current time.
	UpsertFull(ctx context.Context, m Market) error

	// MarkActiveForReview rewrites last_synced_at of every active market to
	// the given timestamp (strictly before the pass start) and returns the
	// number of rows marked.
	MarkActiveForReview(ctx context.Context, t time.Time) (int64, error)

	// SweepStale deactivates (active=false, closed=true) every active market
	// whose last_synced_at is older than passStart, returning the number of
	// rows flipped.
	SweepStale(ctx context.Context, passStart time.Time) (int64, error)

	// ListEndedBefore returns markets whose end date is older than cutoff,
	// for archival ahead of the retention purge.
	ListEndedBefore(ctx context.Context, cutoff time.Time) ([]Market, error)

	// PurgeEndedBefore deletes markets whose end date is older than cutoff,
	// cascading to token and reward rows, and returns the number deleted.
	PurgeEndedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	GetByExternalID(ctx context.Context, externalID string) (Market, error)
	GetByTokenID(ctx context.Context, tokenID string) (Market, error)
	Search(ctx context.Context, query string, opts ListOpts) ([]Market, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// SyncRunStore persists per-pass operational metadata.
type SyncRunStore interface {
	Create(ctx context.Context, run SyncRun) error
	Finish(ctx context.Context, run SyncRun) error
	LastSuccess(ctx context.Context) (SyncRun, error)
	Latest(ctx context.Context) (SyncRun, error)
	Count(ctx context.Context) (int64, error)
}

// MarketCache is a read-through cache in front of MarketStore for the
// discovery API.
type MarketCache interface {
	Get(ctx context.Context, externalID string) (Market, error)
	GetByToken(ctx context.Context, tokenID string) (Market, error)
	Set(ctx context.Context, m Market) error
	Invalidate(ctx context.Context, externalID string) error
}
