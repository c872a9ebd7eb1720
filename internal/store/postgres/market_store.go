package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/theSchein/pamela-sub002/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// UpsertFull writes the market row, its token rows, and its reward row inside
// one transaction keyed by the external ID: either all three groups commit or
// none do. On success the market's last_synced_at and updated_at advance to
// the current time, which is the signal the staleness sweep depends on.
//
// A write-time end-date check guards the race between fetch and write,
// independent of the acceptance filter: markets whose end date is already
// past (or whose calendar year is behind the current year) are refused with
// domain.ErrEndDatePast so the caller can count and skip them.
func (s *MarketStore) UpsertFull(ctx context.Context, m domain.Market) error {
	now := time.Now().UTC()
	if m.EndDate != nil && (m.EndDate.Year() < now.Year() || m.EndDate.Before(now)) {
		return fmt.Errorf("postgres: upsert market %s (end date %s): %w",
			m.ExternalID, m.EndDate.Format(time.RFC3339), domain.ErrEndDatePast)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin upsert %s: %w", m.ExternalID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const marketQuery = `
		INSERT INTO markets (
			external_id, question, category, slug,
			end_date, event_start_date, active, closed,
			liquidity, volume,
			min_order_size, min_tick_size, min_incentive_size,
			max_incentive_spread, settlement_delay_seconds,
			created_at, updated_at, last_synced_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10,
			$11, $12, $13,
			$14, $15,
			NOW(), NOW(), NOW()
		)
		ON CONFLICT (external_id) DO UPDATE SET
			question                 = EXCLUDED.question,
			category                 = EXCLUDED.category,
			slug                     = EXCLUDED.slug,
			end_date                 = EXCLUDED.end_date,
			event_start_date         = EXCLUDED.event_start_date,
			active                   = EXCLUDED.active,
			closed                   = EXCLUDED.closed,
			liquidity                = EXCLUDED.liquidity,
			volume                   = EXCLUDED.volume,
			min_order_size           = EXCLUDED.min_order_size,
			min_tick_size            = EXCLUDED.min_tick_size,
			min_incentive_size       = EXCLUDED.min_incentive_size,
			max_incentive_spread     = EXCLUDED.max_incentive_spread,
			settlement_delay_seconds = EXCLUDED.settlement_delay_seconds,
			updated_at               = NOW(),
			last_synced_at           = NOW()`

	_, err = tx.Exec(ctx, marketQuery,
		m.ExternalID, m.Question, m.Category, m.Slug,
		m.EndDate, m.EventStartDate, m.Active, m.Closed,
		m.Liquidity, m.Volume,
		m.MinOrderSize, m.MinTickSize, m.MinIncentiveSize,
		m.MaxIncentiveSpread, m.SettlementDelaySec,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.ExternalID, err)
	}

	if err := s.writeTokens(ctx, tx, m); err != nil {
		return err
	}
	if err := s.writeReward(ctx, tx, m); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit upsert %s: %w", m.ExternalID, err)
	}
	return nil
}

// writeTokens reconciles the token rows of one market to exactly the set on
// the canonical record.
func (s *MarketStore) writeTokens(ctx context.Context, tx pgx.Tx, m domain.Market) error {
	ids := make([]string, 0, len(m.Tokens))
	for _, t := range m.Tokens {
		ids = append(ids, t.TokenID)
	}

	// Drop tokens no longer present upstream before inserting, so a swapped
	// outcome label cannot trip the per-market label uniqueness constraint.
	if _, err := tx.Exec(ctx,
		`DELETE FROM market_tokens WHERE external_id = $1 AND NOT (token_id = ANY($2))`,
		m.ExternalID, ids,
	); err != nil {
		return fmt.Errorf("postgres: prune tokens of %s: %w", m.ExternalID, err)
	}

	const tokenQuery = `
		INSERT INTO market_tokens (token_id, external_id, outcome)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_id) DO UPDATE SET
			external_id = EXCLUDED.external_id,
			outcome     = EXCLUDED.outcome`

	for _, t := range m.Tokens {
		if _, err := tx.Exec(ctx, tokenQuery, t.TokenID, m.ExternalID, t.Outcome); err != nil {
			return fmt.Errorf("postgres: upsert token %s of %s: %w", t.TokenID, m.ExternalID, err)
		}
	}
	return nil
}

// writeReward upserts or clears the zero-or-one reward row of a market.
func (s *MarketStore) writeReward(ctx context.Context, tx pgx.Tx, m domain.Market) error {
	if m.Reward == nil {
		if _, err := tx.Exec(ctx,
			`DELETE FROM market_rewards WHERE external_id = $1`, m.ExternalID,
		); err != nil {
			return fmt.Errorf("postgres: clear reward of %s: %w", m.ExternalID, err)
		}
		return nil
	}

	const rewardQuery = `
		INSERT INTO market_rewards (
			external_id, min_size, max_spread,
			event_start_date, event_end_date, in_game_multiplier, reward_epoch
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (external_id) DO UPDATE SET
			min_size           = EXCLUDED.min_size,
			max_spread         = EXCLUDED.max_spread,
			event_start_date   = EXCLUDED.event_start_date,
			event_end_date     = EXCLUDED.event_end_date,
			in_game_multiplier = EXCLUDED.in_game_multiplier,
			reward_epoch       = EXCLUDED.reward_epoch`

	r := m.Reward
	if _, err := tx.Exec(ctx, rewardQuery,
		m.ExternalID, r.MinSize, r.MaxSpread,
		r.EventStartDate, r.EventEndDate, r.InGameMultiplier, r.RewardEpoch,
	); err != nil {
		return fmt.Errorf("postgres: upsert reward of %s: %w", m.ExternalID, err)
	}
	return nil
}

// MarkActiveForReview backdates last_synced_at of every active market to t
// (strictly before the pass start) so the sweep can tell which rows the pass
// never touched. Status flags are left alone.
func (s *MarketStore) MarkActiveForReview(ctx context.Context, t time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET last_synced_at = $1 WHERE active = TRUE`, t)
	if err != nil {
		return 0, fmt.Errorf("postgres: mark active for review: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SweepStale deactivates every active market whose last_synced_at predates
// passStart, i.e. rows marked for review and never upserted during the pass.
func (s *MarketStore) SweepStale(ctx context.Context, passStart time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE markets
		SET active = FALSE, closed = TRUE, updated_at = NOW()
		WHERE active = TRUE
		  AND (last_synced_at IS NULL OR last_synced_at < $1)`,
		passStart)
	if err != nil {
		return 0, fmt.Errorf("postgres: sweep stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListEndedBefore returns markets whose end date is older than cutoff so they
// can be archived ahead of the retention purge.
func (s *MarketStore) ListEndedBefore(ctx context.Context, cutoff time.Time) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets WHERE end_date IS NOT NULL AND end_date < $1`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ended markets: %w", err)
	}
	markets, err := collectMarkets(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ended markets: %w", err)
	}
	if err := s.attachChildren(ctx, markets); err != nil {
		return nil, err
	}
	return markets, nil
}

// PurgeEndedBefore deletes markets whose end date is older than cutoff.
// Token and reward rows go with them via ON DELETE CASCADE.
func (s *MarketStore) PurgeEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM markets WHERE end_date IS NOT NULL AND end_date < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: purge ended markets: %w", err)
	}
	return tag.RowsAffected(), nil
}

const marketCols = `external_id, question, category, slug,
	end_date, event_start_date, active, closed,
	liquidity, volume,
	min_order_size, min_tick_size, min_incentive_size,
	max_incentive_spread, settlement_delay_seconds,
	created_at, updated_at, last_synced_at`

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	err := row.Scan(
		&m.ExternalID, &m.Question, &m.Category, &m.Slug,
		&m.EndDate, &m.EventStartDate, &m.Active, &m.Closed,
		&m.Liquidity, &m.Volume,
		&m.MinOrderSize, &m.MinTickSize, &m.MinIncentiveSize,
		&m.MaxIncentiveSpread, &m.SettlementDelaySec,
		&m.CreatedAt, &m.UpdatedAt, &m.LastSyncedAt,
	)
	return m, err
}

// collectMarkets drains a result set of market rows.
func collectMarkets(rows pgx.Rows) ([]domain.Market, error) {
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return markets, nil
}

// attachChildren loads the token and reward rows for a batch of markets in
// two queries and attaches them in place.
func (s *MarketStore) attachChildren(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}

	ids := make([]string, len(markets))
	index := make(map[string]*domain.Market, len(markets))
	for i := range markets {
		ids[i] = markets[i].ExternalID
		index[markets[i].ExternalID] = &markets[i]
	}

	tokenRows, err := s.pool.Query(ctx, `
		SELECT token_id, external_id, outcome
		FROM market_tokens
		WHERE external_id = ANY($1)
		ORDER BY token_id`, ids)
	if err != nil {
		return fmt.Errorf("postgres: load tokens: %w", err)
	}
	defer tokenRows.Close()
	for tokenRows.Next() {
		var t domain.Token
		if err := tokenRows.Scan(&t.TokenID, &t.ExternalID, &t.Outcome); err != nil {
			return fmt.Errorf("postgres: scan token: %w", err)
		}
		if m, ok := index[t.ExternalID]; ok {
			m.Tokens = append(m.Tokens, t)
		}
	}
	if err := tokenRows.Err(); err != nil {
		return fmt.Errorf("postgres: load tokens: %w", err)
	}

	rewardRows, err := s.pool.Query(ctx, `
		SELECT external_id, min_size, max_spread,
		       event_start_date, event_end_date, in_game_multiplier, reward_epoch
		FROM market_rewards
		WHERE external_id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("postgres: load rewards: %w", err)
	}
	defer rewardRows.Close()
	for rewardRows.Next() {
		var r domain.Reward
		if err := rewardRows.Scan(&r.ExternalID, &r.MinSize, &r.MaxSpread,
			&r.EventStartDate, &r.EventEndDate, &r.InGameMultiplier, &r.RewardEpoch,
		); err != nil {
			return fmt.Errorf("postgres: scan reward: %w", err)
		}
		if m, ok := index[r.ExternalID]; ok {
			reward := r
			m.Reward = &reward
		}
	}
	if err := rewardRows.Err(); err != nil {
		return fmt.Errorf("postgres: load rewards: %w", err)
	}

	return nil
}

// GetByExternalID retrieves a market with its tokens and reward block.
func (s *MarketStore) GetByExternalID(ctx context.Context, externalID string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE external_id = $1`, externalID)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", externalID, err)
	}

	markets := []domain.Market{m}
	if err := s.attachChildren(ctx, markets); err != nil {
		return domain.Market{}, err
	}
	return markets[0], nil
}

// GetByTokenID retrieves the market owning the given outcome token.
func (s *MarketStore) GetByTokenID(ctx context.Context, tokenID string) (domain.Market, error) {
	var externalID string
	err := s.pool.QueryRow(ctx,
		`SELECT external_id FROM market_tokens WHERE token_id = $1`, tokenID,
	).Scan(&externalID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market by token %s: %w", tokenID, err)
	}
	return s.GetByExternalID(ctx, externalID)
}

// Search returns active markets whose question or slug matches the free-text
// query, most liquid first.
func (s *MarketStore) Search(ctx context.Context, query string, opts domain.ListOpts) ([]domain.Market, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+marketCols+`
		FROM markets
		WHERE active = TRUE
		  AND (question ILIKE '%' || $1 || '%' OR slug ILIKE '%' || $1 || '%')
		ORDER BY liquidity DESC
		LIMIT $2 OFFSET $3`,
		query, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: search markets: %w", err)
	}
	markets, err := collectMarkets(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: search markets: %w", err)
	}
	if err := s.attachChildren(ctx, markets); err != nil {
		return nil, err
	}
	return markets, nil
}

// ListActive returns active markets ordered by liquidity with pagination.
func (s *MarketStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+marketCols+`
		FROM markets
		WHERE active = TRUE
		ORDER BY liquidity DESC
		LIMIT $1 OFFSET $2`,
		limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active markets: %w", err)
	}
	markets, err := collectMarkets(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active markets: %w", err)
	}
	if err := s.attachChildren(ctx, markets); err != nil {
		return nil, err
	}
	return markets, nil
}

// Count returns the total number of markets in the store.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
