// Package sync implements the market synchronization engine: paginated bulk
// ingestion from the upstream listings API, reconciliation into the local
// store via mark-and-sweep staleness detection, and retention cleanup.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/theSchein/pamela-sub002/internal/domain"
)

// Policy holds the tunable constants of a sync pass. The grace windows are
// deployment policy, not invariants, so they are injected rather than
// hard-coded.
type Policy struct {
	PageSize   int // upstream page size, API-capped at 500
	MaxPages   int // ceiling on pages per pass
	MaxRecords int // ceiling on records per pass

	MinLiquidity float64
	MinVolume    float64

	AcceptanceGrace time.Duration // how far past an end date may be and still ingest
	MarkOffset      time.Duration // how far before pass start marked rows are backdated
	Retention       time.Duration // markets ended longer ago than this are purged
}

// Engine executes one synchronization pass at a time: mark active rows for
// review, page through the upstream snapshot writing each accepted record,
// sweep the rows the snapshot no longer contains, then archive and purge
// markets past the retention window.
type Engine struct {
	fetcher domain.MarketFetcher
	markets domain.MarketStore
	runs    domain.SyncRunStore
	cache   domain.MarketCache // optional read cache, invalidated per write
	blobs   domain.BlobWriter  // optional cold-storage archive for purged rows
	policy  Policy
	logger  *slog.Logger
}

// NewEngine creates an Engine. runs, cache, and blobs may be nil; a nil runs
// store disables pass metadata recording, a nil cache disables invalidation,
// and a nil blobs writer disables archival.
func NewEngine(
	fetcher domain.MarketFetcher,
	markets domain.MarketStore,
	runs domain.SyncRunStore,
	cache domain.MarketCache,
	blobs domain.BlobWriter,
	policy Policy,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		fetcher: fetcher,
		markets: markets,
		runs:    runs,
		cache:   cache,
		blobs:   blobs,
		policy:  policy,
		logger:  logger.With(slog.String("component", "sync_engine")),
	}
}

// RunPass executes one full pass. A non-empty search term scopes the pass to
// matching markets only; scoped passes never mark or sweep, since they see a
// subset of the catalog and would otherwise deactivate unrelated markets.
//
// Per-record failures are counted and skipped, never returned. The returned
// error reports pass-level failures only (upstream unreachable, storage
// unavailable); in that case mark state is left in place and the sweep does
// not run, so a transient outage can never mass-deactivate the catalog.
func (e *Engine) RunPass(ctx context.Context, kind domain.SyncKind, search string) (domain.SyncSummary, error) {
	if e.markets == nil {
		return domain.SyncSummary{}, fmt.Errorf("sync: %w", domain.ErrNoStore)
	}

	passStart := time.Now().UTC()
	scoped := search != ""

	summary := domain.SyncSummary{
		Kind:      kind,
		Query:     search,
		StartedAt: passStart,
	}

	run := domain.SyncRun{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    domain.SyncStatusRunning,
		Query:     search,
		StartedAt: passStart,
	}
	e.createRun(ctx, run)

	e.logger.InfoContext(ctx, "sync pass starting",
		slog.String("run_id", run.ID),
		slog.String("kind", string(kind)),
		slog.String("search", search),
	)

	// Mark-for-review precedes the fetch/write loop. Marked rows that no
	// upsert touches are the sweep's candidates.
	if !scoped {
		marked, err := e.markets.MarkActiveForReview(ctx, passStart.Add(-e.policy.MarkOffset))
		if err != nil {
			return e.failPass(ctx, run, summary, fmt.Errorf("sync: mark for review: %w", err))
		}
		e.logger.DebugContext(ctx, "marked active markets for review", slog.Int64("marked", marked))
	}

	fetchErr := e.fetchAndWrite(ctx, search, &summary)
	if fetchErr != nil {
		// The upstream snapshot is incomplete; sweeping now would deactivate
		// markets that are merely unseen. Degrade to a recorded failure.
		return e.failPass(ctx, run, summary, fmt.Errorf("sync: fetch markets: %w", fetchErr))
	}

	if summary.Fetched == 0 {
		// An empty snapshot is indistinguishable from a silently broken
		// upstream; short-circuit without sweeping or purging.
		e.logger.WarnContext(ctx, "upstream returned no records, skipping reconciliation",
			slog.String("run_id", run.ID))
		e.finishRun(ctx, run, summary, domain.SyncStatusSuccess, "")
		return summary, nil
	}

	if !scoped {
		swept, err := e.markets.SweepStale(ctx, passStart)
		if err != nil {
			return e.failPass(ctx, run, summary, fmt.Errorf("sync: sweep stale: %w", err))
		}
		summary.Deactivated = swept
	}

	if err := e.purge(ctx, run.ID, &summary); err != nil {
		return e.failPass(ctx, run, summary, err)
	}

	e.finishRun(ctx, run, summary, domain.SyncStatusSuccess, "")

	e.logger.InfoContext(ctx, "sync pass complete",
		slog.String("run_id", run.ID),
		slog.Int("fetched", summary.Fetched),
		slog.Int("accepted", summary.Accepted),
		slog.Int("written", summary.Written),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
		slog.Int64("deactivated", summary.Deactivated),
		slog.Int64("purged", summary.Purged),
	)

	return summary, nil
}

// fetchAndWrite pages through the upstream snapshot and upserts each accepted
// record. It returns an error only when a page fetch fails; record-level
// failures are absorbed into the summary so one bad record never aborts the
// remaining batch.
func (e *Engine) fetchAndWrite(ctx context.Context, search string, summary *domain.SyncSummary) error {
	active, closed := true, false
	endDateMin := summary.StartedAt.Add(-e.policy.AcceptanceGrace)

	query := domain.MarketQuery{
		Limit:        e.policy.PageSize,
		Active:       &active,
		Closed:       &closed,
		MinLiquidity: e.policy.MinLiquidity,
		MinVolume:    e.policy.MinVolume,
		EndDateMin:   &endDateMin,
		Search:       search,
	}

	for page := 0; page < e.policy.MaxPages; page++ {
		query.Offset = summary.Fetched

		batch, err := e.fetcher.FetchMarkets(ctx, query)
		if err != nil {
			return fmt.Errorf("page %d (offset %d): %w", page, query.Offset, err)
		}
		summary.Fetched += len(batch)

		for i := range batch {
			e.writeRecord(ctx, batch[i], summary)
		}

		if len(batch) < e.policy.PageSize || summary.Fetched >= e.policy.MaxRecords {
			break
		}
	}
	return nil
}

// writeRecord applies the acceptance filter and upserts one canonical record,
// folding the outcome into the summary.
func (e *Engine) writeRecord(ctx context.Context, m domain.Market, summary *domain.SyncSummary) {
	if reason := e.reject(m, summary.StartedAt); reason != "" {
		summary.Skipped++
		e.logger.DebugContext(ctx, "record rejected",
			slog.String("external_id", m.ExternalID),
			slog.String("reason", reason),
		)
		return
	}
	summary.Accepted++

	// Synced records always enter as tradable; the sweep step is the only
	// writer that deactivates.
	m.Active = true
	m.Closed = false

	if err := e.markets.UpsertFull(ctx, m); err != nil {
		if errors.Is(err, domain.ErrEndDatePast) {
			summary.Skipped++
			e.logger.DebugContext(ctx, "record skipped at write time",
				slog.String("external_id", m.ExternalID),
				slog.String("error", err.Error()),
			)
			return
		}
		summary.Failed++
		e.logger.WarnContext(ctx, "record upsert failed",
			slog.String("external_id", m.ExternalID),
			slog.String("error", err.Error()),
		)
		return
	}
	summary.Written++

	// Drop any cached copy so readers see the fresh row on their next miss.
	if e.cache != nil {
		if err := e.cache.Invalidate(ctx, m.ExternalID); err != nil {
			e.logger.WarnContext(ctx, "cache invalidation failed",
				slog.String("external_id", m.ExternalID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reject returns a non-empty reason when the record fails the acceptance
// filter. The filter re-checks locally what the upstream query parameters
// already requested, since the feed cannot be fully trusted to apply them.
func (e *Engine) reject(m domain.Market, passStart time.Time) string {
	if m.ExternalID == "" || m.Question == "" || m.Slug == "" {
		return "missing identity fields"
	}
	// Open-ended markets (no end date) are accepted unconditionally.
	if m.EndDate != nil && m.EndDate.Before(passStart.Add(-e.policy.AcceptanceGrace)) {
		return "end date beyond grace window"
	}
	if m.Liquidity < e.policy.MinLiquidity {
		return "liquidity below floor"
	}
	if m.Volume < e.policy.MinVolume {
		return "volume below floor"
	}
	return ""
}

// purge archives then deletes markets whose end date is past the retention
// window. Archive failures degrade to a warning; the purge still runs.
func (e *Engine) purge(ctx context.Context, runID string, summary *domain.SyncSummary) error {
	cutoff := time.Now().UTC().Add(-e.policy.Retention)

	if e.blobs != nil {
		archived, err := e.archive(ctx, runID, cutoff)
		if err != nil {
			e.logger.WarnContext(ctx, "archive of purged markets failed",
				slog.String("error", err.Error()))
		} else {
			summary.Archived = archived
		}
	}

	purged, err := e.markets.PurgeEndedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("sync: purge ended markets: %w", err)
	}
	summary.Purged = purged
	return nil
}

// archive serializes the rows about to be purged and uploads them to cold
// storage under markets/purged/<date>/<runID>.json.
func (e *Engine) archive(ctx context.Context, runID string, cutoff time.Time) (int64, error) {
	expired, err := e.markets.ListEndedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list ended markets: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	payload, err := json.Marshal(expired)
	if err != nil {
		return 0, fmt.Errorf("marshal archive payload: %w", err)
	}

	path := fmt.Sprintf("markets/purged/%s/%s.json",
		time.Now().UTC().Format("2006-01-02"), runID)
	if err := e.blobs.Put(ctx, path, bytes.NewReader(payload), "application/json"); err != nil {
		return 0, err
	}

	e.logger.InfoContext(ctx, "archived purged markets",
		slog.String("path", path),
		slog.Int("count", len(expired)),
	)
	return int64(len(expired)), nil
}

// failPass records a pass-level failure on the sync run and returns the
// summary alongside the error. Mark state is intentionally left behind: the
// next successful pass re-marks and sweeps correctly.
func (e *Engine) failPass(ctx context.Context, run domain.SyncRun, summary domain.SyncSummary, err error) (domain.SyncSummary, error) {
	e.logger.ErrorContext(ctx, "sync pass failed",
		slog.String("run_id", run.ID),
		slog.String("error", err.Error()),
	)
	e.finishRun(ctx, run, summary, domain.SyncStatusError, err.Error())
	return summary, err
}

// createRun records the start of a pass. Metadata persistence is best-effort:
// a missing or failing run store must not block reconciliation.
func (e *Engine) createRun(ctx context.Context, run domain.SyncRun) {
	if e.runs == nil {
		return
	}
	if err := e.runs.Create(ctx, run); err != nil {
		e.logger.WarnContext(ctx, "could not record sync run start",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
	}
}

// finishRun records the terminal state of a pass, best-effort.
func (e *Engine) finishRun(ctx context.Context, run domain.SyncRun, summary domain.SyncSummary, status domain.SyncStatus, errMsg string) {
	if e.runs == nil {
		return
	}
	now := time.Now().UTC()
	run.Status = status
	run.FinishedAt = &now
	run.Fetched = summary.Fetched
	run.Accepted = summary.Accepted
	run.Written = summary.Written
	run.Failed = summary.Failed
	run.Deactivated = summary.Deactivated
	run.Purged = summary.Purged
	run.ErrorMessage = errMsg

	if err := e.runs.Finish(ctx, run); err != nil {
		e.logger.WarnContext(ctx, "could not record sync run result",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
	}
}
