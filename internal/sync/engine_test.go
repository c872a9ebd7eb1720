package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/theSchein/pamela-sub002/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPolicy() Policy {
	return Policy{
		PageSize:        500,
		MaxPages:        10,
		MaxRecords:      5000,
		MinLiquidity:    1000,
		MinVolume:       0,
		AcceptanceGrace: 24 * time.Hour,
		MarkOffset:      time.Second,
		Retention:       30 * 24 * time.Hour,
	}
}

func futureDate(d time.Duration) *time.Time {
	t := time.Now().UTC().Add(d)
	return &t
}

func makeMarket(id string, liquidity float64) domain.Market {
	return domain.Market{
		ExternalID: id,
		Question:   "Question for " + id,
		Slug:       "slug-" + id,
		Active:     true,
		Liquidity:  liquidity,
		Volume:     100,
		EndDate:    futureDate(30 * 24 * time.Hour),
	}
}

// fakeFetcher serves pre-canned pages in sequence and can fail on a given
// call index.
type fakeFetcher struct {
	pages     [][]domain.Market
	failOn    int // call index that errors, -1 for never
	calls     int
	gotSearch []string
}

func newFakeFetcher(pages ...[]domain.Market) *fakeFetcher {
	return &fakeFetcher{pages: pages, failOn: -1}
}

func (f *fakeFetcher) FetchMarkets(ctx context.Context, q domain.MarketQuery) ([]domain.Market, error) {
	call := f.calls
	f.calls++
	f.gotSearch = append(f.gotSearch, q.Search)
	if call == f.failOn {
		return nil, errors.New("upstream unavailable")
	}
	if call < len(f.pages) {
		return f.pages[call], nil
	}
	return nil, nil
}

// fakeMarketStore is an in-memory MarketStore that models last_synced_at
// semantics the way the real store does.
type fakeMarketStore struct {
	mu         sync.Mutex
	markets    map[string]domain.Market
	lastSynced map[string]time.Time
	upsertErr  map[string]error

	markErr  error
	sweepErr error
	purgeErr error
	listErr  error

	markCalls  int
	sweepCalls int
	purgeCalls int
}

func newFakeMarketStore() *fakeMarketStore {
	return &fakeMarketStore{
		markets:    map[string]domain.Market{},
		lastSynced: map[string]time.Time{},
		upsertErr:  map[string]error{},
	}
}

func (s *fakeMarketStore) seed(m domain.Market, lastSynced time.Time) {
	s.markets[m.ExternalID] = m
	s.lastSynced[m.ExternalID] = lastSynced
}

func (s *fakeMarketStore) UpsertFull(ctx context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.upsertErr[m.ExternalID]; err != nil {
		return err
	}
	s.markets[m.ExternalID] = m
	s.lastSynced[m.ExternalID] = time.Now().UTC()
	return nil
}

func (s *fakeMarketStore) MarkActiveForReview(ctx context.Context, t time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markCalls++
	if s.markErr != nil {
		return 0, s.markErr
	}
	var n int64
	for id, m := range s.markets {
		if m.Active {
			s.lastSynced[id] = t
			n++
		}
	}
	return n, nil
}

func (s *fakeMarketStore) SweepStale(ctx context.Context, passStart time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepCalls++
	if s.sweepErr != nil {
		return 0, s.sweepErr
	}
	var n int64
	for id, m := range s.markets {
		if m.Active && s.lastSynced[id].Before(passStart) {
			m.Active = false
			m.Closed = true
			s.markets[id] = m
			n++
		}
	}
	return n, nil
}

func (s *fakeMarketStore) ListEndedBefore(ctx context.Context, cutoff time.Time) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.Market
	for _, m := range s.markets {
		if m.EndDate != nil && m.EndDate.Before(cutoff) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeMarketStore) PurgeEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeCalls++
	if s.purgeErr != nil {
		return 0, s.purgeErr
	}
	var n int64
	for id, m := range s.markets {
		if m.EndDate != nil && m.EndDate.Before(cutoff) {
			delete(s.markets, id)
			delete(s.lastSynced, id)
			n++
		}
	}
	return n, nil
}

func (s *fakeMarketStore) GetByExternalID(ctx context.Context, externalID string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[externalID]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *fakeMarketStore) GetByTokenID(ctx context.Context, tokenID string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.markets {
		for _, t := range m.Tokens {
			if t.TokenID == tokenID {
				return m, nil
			}
		}
	}
	return domain.Market{}, domain.ErrNotFound
}

func (s *fakeMarketStore) Search(ctx context.Context, query string, opts domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.markets {
		if m.Active && strings.Contains(strings.ToLower(m.Question), strings.ToLower(query)) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeMarketStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.markets {
		if m.Active {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeMarketStore) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.markets)), nil
}

func (s *fakeMarketStore) get(id string) (domain.Market, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	return m, ok
}

// fakeRunStore records run lifecycle calls.
type fakeRunStore struct {
	mu       sync.Mutex
	created  []domain.SyncRun
	finished []domain.SyncRun

	createErr error
	finishErr error
}

func (s *fakeRunStore) Create(ctx context.Context, run domain.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, run)
	return nil
}

func (s *fakeRunStore) Finish(ctx context.Context, run domain.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finishErr != nil {
		return s.finishErr
	}
	s.finished = append(s.finished, run)
	return nil
}

func (s *fakeRunStore) LastSuccess(ctx context.Context) (domain.SyncRun, error) {
	return domain.SyncRun{}, domain.ErrNotFound
}

func (s *fakeRunStore) Latest(ctx context.Context) (domain.SyncRun, error) {
	return domain.SyncRun{}, domain.ErrNotFound
}

func (s *fakeRunStore) Count(ctx context.Context) (int64, error) { return 0, nil }

// fakeBlobWriter records uploads.
type fakeBlobWriter struct {
	mu     sync.Mutex
	paths  []string
	putErr error
}

func (b *fakeBlobWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.putErr != nil {
		return b.putErr
	}
	b.paths = append(b.paths, path)
	return nil
}

func (b *fakeBlobWriter) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	return b.Put(ctx, path, data, "application/octet-stream")
}

// fakeMarketCache records invalidations.
type fakeMarketCache struct {
	mu          sync.Mutex
	invalidated []string
	invErr      error
}

func (c *fakeMarketCache) Get(ctx context.Context, externalID string) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}

func (c *fakeMarketCache) GetByToken(ctx context.Context, tokenID string) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}

func (c *fakeMarketCache) Set(ctx context.Context, m domain.Market) error { return nil }

func (c *fakeMarketCache) Invalidate(ctx context.Context, externalID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.invErr != nil {
		return c.invErr
	}
	c.invalidated = append(c.invalidated, externalID)
	return nil
}

func TestRunPassMarkAndSweep(t *testing.T) {
	store := newFakeMarketStore()
	earlier := time.Now().UTC().Add(-time.Hour)
	store.seed(makeMarket("A", 5000), earlier)
	store.seed(makeMarket("B", 5000), earlier)
	store.seed(makeMarket("C", 5000), earlier)

	// The upstream snapshot no longer contains B.
	fetcher := newFakeFetcher([]domain.Market{makeMarket("A", 5000), makeMarket("C", 5000)})

	engine := NewEngine(fetcher, store, &fakeRunStore{}, nil, nil, testPolicy(), discardLogger())

	summary, err := engine.RunPass(context.Background(), domain.SyncKindScheduled, "")
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	if summary.Deactivated != 1 {
		t.Errorf("Deactivated = %d, want 1", summary.Deactivated)
	}
	if summary.Written != 2 {
		t.Errorf("Written = %d, want 2", summary.Written)
	}

	b, _ := store.get("B")
	if b.Active || !b.Closed {
		t.Errorf("B active/closed = %v/%v, want false/true", b.Active, b.Closed)
	}
	for _, id := range []string{"A", "C"} {
		m, _ := store.get(id)
		if !m.Active || m.Closed {
			t.Errorf("%s active/closed = %v/%v, want true/false", id, m.Active, m.Closed)
		}
	}
}

func TestRunPassNoSweepOnFetchFailure(t *testing.T) {
	store := newFakeMarketStore()
	earlier := time.Now().UTC().Add(-time.Hour)
	store.seed(makeMarket("A", 5000), earlier)
	store.seed(makeMarket("B", 5000), earlier)

	fetcher := newFakeFetcher()
	fetcher.failOn = 0

	runs := &fakeRunStore{}
	engine := NewEngine(fetcher, store, runs, nil, nil, testPolicy(), discardLogger())

	if _, err := engine.RunPass(context.Background(), domain.SyncKindScheduled, ""); err == nil {
		t.Fatal("expected pass error, got nil")
	}

	if store.sweepCalls != 0 {
		t.Errorf("sweepCalls = %d, want 0", store.sweepCalls)
	}
	for _, id := range []string{"A", "B"} {
		m, _ := store.get(id)
		if !m.Active {
			t.Errorf("%s deactivated after a total fetch failure", id)
		}
	}
	if len(runs.finished) != 1 || runs.finished[0].Status != domain.SyncStatusError {
		t.Errorf("finished runs = %+v, want one error run", runs.finished)
	}
}

func TestRunPassMidPassFetchFailure(t *testing.T) {
	store := newFakeMarketStore()
	earlier := time.Now().UTC().Add(-time.Hour)
	store.seed(makeMarket("B", 5000), earlier)

	// First page succeeds and fills exactly PageSize records so the loop
	// requests a second page, which fails.
	policy := testPolicy()
	policy.PageSize = 2
	page := []domain.Market{makeMarket("X", 5000), makeMarket("Y", 5000)}
	fetcher := newFakeFetcher(page)
	fetcher.failOn = 1

	engine := NewEngine(fetcher, store, nil, nil, nil, policy, discardLogger())

	summary, err := engine.RunPass(context.Background(), domain.SyncKindScheduled, "")
	if err == nil {
		t.Fatal("expected pass error, got nil")
	}

	// Written records from the good page stay written, but the sweep must
	// not run against a partial snapshot.
	if summary.Written != 2 {
		t.Errorf("Written = %d, want 2", summary.Written)
	}
	if store.sweepCalls != 0 {
		t.Errorf("sweepCalls = %d, want 0", store.sweepCalls)
	}
	b, _ := store.get("B")
	if !b.Active {
		t.Error("B deactivated after a partial fetch failure")
	}
}

func TestRunPassZeroRecordsSkipsReconciliation(t *testing.T) {
	store := newFakeMarketStore()
	earlier := time.Now().UTC().Add(-time.Hour)
	store.seed(makeMarket("A", 5000), earlier)

	fetcher := newFakeFetcher([]domain.Market{})

	engine := NewEngine(fetcher, store, &fakeRunStore{}, nil, nil, testPolicy(), discardLogger())

	summary, err := engine.RunPass(context.Background(), domain.SyncKindScheduled, "")
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	if summary.Fetched != 0 {
		t.Errorf("Fetched = %d, want 0", summary.Fetched)
	}
	if store.sweepCalls != 0 {
		t.Errorf("sweepCalls = %d, want 0 on empty snapshot", store.sweepCalls)
	}
	if store.purgeCalls != 0 {
		t.Errorf("purgeCalls = %d, want 0 on empty snapshot", store.purgeCalls)
	}
	a, _ := store.get("A")
	if !a.Active {
		t.Error("A deactivated by an empty snapshot")
	}
}

func TestRunPassPartialFailureIsolation(t *testing.T) {
	store := newFakeMarketStore()

	var snapshot []domain.Market
	for i := 0; i < 10; i++ {
		snapshot = append(snapshot, makeMarket(fmt.Sprintf("m%d", i), 5000))
	}
	store.upsertErr["m4"] = errors.New("constraint violation")

	fetcher := newFakeFetcher(snapshot)
	engine := NewEngine(fetcher, store, &fakeRunStore{}, nil, nil, testPolicy(), discardLogger())

	summary, err := engine.RunPass(context.Background(), domain.SyncKindScheduled, "")
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	if summary.Written != 9 {
		t.Errorf("Written = %d, want 9", summary.Written)
	}
	if summary.Failed != 1 {
		t.Errorf("Failed = %d, want 1", summary.Failed)
	}
	if _, ok := store.get("m4"); ok {
		t.Error("m4 written despite injected failure")
	}
	if _, ok := store.get("m5"); !ok {
		t.Error("m5 missing; failure did not stay isolated to m4")
	}
}

func TestRunPassWriteTimeEndDateSkip(t *testing.T) {
	store := newFakeMarketStore()
	store.upsertErr["stale"] = domain.ErrEndDatePast

	snapshot := []domain.Market{makeMarket("fresh", 5000), makeMarket("stale", 5000)}
	fetcher := newFakeFetcher(snapshot)
	engine := NewEngine(fetcher, store, nil, nil, nil, testPolicy(), discardLogger())

	summary, err := engine.RunPass(context.Background(), domain.SyncKindScheduled, "")
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	if summary.Written != 1 {
		t.Errorf("Written = %d, want 1", summary.Written)
	}
	if summary.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", summary.Skipped)
	}
	if summary.Failed != 0 {
		t.Errorf("Failed = %d, want 0; end-date rejection is a skip, not a failure", summary.Failed)
	}
}

func TestRunPassAcceptanceFilter(t *testing.T) {
	now := time.Now().UTC()

	noIdentity := makeMarket("", 5000)
	beyondGrace := makeMarket("old", 5000)
	old := now.Add(-48 * time.Hour)
	beyondGrace.EndDate = &old
	withinGrace := makeMarket("recent", 5000)
	recent := now.Add(-time.Hour)
	withinGrace.EndDate = &recent
	lowLiquidity := makeMarket("thin", 10)
	openEnded := makeMarket("open", 5000)
	openEnded.EndDate = nil
	good := makeMarket("good", 5000)

	snapshot := []domain.Market{noIdentity, beyondGrace, withinGrace, lowLiquidity, openEnded, good}
	fetcher := newFakeFetcher(snapshot)
	store := newFakeMarketStore()
	engine := NewEngine(fetcher, store, nil, nil, nil, testPolicy(), discardLogger())

	summary, err := engine.RunPass(context.Background(), domain.SyncKindScheduled, "")
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	if summary.Fetched != 6 {
		t.Errorf("Fetched = %d, want 6", summary.Fetched)
	}
	if summary.Skipped != 3 {
		t.Errorf("Skipped = %d, want 3", summary.Skipped)
	}
	if summary.Written != 3 {
		t.Errorf("Written = %d, want 3", summary.Written)
	}
	for _, id := range []string{"recent", "open", "good"} {
		if _, ok := store.get(id); !ok {
			t.Errorf("%s not written", id)
		}
	}
	for _, id := range []string{"old", "thin"} {
		if _, ok := store.get(id); ok {
			t.Errorf("%s written despite failing acceptance", id)
		}
	}
}

func TestRunPassWrittenRecordsEnterActive(t *testing.T) {
	inactive := makeMarket("m1", 5000)
	inactive.Active = false
	inactive.Closed = true

	fetcher := newFakeFetcher([]domain.Market{inactive})
	store := newFakeMarketStore()
	engine := NewEngine(fetcher, store, nil, nil, nil, testPolicy(), discardLogger())

	if _, err := engine.RunPass(context.Background(), domain.SyncKindScheduled, ""); err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	m, ok := store.get("m1")
	if !ok {
		t.Fatal("m1 not written")
	}
	if !m.Active || m.Closed {
		t.Errorf("active/closed = %v/%v, want true/false", m.Active, m.Closed)
	}
}

func TestRunPassScopedNeverMarksOrSweeps(t *testing.T) {
	store := newFakeMarketStore()
	earlier := time.Now().UTC().Add(-time.Hour)
	store.seed(makeMarket("unrelated", 5000), earlier)

	fetcher := newFakeFetcher([]domain.Market{makeMarket("match", 5000)})
	engine := NewEngine(fetcher, store, nil, nil, nil, testPolicy(), discardLogger())

	summary, err := engine.RunPass(context.Background(), domain.SyncKindManual, "elections")
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	if store.markCalls != 0 {
		t.Errorf("markCalls = %d, want 0 for scoped pass", store.markCalls)
	}
	if store.sweepCalls != 0 {
		t.Errorf("sweepCalls = %d, want 0 for scoped pass", store.sweepCalls)
	}
	if summary.Deactivated != 0 {
		t.Errorf("Deactivated = %d, want 0", summary.Deactivated)
	}
	if fetcher.gotSearch[0] != "elections" {
		t.Errorf("search forwarded = %q", fetcher.gotSearch[0])
	}
	m, _ := store.get("unrelated")
	if !m.Active {
		t.Error("unrelated market deactivated by a scoped pass")
	}
}

func TestRunPassPagination(t *testing.T) {
	policy := testPolicy()
	policy.PageSize = 2

	pageOf := func(ids ...string) []domain.Market {
		var out []domain.Market
		for _, id := range ids {
			out = append(out, makeMarket(id, 5000))
		}
		return out
	}

	fetcher := newFakeFetcher(pageOf("a", "b"), pageOf("c", "d"), pageOf("e"))
	store := newFakeMarketStore()
	engine := NewEngine(fetcher, store, nil, nil, nil, policy, discardLogger())

	summary, err := engine.RunPass(context.Background(), domain.SyncKindScheduled, "")
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	if summary.Fetched != 5 {
		t.Errorf("Fetched = %d, want 5", summary.Fetched)
	}
	if fetcher.calls != 3 {
		t.Errorf("fetch calls = %d, want 3 (stops on short page)", fetcher.calls)
	}
}

func TestRunPassMaxRecordsCeiling(t *testing.T) {
	policy := testPolicy()
	policy.PageSize = 2
	policy.MaxRecords = 4

	pageOf := func(ids ...string) []domain.Market {
		var out []domain.Market
		for _, id := range ids {
			out = append(out, makeMarket(id, 5000))
		}
		return out
	}

	fetcher := newFakeFetcher(pageOf("a", "b"), pageOf("c", "d"), pageOf("e", "f"))
	store := newFakeMarketStore()
	engine := NewEngine(fetcher, store, nil, nil, nil, policy, discardLogger())

	summary, err := engine.RunPass(context.Background(), domain.SyncKindScheduled, "")
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	if summary.Fetched != 4 {
		t.Errorf("Fetched = %d, want 4", summary.Fetched)
	}
	if fetcher.calls != 2 {
		t.Errorf("fetch calls = %d, want 2", fetcher.calls)
	}
}

func TestRunPassIdempotent(t *testing.T) {
	snapshot := []domain.Market{makeMarket("A", 5000), makeMarket("B", 5000)}
	store := newFakeMarketStore()

	for i := 0; i < 2; i++ {
		fetcher := newFakeFetcher(snapshot)
		engine := NewEngine(fetcher, store, nil, nil, nil, testPolicy(), discardLogger())
		summary, err := engine.RunPass(context.Background(), domain.SyncKindScheduled, "")
		if err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
		if summary.Deactivated != 0 {
			t.Errorf("pass %d: Deactivated = %d, want 0", i, summary.Deactivated)
		}
	}

	active, _ := store.ListActive(context.Background(), domain.ListOpts{})
	if len(active) != 2 {
		t.Errorf("active markets = %d, want 2", len(active))
	}
}

func TestRunPassRetentionPurgeAndArchive(t *testing.T) {
	store := newFakeMarketStore()

	expired := makeMarket("expired", 5000)
	expired.Active = false
	expired.Closed = true
	gone := time.Now().UTC().Add(-31 * 24 * time.Hour)
	expired.EndDate = &gone
	store.seed(expired, gone)

	recent := makeMarket("recent-end", 5000)
	recent.Active = false
	recent.Closed = true
	kept := time.Now().UTC().Add(-29 * 24 * time.Hour)
	recent.EndDate = &kept
	store.seed(recent, kept)

	blobs := &fakeBlobWriter{}
	fetcher := newFakeFetcher([]domain.Market{makeMarket("live", 5000)})
	engine := NewEngine(fetcher, store, nil, nil, blobs, testPolicy(), discardLogger())

	summary, err := engine.RunPass(context.Background(), domain.SyncKindScheduled, "")
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	if summary.Purged != 1 {
		t.Errorf("Purged = %d, want 1", summary.Purged)
	}
	if summary.Archived != 1 {
		t.Errorf("Archived = %d, want 1", summary.Archived)
	}
	if _, ok := store.get("expired"); ok {
		t.Error("expired market survived the purge")
	}
	if _, ok := store.get("recent-end"); !ok {
		t.Error("market inside the retention window was purged")
	}
	if len(blobs.paths) != 1 || !strings.HasPrefix(blobs.paths[0], "markets/purged/") {
		t.Errorf("archive paths = %v", blobs.paths)
	}
}

func TestRunPassArchiveFailureStillPurges(t *testing.T) {
	store := newFakeMarketStore()
	expired := makeMarket("expired", 5000)
	expired.Active = false
	gone := time.Now().UTC().Add(-31 * 24 * time.Hour)
	expired.EndDate = &gone
	store.seed(expired, gone)

	blobs := &fakeBlobWriter{putErr: errors.New("bucket unavailable")}
	fetcher := newFakeFetcher([]domain.Market{makeMarket("live", 5000)})
	engine := NewEngine(fetcher, store, nil, nil, blobs, testPolicy(), discardLogger())

	summary, err := engine.RunPass(context.Background(), domain.SyncKindScheduled, "")
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	if summary.Purged != 1 {
		t.Errorf("Purged = %d, want 1 despite archive failure", summary.Purged)
	}
	if summary.Archived != 0 {
		t.Errorf("Archived = %d, want 0", summary.Archived)
	}
}

func TestRunPassInvalidatesCache(t *testing.T) {
	store := newFakeMarketStore()
	fetcher := newFakeFetcher([]domain.Market{makeMarket("A", 5000), makeMarket("B", 5000)})
	cache := &fakeMarketCache{}

	engine := NewEngine(fetcher, store, nil, cache, nil, testPolicy(), discardLogger())

	if _, err := engine.RunPass(context.Background(), domain.SyncKindScheduled, ""); err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	if len(cache.invalidated) != 2 {
		t.Fatalf("invalidated = %v, want A and B", cache.invalidated)
	}
	for i, want := range []string{"A", "B"} {
		if cache.invalidated[i] != want {
			t.Errorf("invalidated[%d] = %q, want %q", i, cache.invalidated[i], want)
		}
	}
}

func TestRunPassCacheFailureDoesNotAbort(t *testing.T) {
	fetcher := newFakeFetcher([]domain.Market{makeMarket("A", 5000)})
	cache := &fakeMarketCache{invErr: errors.New("connection refused")}

	engine := NewEngine(fetcher, newFakeMarketStore(), nil, cache, nil, testPolicy(), discardLogger())

	summary, err := engine.RunPass(context.Background(), domain.SyncKindScheduled, "")
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if summary.Written != 1 {
		t.Errorf("Written = %d, want 1", summary.Written)
	}
}

func TestRunPassNilStore(t *testing.T) {
	engine := NewEngine(newFakeFetcher(), nil, nil, nil, nil, testPolicy(), discardLogger())
	_, err := engine.RunPass(context.Background(), domain.SyncKindScheduled, "")
	if !errors.Is(err, domain.ErrNoStore) {
		t.Fatalf("err = %v, want ErrNoStore", err)
	}
}

func TestRunPassRunStoreFailuresAreBestEffort(t *testing.T) {
	runs := &fakeRunStore{
		createErr: errors.New("db down"),
		finishErr: errors.New("db down"),
	}
	fetcher := newFakeFetcher([]domain.Market{makeMarket("m1", 5000)})
	engine := NewEngine(fetcher, newFakeMarketStore(), runs, nil, nil, testPolicy(), discardLogger())

	if _, err := engine.RunPass(context.Background(), domain.SyncKindScheduled, ""); err != nil {
		t.Fatalf("RunPass failed on run store errors: %v", err)
	}
}

func TestRunPassRecordsRunMetadata(t *testing.T) {
	runs := &fakeRunStore{}
	fetcher := newFakeFetcher([]domain.Market{makeMarket("m1", 5000), makeMarket("", 0)})
	engine := NewEngine(fetcher, newFakeMarketStore(), runs, nil, nil, testPolicy(), discardLogger())

	if _, err := engine.RunPass(context.Background(), domain.SyncKindStartup, ""); err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	if len(runs.created) != 1 {
		t.Fatalf("created runs = %d, want 1", len(runs.created))
	}
	if runs.created[0].Kind != domain.SyncKindStartup {
		t.Errorf("run kind = %q", runs.created[0].Kind)
	}
	if len(runs.finished) != 1 {
		t.Fatalf("finished runs = %d, want 1", len(runs.finished))
	}
	fin := runs.finished[0]
	if fin.Status != domain.SyncStatusSuccess {
		t.Errorf("run status = %q", fin.Status)
	}
	if fin.Fetched != 2 || fin.Written != 1 {
		t.Errorf("run counters fetched/written = %d/%d, want 2/1", fin.Fetched, fin.Written)
	}
	if fin.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}
}
