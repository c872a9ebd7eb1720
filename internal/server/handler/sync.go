package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/theSchein/pamela-sub002/internal/domain"
)

// SyncTrigger is the scheduler surface the sync handler uses.
type SyncTrigger interface {
	TriggerManual(ctx context.Context, search string) (domain.SyncSummary, error)
	Running() bool
	NextRun() time.Time
	Interval() time.Duration
}

// SyncRunReader reads sync run history for the status endpoint.
type SyncRunReader interface {
	Latest(ctx context.Context) (domain.SyncRun, error)
	LastSuccess(ctx context.Context) (domain.SyncRun, error)
}

// SyncHandler serves the manual trigger and status endpoints.
type SyncHandler struct {
	trigger SyncTrigger
	runs    SyncRunReader
	logger  *slog.Logger
}

// NewSyncHandler creates a SyncHandler. runs may be nil when run history is
// not persisted.
func NewSyncHandler(trigger SyncTrigger, runs SyncRunReader, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{
		trigger: trigger,
		runs:    runs,
		logger:  logger,
	}
}

// triggerRequest is the optional JSON body for a manual trigger. A query
// scopes the pass to markets matching the search term.
type triggerRequest struct {
	Query string `json:"query"`
}

// TriggerSync runs one sync pass and returns its summary. When a pass is
// already running the trigger is dropped and 409 Conflict is returned.
// POST /api/sync
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Query == "" {
		req.Query = r.URL.Query().Get("q")
	}

	summary, err := h.trigger.TriggerManual(r.Context(), req.Query)
	if err != nil {
		if errors.Is(err, domain.ErrSyncInFlight) {
			writeError(w, http.StatusConflict, "a sync pass is already running")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: manual sync failed",
			slog.String("query", req.Query),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "sync pass failed")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// syncStatusResponse reports scheduler state and recent run history.
type syncStatusResponse struct {
	Running     bool            `json:"running"`
	NextRun     string          `json:"next_run,omitempty"`
	Interval    string          `json:"interval"`
	LatestRun   *domain.SyncRun `json:"latest_run,omitempty"`
	LastSuccess *domain.SyncRun `json:"last_success,omitempty"`
}

// SyncStatus reports whether a pass is running, when the next scheduled pass
// fires, and the most recent run records.
// GET /api/sync/status
func (h *SyncHandler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	resp := syncStatusResponse{
		Running:  h.trigger.Running(),
		Interval: h.trigger.Interval().String(),
	}
	if next := h.trigger.NextRun(); !next.IsZero() {
		resp.NextRun = next.UTC().Format(time.RFC3339)
	}

	if h.runs != nil {
		if run, err := h.runs.Latest(r.Context()); err == nil {
			resp.LatestRun = &run
		} else if !errors.Is(err, domain.ErrNotFound) {
			h.logger.WarnContext(r.Context(), "handler: latest run lookup failed",
				slog.String("error", err.Error()),
			)
		}
		if run, err := h.runs.LastSuccess(r.Context()); err == nil {
			resp.LastSuccess = &run
		} else if !errors.Is(err, domain.ErrNotFound) {
			h.logger.WarnContext(r.Context(), "handler: last success lookup failed",
				slog.String("error", err.Error()),
			)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
