package domain

import "time"

// SyncKind indicates what triggered a synchronization pass.
type SyncKind string

const (
	SyncKindStartup   SyncKind = "startup"
	SyncKindScheduled SyncKind = "scheduled"
	SyncKindManual    SyncKind = "manual"
)

// SyncStatus is the lifecycle state of a synchronization pass.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusRunning SyncStatus = "running"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusError   SyncStatus = "error"
)

// SyncRun is the operational record of one synchronization pass. It is
// written for health reporting and never read back by the reconciliation
// logic itself.
type SyncRun struct {
	ID           string
	Kind         SyncKind
	Status       SyncStatus
	Query        string // free-text scope for partial passes, "" for full
	StartedAt    time.Time
	FinishedAt   *time.Time
	Fetched      int
	Accepted     int
	Written      int
	Failed       int
	Deactivated  int64
	Purged       int64
	ErrorMessage string
}

// SyncSummary aggregates per-record outcomes of one pass so failure
// visibility survives the boundary between writer and scheduler without
// relying on log inspection.
type SyncSummary struct {
	Kind        SyncKind  `json:"kind"`
	Query       string    `json:"query,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	Fetched     int       `json:"fetched"`
	Accepted    int       `json:"accepted"`
	Skipped     int       `json:"skipped"`
	Written     int       `json:"written"`
	Failed      int       `json:"failed"`
	Deactivated int64     `json:"deactivated"`
	Purged      int64     `json:"purged"`
	Archived    int64     `json:"archived"`
}
