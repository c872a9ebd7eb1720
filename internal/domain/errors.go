package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrSyncInFlight = errors.New("sync pass already in flight")
	ErrEndDatePast  = errors.New("market end date already past")
	ErrNoStore      = errors.New("no market store configured")
)
