package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// DateLayout is the calendar date format used for ledger keys.
const DateLayout = "2006-01-02"

// Store represents the root storage interface.
type Store interface {
	Close() error
	Ledger() LedgerStore
	Watchlist() WatchlistStore
}

// LedgerStore persists accumulated seconds per hostname and calendar date.
//
// Increment must be atomic per (hostname, date): two concurrent increments
// never both observe the pre-update value.
type LedgerStore interface {
	Get(ctx context.Context, hostname string) (map[string]float64, error)
	Increment(ctx context.Context, hostname, date string, seconds float64) error
	Hostnames(ctx context.Context) ([]string, error)
	DeleteBefore(ctx context.Context, cutoffDate string) (int, error)
}

// WatchlistStore persists the set of hostnames eligible for tracking.
type WatchlistStore interface {
	Get(ctx context.Context) ([]string, error)
	Set(ctx context.Context, hostnames []string) error
}

// FormatDate formats t as a ledger date in t's location.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
