// Package memory provides an in-process storage backend used for tests and
// ephemeral runs. Nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/goodtune/dwell/internal/storage"
)

// Store implements storage.Store with mutex-guarded maps.
type Store struct {
	mu        sync.Mutex
	ledger    map[string]map[string]float64
	watchlist []string
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{ledger: make(map[string]map[string]float64)}
}

func (s *Store) Close() error { return nil }

func (s *Store) Ledger() storage.LedgerStore { return (*ledgerStore)(s) }

func (s *Store) Watchlist() storage.WatchlistStore { return (*watchlistStore)(s) }

type ledgerStore Store

func (l *ledgerStore) Get(ctx context.Context, hostname string) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]float64, len(l.ledger[hostname]))
	for date, seconds := range l.ledger[hostname] {
		out[date] = seconds
	}
	return out, nil
}

func (l *ledgerStore) Increment(ctx context.Context, hostname, date string, seconds float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	days, ok := l.ledger[hostname]
	if !ok {
		days = make(map[string]float64)
		l.ledger[hostname] = days
	}
	days[date] += seconds
	return nil
}

func (l *ledgerStore) Hostnames(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	hosts := make([]string, 0, len(l.ledger))
	for h := range l.ledger {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts, nil
}

func (l *ledgerStore) DeleteBefore(ctx context.Context, cutoffDate string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	deleted := 0
	for host, days := range l.ledger {
		for date := range days {
			if date < cutoffDate {
				delete(days, date)
				deleted++
			}
		}
		if len(days) == 0 {
			delete(l.ledger, host)
		}
	}
	return deleted, nil
}

type watchlistStore Store

func (w *watchlistStore) Get(ctx context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.watchlist...), nil
}

func (w *watchlistStore) Set(ctx context.Context, hostnames []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watchlist = storage.NormalizeHostnames(hostnames)
	return nil
}
