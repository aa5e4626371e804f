// Package watchlist manages the set of hostnames eligible for tracking.
package watchlist

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/goodtune/dwell/internal/storage"
	"github.com/goodtune/dwell/internal/usage"
	"github.com/rs/zerolog"
)

// Service persists the watchlist and notifies subscribers of every change.
type Service struct {
	store  storage.WatchlistStore
	logger zerolog.Logger

	// writeMu serialises updates so subscribers observe them in order.
	writeMu sync.Mutex

	mu          sync.RWMutex
	hostnames   []string
	subscribers []func([]string)
}

// NewService loads the watchlist from store. When the store is empty it is
// seeded with initial.
func NewService(ctx context.Context, store storage.WatchlistStore, initial []string, logger zerolog.Logger) (*Service, error) {
	s := &Service{
		store:  store,
		logger: logger.With().Str("component", "watchlist").Logger(),
	}

	hostnames, err := store.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load watchlist: %w", err)
	}

	if len(hostnames) == 0 && len(initial) > 0 {
		seeded, err := Normalize(initial)
		if err != nil {
			return nil, fmt.Errorf("initial watchlist: %w", err)
		}
		if err := store.Set(ctx, seeded); err != nil {
			return nil, fmt.Errorf("seed watchlist: %w", err)
		}
		hostnames = seeded
		s.logger.Info().Strs("hostnames", seeded).Msg("Seeded watchlist from configuration")
	}

	s.hostnames = storage.NormalizeHostnames(hostnames)
	return s, nil
}

// Normalize resolves every entry to a bare hostname, then sorts and dedupes.
func Normalize(entries []string) ([]string, error) {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		h, err := usage.ResolveHostname(e)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return storage.NormalizeHostnames(out), nil
}

// Get returns a copy of the current watchlist.
func (s *Service) Get() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.hostnames...)
}

// Contains reports whether hostname is watched.
func (s *Service) Contains(hostname string) bool {
	h, err := usage.ResolveHostname(hostname)
	if err != nil {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	i := sort.SearchStrings(s.hostnames, h)
	return i < len(s.hostnames) && s.hostnames[i] == h
}

// Subscribe registers fn to receive the full watchlist after every change.
// fn is also called once immediately with the current list.
func (s *Service) Subscribe(fn func([]string)) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.subscribers = append(s.subscribers, fn)
	current := append([]string(nil), s.hostnames...)
	s.mu.Unlock()

	fn(current)
}

// Set replaces the watchlist.
func (s *Service) Set(ctx context.Context, hostnames []string) error {
	next, err := Normalize(hostnames)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.applyLocked(ctx, next)
}

// Add adds hostnames to the watchlist.
func (s *Service) Add(ctx context.Context, hostnames ...string) error {
	add, err := Normalize(hostnames)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.applyLocked(ctx, storage.NormalizeHostnames(append(s.Get(), add...)))
}

// Remove removes hostnames from the watchlist. Unknown hostnames are ignored.
func (s *Service) Remove(ctx context.Context, hostnames ...string) error {
	drop, err := Normalize(hostnames)
	if err != nil {
		return err
	}
	dropSet := make(map[string]struct{}, len(drop))
	for _, h := range drop {
		dropSet[h] = struct{}{}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var next []string
	for _, h := range s.Get() {
		if _, ok := dropSet[h]; !ok {
			next = append(next, h)
		}
	}
	return s.applyLocked(ctx, next)
}

// Toggle adds hostname if absent, otherwise removes it. It reports whether
// hostname is watched afterwards.
func (s *Service) Toggle(ctx context.Context, hostname string) (bool, error) {
	h, err := usage.ResolveHostname(hostname)
	if err != nil {
		return false, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current := s.Get()
	next := make([]string, 0, len(current)+1)
	watched := true
	for _, existing := range current {
		if existing == h {
			watched = false
			continue
		}
		next = append(next, existing)
	}
	if watched {
		next = append(next, h)
	}

	if err := s.applyLocked(ctx, storage.NormalizeHostnames(next)); err != nil {
		return false, err
	}
	return watched, nil
}

// applyLocked persists next and notifies subscribers. Caller holds writeMu.
func (s *Service) applyLocked(ctx context.Context, next []string) error {
	if next == nil {
		next = []string{}
	}
	if err := s.store.Set(ctx, next); err != nil {
		return fmt.Errorf("persist watchlist: %w", err)
	}

	s.mu.Lock()
	s.hostnames = next
	subscribers := append([](func([]string))(nil), s.subscribers...)
	s.mu.Unlock()

	s.logger.Info().Strs("hostnames", next).Msg("Watchlist updated")

	for _, fn := range subscribers {
		fn(append([]string(nil), next...))
	}
	return nil
}
