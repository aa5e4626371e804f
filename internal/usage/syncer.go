package usage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goodtune/dwell/internal/metrics"
	"github.com/goodtune/dwell/internal/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	MinSyncInterval     = time.Second
	MaxSyncInterval     = 5 * time.Second
	DefaultWriteTimeout = 2 * time.Second
	DefaultMaxFailures  = 3
)

// SyncerConfig holds Syncer settings.
type SyncerConfig struct {
	Interval         time.Duration
	WriteTimeout     time.Duration
	MaxWriteFailures int
}

type pendingKey struct {
	hostname string
	date     string
}

type pendingEntry struct {
	seconds  float64
	failures int
	// retryAt defers a failed key to the next tick so on-demand drains
	// cannot burn through its failure budget.
	retryAt time.Time
}

// Syncer moves accrued time from the Registry into the ledger. It is the only
// ledger writer. Drains never overlap: concurrent FlushAll callers share the
// drain already in flight.
type Syncer struct {
	registry *Registry
	ledger   storage.LedgerStore
	clock    Clock
	config   SyncerConfig
	logger   zerolog.Logger

	group singleflight.Group

	// view is held exclusively while time moves between registry, pending
	// and ledger, and shared by readers that sum all three.
	view sync.RWMutex

	mu      sync.Mutex
	pending map[pendingKey]*pendingEntry

	runMu    sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
}

// NewSyncer creates a Syncer. The periodic loop is not started until Start.
func NewSyncer(registry *Registry, ledger storage.LedgerStore, clock Clock, config SyncerConfig, logger zerolog.Logger) *Syncer {
	if clock == nil {
		clock = RealClock{}
	}
	config.Interval = clampInterval(config.Interval)
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.MaxWriteFailures <= 0 {
		config.MaxWriteFailures = DefaultMaxFailures
	}

	return &Syncer{
		registry: registry,
		ledger:   ledger,
		clock:    clock,
		config:   config,
		logger:   logger.With().Str("component", "syncer").Logger(),
		pending:  make(map[pendingKey]*pendingEntry),
	}
}

func clampInterval(d time.Duration) time.Duration {
	if d < MinSyncInterval {
		return MinSyncInterval
	}
	if d > MaxSyncInterval {
		return MaxSyncInterval
	}
	return d
}

// Interval returns the effective tick interval.
func (s *Syncer) Interval() time.Duration {
	return s.config.Interval
}

// FlushAll drains the registry into the ledger. If a drain is already running
// the caller waits for it instead of starting another. ctx bounds the wait,
// not the drain itself.
func (s *Syncer) FlushAll(ctx context.Context) error {
	ch := s.group.DoChan("flush", func() (interface{}, error) {
		return nil, s.drain()
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FlushWithin runs FlushAll bounded by timeout.
func (s *Syncer) FlushWithin(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.FlushAll(ctx)
}

// Pending returns seconds for (hostname, date) that are waiting on a ledger write.
func (s *Syncer) Pending(hostname, date string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.pending[pendingKey{hostname, date}]; ok {
		return e.seconds
	}
	return 0
}

// PendingFor returns pending seconds for hostname keyed by date.
func (s *Syncer) PendingFor(hostname string) map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]float64)
	for k, e := range s.pending {
		if k.hostname == hostname {
			out[k.date] += e.seconds
		}
	}
	return out
}

// Total returns the seconds owed to (hostname, date) across the ledger,
// pending writes and undrained registry time, read as one consistent view.
func (s *Syncer) Total(ctx context.Context, hostname, date string) (float64, error) {
	s.view.RLock()
	defer s.view.RUnlock()

	days, err := s.ledger.Get(ctx, hostname)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("failed to query ledger: %w", err)
	}
	return days[date] + s.Pending(hostname, date) + s.registry.Unflushed(hostname, date), nil
}

// History is Total for every date of hostname.
func (s *Syncer) History(ctx context.Context, hostname string) (map[string]float64, error) {
	s.view.RLock()
	defer s.view.RUnlock()

	days, err := s.ledger.Get(ctx, hostname)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	out := make(map[string]float64, len(days))
	for date, v := range days {
		out[date] = v
	}
	for date, v := range s.PendingFor(hostname) {
		out[date] += v
	}
	for date, v := range s.registry.UnflushedFor(hostname) {
		out[date] += v
	}
	return out, nil
}

// PendingCount returns the number of keys awaiting a write.
func (s *Syncer) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Syncer) drain() error {
	start := time.Now()
	defer func() {
		metrics.FlushDuration.Observe(time.Since(start).Seconds())
	}()

	now := s.clock.Now()

	s.view.Lock()
	deltas := s.registry.Drain(now)

	s.mu.Lock()
	for _, d := range deltas {
		if d.Seconds <= 0 {
			continue
		}
		key := pendingKey{d.Hostname, d.Date}
		e, ok := s.pending[key]
		if !ok {
			e = &pendingEntry{}
			s.pending[key] = e
		}
		e.seconds += d.Seconds
	}
	keys := make([]pendingKey, 0, len(s.pending))
	amounts := make(map[pendingKey]float64, len(s.pending))
	deferred := 0
	for k, e := range s.pending {
		if now.Before(e.retryAt) {
			deferred++
			continue
		}
		keys = append(keys, k)
		amounts[k] = e.seconds
	}
	s.mu.Unlock()
	s.view.Unlock()

	if deferred > 0 {
		s.logger.Debug().Int("deferred", deferred).Msg("Failed keys wait for the next tick")
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].hostname != keys[j].hostname {
			return keys[i].hostname < keys[j].hostname
		}
		return keys[i].date < keys[j].date
	})

	// Each key gets at most one attempt per drain, and a failed key at most
	// one attempt per tick interval.
	var errs []error
	for _, k := range keys {
		if err := s.write(k, amounts[k], now); err != nil {
			errs = append(errs, err)
		}
	}

	s.mu.Lock()
	metrics.PendingDeltas.Set(float64(len(s.pending)))
	s.mu.Unlock()

	return errors.Join(errs...)
}

func (s *Syncer) write(k pendingKey, seconds float64, now time.Time) error {
	s.view.Lock()
	defer s.view.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.WriteTimeout)
	err := s.ledger.Increment(ctx, k.hostname, k.date, seconds)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		delete(s.pending, k)
		metrics.AccruedSeconds.WithLabelValues(k.hostname).Add(seconds)
		s.logger.Debug().
			Str("hostname", k.hostname).
			Str("date", k.date).
			Float64("seconds", seconds).
			Msg("Ledger incremented")
		return nil
	}

	metrics.LedgerWriteErrors.Inc()
	e := s.pending[k]
	e.failures++
	e.retryAt = now.Add(s.config.Interval)

	if e.failures >= s.config.MaxWriteFailures {
		delete(s.pending, k)
		metrics.DroppedSeconds.Add(e.seconds)
		s.logger.Warn().
			Err(err).
			Str("hostname", k.hostname).
			Str("date", k.date).
			Float64("seconds", e.seconds).
			Int("failures", e.failures).
			Msg("Dropping ledger delta after repeated write failures")
	} else {
		s.logger.Error().
			Err(err).
			Str("hostname", k.hostname).
			Str("date", k.date).
			Int("failures", e.failures).
			Msg("Ledger write failed, will retry")
	}

	return fmt.Errorf("increment %s/%s: %w", k.hostname, k.date, err)
}

// Start begins the periodic flush loop. Calling Start on a running Syncer
// does nothing.
func (s *Syncer) Start() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.stopChan != nil {
		return
	}
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stopChan, s.done)

	s.logger.Info().Dur("interval", s.config.Interval).Msg("Periodic sync started")
}

func (s *Syncer) running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.stopChan != nil
}

// Stop halts the periodic loop and waits for it to exit.
func (s *Syncer) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.stopChan == nil {
		return
	}
	close(s.stopChan)
	<-s.done
	s.stopChan = nil
	s.done = nil

	s.logger.Info().Msg("Periodic sync stopped")
}

func (s *Syncer) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.FlushAll(context.Background()); err != nil {
				s.logger.Debug().Err(err).Msg("Periodic flush incomplete")
			}
		case <-stop:
			return
		}
	}
}
