package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/dwell/internal/metrics"
	"github.com/goodtune/dwell/internal/storage"
	"github.com/rs/zerolog"
)

const DefaultSuspendTimeout = 500 * time.Millisecond

// Config holds tracker configuration
type Config struct {
	SyncInterval      time.Duration
	WriteTimeout      time.Duration
	SuspendTimeout    time.Duration
	MaxWriteFailures  int
	HostnameCacheSize int
}

// presence is what the tracker knows about a context from lifecycle signals.
type presence struct {
	hostname string
	hidden   bool
}

// Tracker turns lifecycle signals into registry operations and answers
// display queries. A context accrues only while it is watchlisted, the
// foreground context, not hidden, in a focused window and the tracker is not
// quiesced. There is a single foreground context across all windows.
type Tracker struct {
	// lifeMu serialises Start, Stop, Quiesce and Revive so the periodic
	// loop always matches the quiesced flag. Taken before mu.
	lifeMu sync.Mutex

	mu            sync.Mutex
	registry      *Registry
	syncer        *Syncer
	resolver      *HostnameResolver
	ledger        storage.LedgerStore
	clock         Clock
	config        Config
	logger        zerolog.Logger
	contexts      map[ContextID]*presence
	foreground    ContextID
	windowFocused bool
	quiesced      bool
}

// NewTracker creates a new tracker writing through ledger.
func NewTracker(ledger storage.LedgerStore, clock Clock, config Config, logger zerolog.Logger) (*Tracker, error) {
	if clock == nil {
		clock = RealClock{}
	}
	if config.SuspendTimeout <= 0 {
		config.SuspendTimeout = DefaultSuspendTimeout
	}

	resolver, err := NewHostnameResolver(config.HostnameCacheSize)
	if err != nil {
		return nil, err
	}

	registry := NewRegistry(clock, logger)
	syncer := NewSyncer(registry, ledger, clock, SyncerConfig{
		Interval:         config.SyncInterval,
		WriteTimeout:     config.WriteTimeout,
		MaxWriteFailures: config.MaxWriteFailures,
	}, logger)

	return &Tracker{
		registry:      registry,
		syncer:        syncer,
		resolver:      resolver,
		ledger:        ledger,
		clock:         clock,
		config:        config,
		logger:        logger.With().Str("component", "usage-tracker").Logger(),
		contexts:      make(map[ContextID]*presence),
		windowFocused: true,
	}, nil
}

// Registry returns the tracker's timer registry.
func (t *Tracker) Registry() *Registry { return t.registry }

// Syncer returns the tracker's sync coordinator.
func (t *Tracker) Syncer() *Syncer { return t.syncer }

// Start begins periodic syncing.
func (t *Tracker) Start() {
	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()

	if t.Quiesced() {
		return
	}
	t.syncer.Start()
}

// Stop pauses every timer, makes one flush bounded by timeout and stops
// periodic syncing.
func (t *Tracker) Stop(timeout time.Duration) error {
	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()

	t.registry.PauseAll()
	t.syncer.Stop()
	if err := t.syncer.FlushWithin(timeout); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	return nil
}

// OnContextNavigated records that ctx now shows rawURL. Malformed URLs are
// dropped without touching any timer.
func (t *Tracker) OnContextNavigated(ctx ContextID, rawURL string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.acceptLocked("navigated"); err != nil {
		return err
	}

	hostname, err := t.resolver.Resolve(rawURL)
	if err != nil {
		metrics.SignalsDropped.WithLabelValues("malformed_hostname").Inc()
		t.logger.Debug().Err(err).Str("context", string(ctx)).Msg("Navigation dropped")
		return err
	}

	p := t.presenceLocked(ctx)
	previous := p.hostname
	p.hostname = hostname

	switch {
	case !t.registry.Watched(hostname):
		t.registry.Release(ctx)
	case previous != hostname && !t.eligibleLocked(ctx):
		// The paused timer belongs to the old hostname.
		t.registry.Release(ctx)
	default:
		t.reconcileLocked(ctx)
	}
	return nil
}

// OnContextForegrounded makes ctx the foreground context.
func (t *Tracker) OnContextForegrounded(ctx ContextID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.acceptLocked("foregrounded"); err != nil {
		return err
	}
	t.foregroundLocked(ctx)
	return nil
}

// OnContextBackgrounded suspends ctx.
func (t *Tracker) OnContextBackgrounded(ctx ContextID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.acceptLocked("backgrounded"); err != nil {
		return err
	}
	if t.foreground == ctx {
		t.foreground = ""
	}
	t.registry.Suspend(ctx)
	return nil
}

// OnContextVisible marks ctx visible and makes it the foreground context.
func (t *Tracker) OnContextVisible(ctx ContextID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.acceptLocked("visible"); err != nil {
		return err
	}
	t.presenceLocked(ctx).hidden = false
	t.foregroundLocked(ctx)
	return nil
}

// OnContextHidden marks ctx hidden and suspends it.
func (t *Tracker) OnContextHidden(ctx ContextID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.acceptLocked("hidden"); err != nil {
		return err
	}
	t.presenceLocked(ctx).hidden = true
	t.registry.Suspend(ctx)
	return nil
}

// OnWindowFocused resumes the foreground context if it is eligible.
func (t *Tracker) OnWindowFocused() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.acceptLocked("window-focused"); err != nil {
		return err
	}
	t.windowFocused = true
	if t.foreground != "" {
		t.reconcileLocked(t.foreground)
	}
	return nil
}

// OnWindowBlurred pauses every timer.
func (t *Tracker) OnWindowBlurred() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.acceptLocked("window-blurred"); err != nil {
		return err
	}
	t.windowFocused = false
	t.registry.PauseAll()
	return nil
}

// OnContextDestroyed releases ctx and forgets it. Repeating it is harmless.
func (t *Tracker) OnContextDestroyed(ctx ContextID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.acceptLocked("destroyed"); err != nil {
		return err
	}
	t.registry.Release(ctx)
	delete(t.contexts, ctx)
	if t.foreground == ctx {
		t.foreground = ""
	}
	return nil
}

// OnProcessSuspending pauses every timer and makes a best-effort flush
// bounded by the suspend timeout.
func (t *Tracker) OnProcessSuspending() error {
	t.mu.Lock()
	if err := t.acceptLocked("suspending"); err != nil {
		t.mu.Unlock()
		return err
	}
	t.registry.PauseAll()
	t.mu.Unlock()

	return t.syncer.FlushWithin(t.config.SuspendTimeout)
}

// OnWatchlistChanged applies a new watchlist. Contexts on hostnames that left
// the set are released; the foreground context is admitted if its hostname
// entered the set.
func (t *Tracker) OnWatchlistChanged(hostnames []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	added, removed := t.registry.SetWatchlist(hostnames)
	for _, h := range removed {
		for _, ctx := range t.registry.ContextsFor(h) {
			t.registry.Release(ctx)
		}
	}
	if len(added) > 0 && t.foreground != "" {
		t.reconcileLocked(t.foreground)
	}

	t.logger.Info().
		Strs("added", added).
		Strs("removed", removed).
		Msg("Watchlist applied")
}

// QuerySessionElapsed returns the displayed elapsed seconds for ctx.
func (t *Tracker) QuerySessionElapsed(ctx ContextID) (TimerSnapshot, error) {
	snap, ok := t.registry.Snapshot(ctx)
	if !ok {
		return TimerSnapshot{}, fmt.Errorf("%w: %s", ErrUnknownContext, ctx)
	}
	return snap, nil
}

// Sessions returns a snapshot of every timer.
func (t *Tracker) Sessions() []TimerSnapshot {
	return t.registry.Snapshots()
}

// QueryDailyTotal returns the seconds attributed to (hostname, date): what the
// ledger holds, plus writes still pending, plus time not yet drained.
func (t *Tracker) QueryDailyTotal(ctx context.Context, hostname, date string) (float64, error) {
	host, err := t.resolver.Resolve(hostname)
	if err != nil {
		return 0, err
	}
	if date == "" {
		date = storage.FormatDate(t.clock.Now())
	}

	return t.syncer.Total(ctx, host, date)
}

// QueryHistory returns every date recorded for hostname, including time not
// yet written to the ledger.
func (t *Tracker) QueryHistory(ctx context.Context, hostname string) (map[string]float64, error) {
	host, err := t.resolver.Resolve(hostname)
	if err != nil {
		return nil, err
	}

	return t.syncer.History(ctx, host)
}

// Hostnames returns every hostname with ledger history.
func (t *Tracker) Hostnames(ctx context.Context) ([]string, error) {
	return t.ledger.Hostnames(ctx)
}

// RequestImmediateSync flushes accrued time to the ledger now.
func (t *Tracker) RequestImmediateSync(ctx context.Context) error {
	return t.syncer.FlushAll(ctx)
}

// Quiesce stops all timers after the host environment became unavailable,
// makes one bounded flush and ignores signals until Revive.
func (t *Tracker) Quiesce(reason string) {
	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()

	t.mu.Lock()
	if t.quiesced {
		t.mu.Unlock()
		return
	}
	t.quiesced = true
	t.registry.PauseAll()
	t.mu.Unlock()

	metrics.Quiesced.Set(1)
	t.logger.Warn().Str("reason", reason).Msg("Tracker quiesced")

	t.syncer.Stop()
	if err := t.syncer.FlushWithin(t.config.SuspendTimeout); err != nil {
		t.logger.Warn().Err(err).Msg("Flush on quiesce incomplete")
	}
}

// Revive leaves the quiesced state and resumes the foreground context if it
// is still eligible.
func (t *Tracker) Revive() {
	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()

	t.mu.Lock()
	if !t.quiesced {
		t.mu.Unlock()
		return
	}
	t.quiesced = false
	if t.foreground != "" {
		t.reconcileLocked(t.foreground)
	}
	t.mu.Unlock()

	metrics.Quiesced.Set(0)
	t.syncer.Start()
	t.logger.Info().Msg("Tracker revived")
}

// Quiesced reports whether the tracker is quiesced.
func (t *Tracker) Quiesced() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.quiesced
}

func (t *Tracker) acceptLocked(signal string) error {
	if t.quiesced {
		metrics.SignalsDropped.WithLabelValues("quiesced").Inc()
		return ErrQuiesced
	}
	metrics.SignalsTotal.WithLabelValues(signal).Inc()
	return nil
}

func (t *Tracker) presenceLocked(ctx ContextID) *presence {
	p, ok := t.contexts[ctx]
	if !ok {
		p = &presence{}
		t.contexts[ctx] = p
	}
	return p
}

func (t *Tracker) foregroundLocked(ctx ContextID) {
	t.presenceLocked(ctx)
	if prev := t.foreground; prev != "" && prev != ctx {
		t.registry.Suspend(prev)
	}
	t.foreground = ctx
	t.reconcileLocked(ctx)
}

func (t *Tracker) eligibleLocked(ctx ContextID) bool {
	p, ok := t.contexts[ctx]
	if !ok || p.hostname == "" || p.hidden {
		return false
	}
	return t.foreground == ctx &&
		t.windowFocused &&
		!t.quiesced &&
		t.registry.Watched(p.hostname)
}

// reconcileLocked starts or pauses the timer for ctx to match its eligibility.
func (t *Tracker) reconcileLocked(ctx ContextID) {
	if t.eligibleLocked(ctx) {
		t.registry.Admit(ctx, t.contexts[ctx].hostname)
		return
	}
	t.registry.Suspend(ctx)
}
