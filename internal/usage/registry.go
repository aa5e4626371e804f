package usage

import (
	"sort"
	"sync"
	"time"

	"github.com/goodtune/dwell/internal/metrics"
	"github.com/goodtune/dwell/internal/storage"
	"github.com/rs/zerolog"
)

// Registry owns one Timer per tracked context, the watchlist used to gate
// admission, and the outbox of deltas produced by timer transitions. Only
// the Syncer drains the outbox.
//
// At most one timer is Accruing at any instant: every operation that starts
// a timer pauses all others first.
type Registry struct {
	mu        sync.Mutex
	clock     Clock
	timers    map[ContextID]*Timer
	watchlist map[string]struct{}
	outbox    []Delta
	logger    zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(clock Clock, logger zerolog.Logger) *Registry {
	if clock == nil {
		clock = RealClock{}
	}
	return &Registry{
		clock:     clock,
		timers:    make(map[ContextID]*Timer),
		watchlist: make(map[string]struct{}),
		logger:    logger.With().Str("component", "timer-registry").Logger(),
	}
}

// Admit starts tracking ctx on hostname. It is a no-op returning false when
// hostname is not watchlisted.
func (r *Registry) Admit(ctx ContextID, hostname string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.watchlist[hostname]; !ok {
		return false
	}

	now := r.clock.Now()
	r.pauseOthersLocked(ctx, now)

	t, ok := r.timers[ctx]
	if !ok {
		t = newTimer(ctx, hostname, now)
		r.timers[ctx] = t
		r.logger.Debug().
			Str("context", string(ctx)).
			Str("hostname", hostname).
			Str("timer_id", t.ID).
			Msg("Timer created")
	}
	r.emitLocked(t.Start(hostname, now))
	r.observeLocked()
	return true
}

// Release flushes, stops and destroys the timer for ctx. Releasing an
// unknown context does nothing.
func (r *Registry) Release(ctx ContextID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.timers[ctx]
	if !ok {
		r.logger.Debug().Str("context", string(ctx)).Msg("Release for unknown context ignored")
		return
	}

	now := r.clock.Now()
	r.emitLocked(t.Flush(now))
	r.emitLocked(t.Stop(now))
	delete(r.timers, ctx)
	r.observeLocked()

	r.logger.Debug().
		Str("context", string(ctx)).
		Str("hostname", t.Hostname).
		Float64("session_seconds", t.TotalElapsed).
		Msg("Timer released")
}

// Suspend pauses the timer for ctx.
func (r *Registry) Suspend(ctx ContextID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.timers[ctx]; ok {
		r.emitLocked(t.Pause(r.clock.Now()))
		r.observeLocked()
	}
}

// Resume restarts the timer for ctx after pausing every other timer.
func (r *Registry) Resume(ctx ContextID) bool {
	return r.Activate(ctx)
}

// Activate applies the single-active discipline for ctx: every other timer is
// paused, then ctx resumes if it has a timer. It reports whether ctx is
// accruing afterwards.
func (r *Registry) Activate(ctx ContextID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	r.pauseOthersLocked(ctx, now)

	t, ok := r.timers[ctx]
	if ok {
		r.emitLocked(t.Start(t.Hostname, now))
	}
	r.observeLocked()
	return ok
}

// PauseAll pauses every timer.
func (r *Registry) PauseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pauseOthersLocked("", r.clock.Now())
	r.observeLocked()
}

// Snapshot returns the displayed state of the timer for ctx without mutating it.
func (r *Registry) Snapshot(ctx ContextID) (TimerSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.timers[ctx]
	if !ok {
		return TimerSnapshot{}, false
	}
	return t.Snapshot(r.clock.Now()), true
}

// Snapshots returns every timer ordered by context.
func (r *Registry) Snapshots() []TimerSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	out := make([]TimerSnapshot, 0, len(r.timers))
	for _, t := range r.timers {
		out = append(out, t.Snapshot(now))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Context < out[j].Context })
	return out
}

// SetWatchlist replaces the gating set and reports which hostnames entered
// and left it.
func (r *Registry) SetWatchlist(hostnames []string) (added, removed []string) {
	next := make(map[string]struct{}, len(hostnames))
	for _, h := range storage.NormalizeHostnames(hostnames) {
		next[h] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for h := range next {
		if _, ok := r.watchlist[h]; !ok {
			added = append(added, h)
		}
	}
	for h := range r.watchlist {
		if _, ok := next[h]; !ok {
			removed = append(removed, h)
		}
	}
	r.watchlist = next

	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// Watched reports whether hostname is on the watchlist.
func (r *Registry) Watched(hostname string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.watchlist[hostname]
	return ok
}

// ContextsFor returns the contexts whose timer tracks hostname.
func (r *Registry) ContextsFor(hostname string) []ContextID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []ContextID
	for ctx, t := range r.timers {
		if t.Hostname == hostname {
			out = append(out, ctx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of timers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// AccruingCount returns the number of accruing timers.
func (r *Registry) AccruingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accruingLocked()
}

// Drain flushes every accruing timer and hands the outbox to the caller.
func (r *Registry) Drain(now time.Time) []Delta {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.timers {
		r.emitLocked(t.Flush(now))
	}
	out := r.outbox
	r.outbox = nil
	return out
}

// Unflushed returns the seconds owed to (hostname, date) that have not yet
// been drained: outbox entries plus the open segment of an accruing timer.
func (r *Registry) Unflushed(hostname, date string) float64 {
	return r.UnflushedFor(hostname)[date]
}

// UnflushedFor returns undrained seconds for hostname keyed by date.
func (r *Registry) UnflushedFor(hostname string) map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]float64)
	for _, d := range r.outbox {
		if d.Hostname == hostname {
			out[d.Date] += d.Seconds
		}
	}

	now := r.clock.Now()
	for _, t := range r.timers {
		if t.State != Accruing || t.Hostname != hostname {
			continue
		}
		for _, d := range splitByDate(hostname, t.AccrualStart, now) {
			out[d.Date] += d.Seconds
		}
	}
	return out
}

func (r *Registry) pauseOthersLocked(keep ContextID, now time.Time) {
	for ctx, t := range r.timers {
		if ctx == keep {
			continue
		}
		r.emitLocked(t.Pause(now))
	}
}

func (r *Registry) emitLocked(deltas []Delta) {
	r.outbox = append(r.outbox, deltas...)
}

func (r *Registry) accruingLocked() int {
	n := 0
	for _, t := range r.timers {
		if t.State == Accruing {
			n++
		}
	}
	return n
}

func (r *Registry) observeLocked() {
	metrics.ActiveTimers.Set(float64(len(r.timers)))
	metrics.AccruingTimers.Set(float64(r.accruingLocked()))
}
