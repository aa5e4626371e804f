package usage

import (
	"time"

	"github.com/goodtune/dwell/internal/storage"
	"github.com/google/uuid"
)

// Timer is the per-context state machine. It computes deltas but never writes
// the ledger; the Registry collects its output for the Syncer.
//
// AccrualStart is non-zero exactly when State is Accruing.
type Timer struct {
	ID           string
	Context      ContextID
	Hostname     string
	State        State
	AccrualStart time.Time
	TotalElapsed float64
	LastUpdate   time.Time
}

func newTimer(ctx ContextID, hostname string, now time.Time) *Timer {
	return &Timer{
		ID:         uuid.NewString(),
		Context:    ctx,
		Hostname:   hostname,
		State:      NotTracking,
		LastUpdate: now,
	}
}

// Start moves the timer into Accruing. Starting an accruing timer for the same
// hostname only refreshes LastUpdate. Starting for a different hostname first
// settles the time owed to the old one and restarts the session total.
func (t *Timer) Start(hostname string, now time.Time) []Delta {
	if t.State == Accruing && t.Hostname == hostname {
		t.LastUpdate = now
		return nil
	}

	var deltas []Delta
	if hostname != t.Hostname {
		deltas = t.accrue(now)
		t.Hostname = hostname
		t.TotalElapsed = 0
	}

	t.State = Accruing
	t.AccrualStart = now
	t.LastUpdate = now
	return deltas
}

// Pause ends the current accrual segment. No-op unless Accruing.
func (t *Timer) Pause(now time.Time) []Delta {
	if t.State != Accruing {
		return nil
	}
	deltas := t.accrue(now)
	t.State = Paused
	t.AccrualStart = time.Time{}
	t.LastUpdate = now
	return deltas
}

// Stop ends tracking. Stopping a paused timer emits nothing.
func (t *Timer) Stop(now time.Time) []Delta {
	if t.State == NotTracking {
		return nil
	}
	deltas := t.accrue(now)
	t.State = NotTracking
	t.AccrualStart = time.Time{}
	t.LastUpdate = now
	return deltas
}

// Flush emits the time accrued so far and rebases AccrualStart without
// changing state.
func (t *Timer) Flush(now time.Time) []Delta {
	if t.State != Accruing {
		return nil
	}
	deltas := t.accrue(now)
	t.AccrualStart = now
	t.LastUpdate = now
	return deltas
}

// Elapsed returns the session total including the open segment.
func (t *Timer) Elapsed(now time.Time) float64 {
	total := t.TotalElapsed
	if t.State == Accruing && now.After(t.AccrualStart) {
		total += now.Sub(t.AccrualStart).Seconds()
	}
	return total
}

// Snapshot returns a copy of the timer suitable for display.
func (t *Timer) Snapshot(now time.Time) TimerSnapshot {
	return TimerSnapshot{
		ID:         t.ID,
		Context:    t.Context,
		Hostname:   t.Hostname,
		State:      t.State,
		Elapsed:    t.Elapsed(now),
		LastUpdate: t.LastUpdate,
	}
}

// accrue folds the open segment into TotalElapsed. A clock that moved
// backwards yields nothing.
func (t *Timer) accrue(now time.Time) []Delta {
	if t.State != Accruing || !now.After(t.AccrualStart) {
		return nil
	}
	t.TotalElapsed += now.Sub(t.AccrualStart).Seconds()
	return splitByDate(t.Hostname, t.AccrualStart, now)
}

// splitByDate divides [start, end) at each local midnight so every second is
// attributed to the date on which it accrued.
func splitByDate(hostname string, start, end time.Time) []Delta {
	var deltas []Delta
	for start.Before(end) {
		y, m, d := start.Date()
		midnight := time.Date(y, m, d+1, 0, 0, 0, 0, start.Location())
		segEnd := end
		if midnight.Before(end) {
			segEnd = midnight
		}
		deltas = append(deltas, Delta{
			Hostname: hostname,
			Date:     storage.FormatDate(start),
			Seconds:  segEnd.Sub(start).Seconds(),
		})
		start = segEnd
	}
	return deltas
}
