package usage

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/dwell/internal/storage/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const today = "2025-03-14"

func newTestTracker(t *testing.T, watch ...string) (*Tracker, *TestClock, *memory.Store) {
	t.Helper()
	clock := NewTestClock(t0)
	store := memory.New()
	tr, err := NewTracker(store.Ledger(), clock, Config{}, zerolog.Nop())
	require.NoError(t, err)
	tr.OnWatchlistChanged(watch)
	return tr, clock, store
}

func (tr *Tracker) mustSync(t *testing.T) {
	t.Helper()
	require.NoError(t, tr.RequestImmediateSync(context.Background()))
}

func TestTracker_Scenario(t *testing.T) {
	tr, clock, store := newTestTracker(t, "a.com", "b.com")

	// t=0: C1 opens a.com in the foreground.
	require.NoError(t, tr.OnContextNavigated("c1", "https://a.com/home"))
	require.NoError(t, tr.OnContextForegrounded("c1"))
	require.NoError(t, tr.OnContextNavigated("c2", "https://b.com/"))

	// t=10: C1 backgrounded.
	clock.Set(t0.Add(10 * time.Second))
	require.NoError(t, tr.OnContextBackgrounded("c1"))
	tr.mustSync(t)
	assert.Equal(t, 10.0, ledgerSeconds(t, store.Ledger(), "a.com", today))

	// t=12: C2 foregrounded.
	clock.Set(t0.Add(12 * time.Second))
	require.NoError(t, tr.OnContextForegrounded("c2"))
	assert.Equal(t, 1, tr.Registry().AccruingCount())

	// t=20: C1 foregrounded again, C2 pauses.
	clock.Set(t0.Add(20 * time.Second))
	require.NoError(t, tr.OnContextForegrounded("c1"))
	assert.Equal(t, 1, tr.Registry().AccruingCount())
	snap, err := tr.QuerySessionElapsed("c2")
	require.NoError(t, err)
	assert.Equal(t, Paused, snap.State)

	// t=25: C1 destroyed.
	clock.Set(t0.Add(25 * time.Second))
	require.NoError(t, tr.OnContextDestroyed("c1"))
	tr.mustSync(t)

	assert.Equal(t, 15.0, ledgerSeconds(t, store.Ledger(), "a.com", today))
	assert.Equal(t, 8.0, ledgerSeconds(t, store.Ledger(), "b.com", today))

	_, err = tr.QuerySessionElapsed("c1")
	assert.ErrorIs(t, err, ErrUnknownContext)
}

func TestTracker_DuplicateDestroy(t *testing.T) {
	tr, clock, store := newTestTracker(t, "a.com")

	require.NoError(t, tr.OnContextNavigated("c1", "a.com"))
	require.NoError(t, tr.OnContextForegrounded("c1"))
	clock.Advance(6 * time.Second)

	require.NoError(t, tr.OnContextDestroyed("c1"))
	require.NoError(t, tr.OnContextDestroyed("c1"))
	tr.mustSync(t)

	assert.Equal(t, 6.0, ledgerSeconds(t, store.Ledger(), "a.com", today))
}

func TestTracker_WatchlistGating(t *testing.T) {
	tr, clock, store := newTestTracker(t)

	require.NoError(t, tr.OnContextNavigated("c1", "https://example.com/"))
	require.NoError(t, tr.OnContextForegrounded("c1"))
	clock.Advance(5 * time.Second)
	assert.Equal(t, 0, tr.Registry().Len())

	// Added while open: tracking starts without another navigation.
	tr.OnWatchlistChanged([]string{"example.com"})
	assert.Equal(t, 1, tr.Registry().AccruingCount())
	clock.Advance(4 * time.Second)

	// Removed: the context is released immediately.
	tr.OnWatchlistChanged(nil)
	assert.Equal(t, 0, tr.Registry().Len())
	clock.Advance(30 * time.Second)
	tr.mustSync(t)

	assert.Equal(t, 4.0, ledgerSeconds(t, store.Ledger(), "example.com", today))
}

func TestTracker_Eligibility(t *testing.T) {
	tr, clock, _ := newTestTracker(t, "a.com")

	require.NoError(t, tr.OnContextNavigated("c1", "a.com"))
	require.NoError(t, tr.OnContextForegrounded("c1"))
	require.Equal(t, 1, tr.Registry().AccruingCount())

	tests := []struct {
		name    string
		off, on func() error
	}{
		{"hidden", func() error { return tr.OnContextHidden("c1") }, func() error { return tr.OnContextVisible("c1") }},
		{"window blur", tr.OnWindowBlurred, tr.OnWindowFocused},
		{"background", func() error { return tr.OnContextBackgrounded("c1") }, func() error { return tr.OnContextForegrounded("c1") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.off())
			assert.Equal(t, 0, tr.Registry().AccruingCount())
			clock.Advance(time.Minute)
			require.NoError(t, tt.on())
			assert.Equal(t, 1, tr.Registry().AccruingCount())
		})
	}
}

func TestTracker_HiddenForegroundDoesNotAccrue(t *testing.T) {
	tr, _, _ := newTestTracker(t, "a.com")

	require.NoError(t, tr.OnContextNavigated("c1", "a.com"))
	require.NoError(t, tr.OnContextHidden("c1"))
	require.NoError(t, tr.OnContextForegrounded("c1"))
	assert.Equal(t, 0, tr.Registry().AccruingCount())
}

func TestTracker_NavigationChangesHostname(t *testing.T) {
	tr, clock, store := newTestTracker(t, "a.com", "b.com")

	require.NoError(t, tr.OnContextNavigated("c1", "https://a.com"))
	require.NoError(t, tr.OnContextForegrounded("c1"))
	clock.Advance(3 * time.Second)

	require.NoError(t, tr.OnContextNavigated("c1", "https://b.com/page"))
	clock.Advance(2 * time.Second)

	snap, err := tr.QuerySessionElapsed("c1")
	require.NoError(t, err)
	assert.Equal(t, "b.com", snap.Hostname)
	assert.Equal(t, 2.0, snap.Elapsed)

	// Navigating off the watchlist releases the timer.
	require.NoError(t, tr.OnContextNavigated("c1", "https://elsewhere.org"))
	assert.Equal(t, 0, tr.Registry().Len())
	tr.mustSync(t)

	assert.Equal(t, 3.0, ledgerSeconds(t, store.Ledger(), "a.com", today))
	assert.Equal(t, 2.0, ledgerSeconds(t, store.Ledger(), "b.com", today))
}

func TestTracker_MalformedNavigationDropped(t *testing.T) {
	tr, clock, _ := newTestTracker(t, "a.com")

	require.NoError(t, tr.OnContextNavigated("c1", "https://a.com"))
	require.NoError(t, tr.OnContextForegrounded("c1"))
	clock.Advance(time.Second)

	err := tr.OnContextNavigated("c1", "chrome://extensions")
	assert.ErrorIs(t, err, ErrMalformedHostname)

	snap, err := tr.QuerySessionElapsed("c1")
	require.NoError(t, err)
	assert.Equal(t, "a.com", snap.Hostname)
	assert.Equal(t, Accruing, snap.State)
}

func TestTracker_QueryDailyTotal(t *testing.T) {
	tr, clock, store := newTestTracker(t, "a.com")
	require.NoError(t, store.Ledger().Increment(context.Background(), "a.com", today, 100))

	require.NoError(t, tr.OnContextNavigated("c1", "https://a.com"))
	require.NoError(t, tr.OnContextForegrounded("c1"))
	clock.Advance(20 * time.Second)

	total, err := tr.QueryDailyTotal(context.Background(), "A.com", today)
	require.NoError(t, err)
	assert.Equal(t, 120.0, total)

	// Totals are stable across a sync.
	tr.mustSync(t)
	total, err = tr.QueryDailyTotal(context.Background(), "a.com", "")
	require.NoError(t, err)
	assert.Equal(t, 120.0, total)

	_, err = tr.QueryDailyTotal(context.Background(), "", today)
	assert.ErrorIs(t, err, ErrMalformedHostname)
}

func TestTracker_QuiesceAndRevive(t *testing.T) {
	tr, clock, store := newTestTracker(t, "a.com")

	require.NoError(t, tr.OnContextNavigated("c1", "https://a.com"))
	require.NoError(t, tr.OnContextForegrounded("c1"))
	clock.Advance(9 * time.Second)

	tr.Quiesce("bridge closed")
	assert.True(t, tr.Quiesced())
	assert.Equal(t, 0, tr.Registry().AccruingCount())
	assert.Equal(t, 9.0, ledgerSeconds(t, store.Ledger(), "a.com", today))

	assert.ErrorIs(t, tr.OnContextForegrounded("c1"), ErrQuiesced)
	clock.Advance(time.Minute)

	tr.Revive()
	defer tr.Stop(time.Second)
	assert.False(t, tr.Quiesced())
	assert.Equal(t, 1, tr.Registry().AccruingCount())
}

func TestTracker_ProcessSuspending(t *testing.T) {
	tr, clock, store := newTestTracker(t, "a.com")

	require.NoError(t, tr.OnContextNavigated("c1", "https://a.com"))
	require.NoError(t, tr.OnContextForegrounded("c1"))
	clock.Advance(11 * time.Second)

	require.NoError(t, tr.OnProcessSuspending())
	assert.Equal(t, 0, tr.Registry().AccruingCount())
	assert.Equal(t, 11.0, ledgerSeconds(t, store.Ledger(), "a.com", today))
}

func TestTracker_SingleGlobalForeground(t *testing.T) {
	tr, _, _ := newTestTracker(t, "a.com", "b.com")

	// Two windows each with a visible tab: only the latest visible one accrues.
	require.NoError(t, tr.OnContextNavigated("w1t1", "a.com"))
	require.NoError(t, tr.OnContextNavigated("w2t1", "b.com"))
	require.NoError(t, tr.OnContextVisible("w1t1"))
	require.NoError(t, tr.OnContextVisible("w2t1"))

	assert.Equal(t, 1, tr.Registry().AccruingCount())
	snap, err := tr.QuerySessionElapsed("w2t1")
	require.NoError(t, err)
	assert.Equal(t, Accruing, snap.State)
}

func TestTracker_QueryHistory(t *testing.T) {
	tr, clock, store := newTestTracker(t, "a.com")
	ctx := context.Background()
	require.NoError(t, store.Ledger().Increment(ctx, "a.com", "2025-03-01", 30))

	require.NoError(t, tr.OnContextNavigated("c1", "https://a.com"))
	require.NoError(t, tr.OnContextForegrounded("c1"))
	clock.Advance(15 * time.Second)

	days, err := tr.QueryHistory(ctx, "a.com")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"2025-03-01": 30, today: 15}, days)

	days, err = tr.QueryHistory(ctx, "unseen.com")
	require.NoError(t, err)
	assert.Empty(t, days)
}

func TestTracker_RandomSignalsKeepOneAccruing(t *testing.T) {
	tr, clock, _ := newTestTracker(t, "a.com", "b.com")
	urls := []string{"https://a.com/", "https://b.com/x", "https://unwatched.org/", "not a url"}
	rng := rand.New(rand.NewSource(11))

	for i := 0; i < 3000; i++ {
		ctx := ContextID(fmt.Sprintf("c%d", rng.Intn(5)))
		switch rng.Intn(8) {
		case 0:
			_ = tr.OnContextNavigated(ctx, urls[rng.Intn(len(urls))])
		case 1:
			_ = tr.OnContextForegrounded(ctx)
		case 2:
			_ = tr.OnContextBackgrounded(ctx)
		case 3:
			_ = tr.OnContextVisible(ctx)
		case 4:
			_ = tr.OnContextHidden(ctx)
		case 5:
			_ = tr.OnWindowFocused()
		case 6:
			_ = tr.OnWindowBlurred()
		case 7:
			_ = tr.OnContextDestroyed(ctx)
		}
		clock.Advance(time.Duration(rng.Intn(2000)) * time.Millisecond)

		var accruing []ContextID
		for _, snap := range tr.Sessions() {
			if snap.State == Accruing {
				accruing = append(accruing, snap.Context)
			}
		}
		require.LessOrEqual(t, len(accruing), 1, "step %d", i)

		tr.mu.Lock()
		foreground := tr.foreground
		eligible := foreground != "" && tr.eligibleLocked(foreground)
		tr.mu.Unlock()

		if len(accruing) == 1 {
			require.Equal(t, foreground, accruing[0], "step %d: only the foreground context accrues", i)
		}
		require.Equal(t, eligible, len(accruing) == 1, "step %d: eligible foreground must accrue", i)
	}
}

func TestTracker_QuiesceReviveKeepsSyncLoopInStep(t *testing.T) {
	tr, _, _ := newTestTracker(t, "a.com")
	tr.Start()
	defer tr.Stop(time.Second)

	for i := 0; i < 200; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			tr.Quiesce("connection lost")
		}()
		go func() {
			defer wg.Done()
			tr.Revive()
		}()
		wg.Wait()

		require.Equal(t, !tr.Quiesced(), tr.syncer.running(), "iteration %d", i)
	}

	tr.Revive()
	assert.False(t, tr.Quiesced())
	assert.True(t, tr.syncer.running())
}
