package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func sumDeltas(deltas []Delta) float64 {
	var total float64
	for _, d := range deltas {
		total += d.Seconds
	}
	return total
}

func TestTimer_StartPauseStop(t *testing.T) {
	tm := newTimer("c1", "a.com", t0)
	assert.Equal(t, NotTracking, tm.State)
	assert.True(t, tm.AccrualStart.IsZero())

	assert.Empty(t, tm.Start("a.com", t0))
	assert.Equal(t, Accruing, tm.State)
	assert.Equal(t, t0, tm.AccrualStart)

	deltas := tm.Pause(t0.Add(10 * time.Second))
	require.Len(t, deltas, 1)
	assert.Equal(t, Delta{Hostname: "a.com", Date: "2025-03-14", Seconds: 10}, deltas[0])
	assert.Equal(t, Paused, tm.State)
	assert.True(t, tm.AccrualStart.IsZero())

	// Pausing again is a no-op.
	assert.Empty(t, tm.Pause(t0.Add(20*time.Second)))

	tm.Start("a.com", t0.Add(20*time.Second))
	deltas = tm.Stop(t0.Add(25 * time.Second))
	assert.Equal(t, 5.0, sumDeltas(deltas))
	assert.Equal(t, NotTracking, tm.State)
	assert.Equal(t, 15.0, tm.TotalElapsed)

	// Duplicate stop emits nothing.
	assert.Empty(t, tm.Stop(t0.Add(30*time.Second)))
	assert.Equal(t, 15.0, tm.TotalElapsed)
}

func TestTimer_StartIdempotent(t *testing.T) {
	tm := newTimer("c1", "a.com", t0)
	tm.Start("a.com", t0)

	later := t0.Add(4 * time.Second)
	assert.Empty(t, tm.Start("a.com", later))
	assert.Equal(t, t0, tm.AccrualStart, "accrual start must not move")
	assert.Equal(t, later, tm.LastUpdate)
}

func TestTimer_FlushConservation(t *testing.T) {
	single := newTimer("c1", "a.com", t0)
	single.Start("a.com", t0)
	one := sumDeltas(single.Flush(t0.Add(60 * time.Second)))

	many := newTimer("c2", "a.com", t0)
	many.Start("a.com", t0)
	var total float64
	for i := 1; i <= 6; i++ {
		total += sumDeltas(many.Flush(t0.Add(time.Duration(i*10) * time.Second)))
		assert.Equal(t, Accruing, many.State)
	}

	assert.Equal(t, 60.0, one)
	assert.InDelta(t, one, total, 1e-9)
	assert.InDelta(t, 60.0, many.Elapsed(t0.Add(60*time.Second)), 1e-9)
}

func TestTimer_FlushNotAccruing(t *testing.T) {
	tm := newTimer("c1", "a.com", t0)
	assert.Empty(t, tm.Flush(t0.Add(time.Minute)))
	assert.Equal(t, NotTracking, tm.State)
}

func TestTimer_HostnameChange(t *testing.T) {
	tm := newTimer("c1", "a.com", t0)
	tm.Start("a.com", t0)

	deltas := tm.Start("b.com", t0.Add(7*time.Second))
	require.Len(t, deltas, 1)
	assert.Equal(t, "a.com", deltas[0].Hostname)
	assert.Equal(t, 7.0, deltas[0].Seconds)

	assert.Equal(t, "b.com", tm.Hostname)
	assert.Equal(t, Accruing, tm.State)
	assert.Equal(t, 0.0, tm.TotalElapsed)

	deltas = tm.Pause(t0.Add(10 * time.Second))
	require.Len(t, deltas, 1)
	assert.Equal(t, "b.com", deltas[0].Hostname)
	assert.Equal(t, 3.0, deltas[0].Seconds)
}

func TestTimer_ElapsedDoesNotMutate(t *testing.T) {
	tm := newTimer("c1", "a.com", t0)
	tm.Start("a.com", t0)

	assert.Equal(t, 5.0, tm.Elapsed(t0.Add(5*time.Second)))
	assert.Equal(t, 9.0, tm.Elapsed(t0.Add(9*time.Second)))
	assert.Equal(t, 0.0, tm.TotalElapsed)
	assert.Equal(t, t0, tm.AccrualStart)
}

func TestTimer_ClockBackwards(t *testing.T) {
	tm := newTimer("c1", "a.com", t0)
	tm.Start("a.com", t0)

	assert.Empty(t, tm.Pause(t0.Add(-time.Second)))
	assert.Equal(t, 0.0, tm.TotalElapsed)
	assert.Equal(t, Paused, tm.State)
}

func TestSplitByDate(t *testing.T) {
	start := time.Date(2025, 3, 14, 23, 59, 50, 0, time.UTC)
	end := time.Date(2025, 3, 15, 0, 0, 5, 0, time.UTC)

	deltas := splitByDate("a.com", start, end)
	require.Len(t, deltas, 2)
	assert.Equal(t, Delta{Hostname: "a.com", Date: "2025-03-14", Seconds: 10}, deltas[0])
	assert.Equal(t, Delta{Hostname: "a.com", Date: "2025-03-15", Seconds: 5}, deltas[1])

	// Spanning a full day yields three segments.
	deltas = splitByDate("a.com", start, end.Add(24*time.Hour))
	require.Len(t, deltas, 3)
	assert.Equal(t, 86400.0, deltas[1].Seconds)
	assert.InDelta(t, end.Add(24*time.Hour).Sub(start).Seconds(), sumDeltas(deltas), 1e-9)
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{NotTracking, "not_tracking"},
		{Accruing, "accruing"},
		{Paused, "paused"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}
