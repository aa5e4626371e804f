package usage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("")
	require.NoError(t, err)
	assert.Equal(t, PeriodToday, p)

	p, err = ParsePeriod("month")
	require.NoError(t, err)
	assert.Equal(t, 30, p.Days())

	_, err = ParsePeriod("year")
	assert.Error(t, err)
}

func TestPeriodDates(t *testing.T) {
	ref := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, []string{"2025-03-02"}, PeriodToday.Dates(ref))

	week := PeriodWeek.Dates(ref)
	require.Len(t, week, 7)
	assert.Equal(t, "2025-03-02", week[0])
	assert.Equal(t, "2025-02-24", week[6])
}

func TestFormatSeconds(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0s"},
		{45.9, "45s"},
		{60, "1m 0s"},
		{192, "3m 12s"},
		{3900, "1h 5m"},
		{-3, "0s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatSeconds(tt.in))
	}
}

func TestTracker_Summarize(t *testing.T) {
	tr, clock, store := newTestTracker(t, "a.com", "b.com")
	ctx := context.Background()

	require.NoError(t, store.Ledger().Increment(ctx, "a.com", "2025-03-10", 100))
	require.NoError(t, store.Ledger().Increment(ctx, "a.com", "2025-01-01", 1000))

	require.NoError(t, tr.OnContextNavigated("c1", "https://a.com"))
	require.NoError(t, tr.OnContextForegrounded("c1"))
	clock.Advance(20 * time.Second)

	sum, err := tr.Summarize(ctx, []string{"b.com", "a.com"}, PeriodWeek, time.Time{})
	require.NoError(t, err)

	require.Len(t, sum.Sites, 2)
	assert.Equal(t, SiteTotal{Hostname: "a.com", Seconds: 120}, sum.Sites[0])
	assert.Equal(t, SiteTotal{Hostname: "b.com", Seconds: 0}, sum.Sites[1])
	assert.Equal(t, 120.0, sum.TotalSeconds)
}
