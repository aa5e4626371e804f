package usage

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/goodtune/dwell/internal/storage"
)

// Period selects the date window of a summary.
type Period string

const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ParsePeriod validates a period name. The empty string means today.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "", PeriodToday:
		return PeriodToday, nil
	case PeriodWeek, PeriodMonth:
		return Period(s), nil
	}
	return "", fmt.Errorf("unknown period %q (want today, week or month)", s)
}

// Days returns how many calendar days the period covers.
func (p Period) Days() int {
	switch p {
	case PeriodWeek:
		return 7
	case PeriodMonth:
		return 30
	default:
		return 1
	}
}

// Dates returns the ledger dates covered by p, ending at ref, newest first.
func (p Period) Dates(ref time.Time) []string {
	n := p.Days()
	dates := make([]string, 0, n)
	for i := 0; i < n; i++ {
		dates = append(dates, storage.FormatDate(ref.AddDate(0, 0, -i)))
	}
	return dates
}

// SiteTotal is one hostname's time within a summary.
type SiteTotal struct {
	Hostname string  `json:"hostname"`
	Seconds  float64 `json:"seconds"`
}

// Summary aggregates the watchlist over a period.
type Summary struct {
	Period       Period      `json:"period"`
	Dates        []string    `json:"dates"`
	Sites        []SiteTotal `json:"sites"`
	TotalSeconds float64     `json:"total_seconds"`
}

// Summarize totals every hostname over period ending at ref. Every hostname
// appears, including those with no time yet.
func (t *Tracker) Summarize(ctx context.Context, hostnames []string, period Period, ref time.Time) (*Summary, error) {
	if ref.IsZero() {
		ref = t.clock.Now()
	}

	hosts := append([]string(nil), hostnames...)
	sort.Strings(hosts)

	summary := &Summary{
		Period: period,
		Dates:  period.Dates(ref),
		Sites:  make([]SiteTotal, 0, len(hosts)),
	}
	for _, h := range hosts {
		var seconds float64
		for _, date := range summary.Dates {
			s, err := t.QueryDailyTotal(ctx, h, date)
			if err != nil {
				return nil, fmt.Errorf("total for %s on %s: %w", h, date, err)
			}
			seconds += s
		}
		summary.Sites = append(summary.Sites, SiteTotal{Hostname: h, Seconds: seconds})
		summary.TotalSeconds += seconds
	}
	return summary, nil
}

// FormatSeconds renders a duration the way the popup does: 45s, 3m 12s, 1h 5m.
func FormatSeconds(seconds float64) string {
	s := int64(math.Floor(seconds))
	if s < 0 {
		s = 0
	}
	if s < 60 {
		return fmt.Sprintf("%ds", s)
	}
	minutes := s / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, s%60)
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}
