package main

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/dwell/internal/usage"
	"github.com/spf13/cobra"
)

var (
	reportPeriod string
	reportDate   string
	reportNoSync bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show time spent on watched sites",
	Long: `Show the time spent on every watched site for today, the last 7 days or
the last 30 days. Time still held by the daemon is synced to the ledger first.`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVarP(&reportPeriod, "period", "p", "today", "Period to report: today, week or month")
	reportCmd.Flags().StringVar(&reportDate, "date", "", "Last day of the period (YYYY-MM-DD), defaults to today")
	reportCmd.Flags().BoolVar(&reportNoSync, "no-sync", false, "Skip the sync request before reading the ledger")
	reportCmd.Flags().StringVar(&serverURL, "server", "", "Daemon URL (defaults to the configured bridge address)")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	period, err := usage.ParsePeriod(reportPeriod)
	if err != nil {
		return err
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)

	if !reportNoSync {
		if err := client.do(ctx, "POST", "/v1/sync", nil, nil, nil); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "warning: sync failed: %v\n", err)
		}
	}

	query := url.Values{"period": {string(period)}}
	if reportDate != "" {
		query.Set("date", reportDate)
	}

	var summary usage.Summary
	if err := client.do(ctx, "GET", "/v1/summary", query, nil, &summary); err != nil {
		return err
	}

	renderSummary(os.Stdout, &summary)
	return nil
}

// renderSummary prints one line per site followed by the period total.
func renderSummary(w io.Writer, summary *usage.Summary) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	faint := color.New(color.Faint)
	bold := color.New(color.Bold)

	_, _ = cyan.Fprintf(w, "%s\n", periodTitle(summary))

	if len(summary.Sites) == 0 {
		_, _ = faint.Fprintln(w, "  no watched sites")
		return
	}

	width := len("Total")
	for _, site := range summary.Sites {
		if len(site.Hostname) > width {
			width = len(site.Hostname)
		}
	}

	for _, site := range summary.Sites {
		c := green
		if site.Seconds < 1 {
			c = faint
		}
		_, _ = c.Fprintf(w, "  %-*s  %s\n", width, site.Hostname, usage.FormatSeconds(site.Seconds))
	}

	_, _ = fmt.Fprintf(w, "  %s\n", strings.Repeat("-", width+10))
	_, _ = bold.Fprintf(w, "  %-*s  %s\n", width, "Total", usage.FormatSeconds(summary.TotalSeconds))
}

var periodTitles = map[usage.Period]string{
	usage.PeriodToday: "Today",
	usage.PeriodWeek:  "Last 7 days",
	usage.PeriodMonth: "Last 30 days",
}

func periodTitle(summary *usage.Summary) string {
	title, ok := periodTitles[summary.Period]
	if !ok {
		title = string(summary.Period)
	}

	n := len(summary.Dates)
	switch n {
	case 0:
		return title
	case 1:
		return fmt.Sprintf("%s (%s)", title, summary.Dates[0])
	default:
		// Dates are newest first.
		return fmt.Sprintf("%s (%s to %s)", title, summary.Dates[n-1], summary.Dates[0])
	}
}
