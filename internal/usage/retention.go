package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/dwell/internal/metrics"
	"github.com/goodtune/dwell/internal/storage"
	"github.com/rs/zerolog"
)

// RetentionScheduler prunes old ledger dates once a day.
type RetentionScheduler struct {
	ledger    storage.LedgerStore
	syncer    *Syncer
	clock     Clock
	days      int
	pruneTime time.Time // Time of day to prune (only hour and minute are used)
	logger    zerolog.Logger
	stopChan  chan struct{}
}

// NewRetentionScheduler creates a scheduler keeping days of history. A days
// value of zero keeps everything.
func NewRetentionScheduler(ledger storage.LedgerStore, syncer *Syncer, clock Clock, days int, pruneTime string, logger zerolog.Logger) (*RetentionScheduler, error) {
	parsedTime, err := time.Parse("15:04", pruneTime)
	if err != nil {
		return nil, fmt.Errorf("invalid prune time %q: %w", pruneTime, err)
	}
	if clock == nil {
		clock = RealClock{}
	}

	return &RetentionScheduler{
		ledger:    ledger,
		syncer:    syncer,
		clock:     clock,
		days:      days,
		pruneTime: parsedTime,
		logger:    logger.With().Str("component", "retention").Logger(),
		stopChan:  make(chan struct{}),
	}, nil
}

// Start begins the scheduler
func (rs *RetentionScheduler) Start() {
	if rs.days <= 0 {
		rs.logger.Info().Msg("Ledger retention disabled")
		return
	}
	go rs.run()
	rs.logger.Info().
		Int("days", rs.days).
		Str("prune_time", rs.pruneTime.Format("15:04")).
		Msg("Ledger retention scheduler started")
}

// Stop stops the scheduler
func (rs *RetentionScheduler) Stop() {
	close(rs.stopChan)
}

func (rs *RetentionScheduler) run() {
	for {
		next := rs.nextPrune(rs.clock.Now())
		wait := next.Sub(rs.clock.Now())

		rs.logger.Debug().
			Time("next_prune", next).
			Dur("wait_duration", wait).
			Msg("Scheduled next ledger prune")

		select {
		case <-time.After(wait):
			if _, err := rs.Prune(context.Background()); err != nil {
				rs.logger.Error().Err(err).Msg("Ledger prune failed")
			}
		case <-rs.stopChan:
			return
		}
	}
}

// nextPrune returns the next occurrence of the prune time after now.
func (rs *RetentionScheduler) nextPrune(now time.Time) time.Time {
	today := time.Date(
		now.Year(), now.Month(), now.Day(),
		rs.pruneTime.Hour(), rs.pruneTime.Minute(), 0, 0,
		now.Location(),
	)
	if now.Before(today) {
		return today
	}
	return today.AddDate(0, 0, 1)
}

// Cutoff returns the oldest date kept when pruning at now.
func (rs *RetentionScheduler) Cutoff(now time.Time) string {
	return storage.FormatDate(now.AddDate(0, 0, -rs.days))
}

// Prune flushes pending time and deletes ledger dates older than the
// retention window.
func (rs *RetentionScheduler) Prune(ctx context.Context) (int, error) {
	if rs.days <= 0 {
		return 0, nil
	}
	if rs.syncer != nil {
		if err := rs.syncer.FlushAll(ctx); err != nil {
			rs.logger.Warn().Err(err).Msg("Flush before prune incomplete")
		}
	}

	cutoff := rs.Cutoff(rs.clock.Now())
	deleted, err := rs.ledger.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete before %s: %w", cutoff, err)
	}

	metrics.RetentionPruned.Add(float64(deleted))
	rs.logger.Info().
		Int("deleted", deleted).
		Str("cutoff_date", cutoff).
		Msg("Ledger pruned")
	return deleted, nil
}
