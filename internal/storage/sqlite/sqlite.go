package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/goodtune/dwell/internal/storage"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger (
	hostname TEXT NOT NULL,
	date     TEXT NOT NULL,
	seconds  REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (hostname, date)
);
CREATE INDEX IF NOT EXISTS idx_ledger_date ON ledger(date);
CREATE TABLE IF NOT EXISTS watchlist (
	hostname TEXT PRIMARY KEY
);
`

// Store implements the storage.Store interface using SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) a SQLite-backed store. Use ":memory:" for an
// ephemeral database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := storage.EnsureDir(dir); err != nil {
				return nil, err
			}
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ledger returns the ledger store.
func (s *Store) Ledger() storage.LedgerStore { return &ledgerStore{db: s.db} }

// Watchlist returns the watchlist store.
func (s *Store) Watchlist() storage.WatchlistStore { return &watchlistStore{db: s.db} }

type ledgerStore struct {
	db *sql.DB
}

func (s *ledgerStore) Get(ctx context.Context, hostname string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT date, seconds FROM ledger WHERE hostname = ?`, hostname)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	days := make(map[string]float64)
	for rows.Next() {
		var date string
		var seconds float64
		if err := rows.Scan(&date, &seconds); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		days[date] = seconds
	}
	return days, rows.Err()
}

// Increment relies on the upsert running as a single statement, which SQLite
// applies atomically.
func (s *ledgerStore) Increment(ctx context.Context, hostname, date string, seconds float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger (hostname, date, seconds) VALUES (?, ?, ?)
		ON CONFLICT(hostname, date) DO UPDATE SET seconds = seconds + excluded.seconds
	`, hostname, date, seconds)
	if err != nil {
		return fmt.Errorf("increment ledger: %w", err)
	}
	return nil
}

func (s *ledgerStore) Hostnames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT hostname FROM ledger ORDER BY hostname`)
	if err != nil {
		return nil, fmt.Errorf("query hostnames: %w", err)
	}
	defer rows.Close()

	hosts := make([]string, 0)
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

func (s *ledgerStore) DeleteBefore(ctx context.Context, cutoffDate string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ledger WHERE date < ?`, cutoffDate)
	if err != nil {
		return 0, fmt.Errorf("prune ledger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

type watchlistStore struct {
	db *sql.DB
}

func (s *watchlistStore) Get(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT hostname FROM watchlist ORDER BY hostname`)
	if err != nil {
		return nil, fmt.Errorf("query watchlist: %w", err)
	}
	defer rows.Close()

	hosts := make([]string, 0)
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

func (s *watchlistStore) Set(ctx context.Context, hostnames []string) error {
	hostnames = storage.NormalizeHostnames(hostnames)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM watchlist`); err != nil {
		return fmt.Errorf("clear watchlist: %w", err)
	}
	for _, h := range hostnames {
		if _, err := tx.ExecContext(ctx, `INSERT INTO watchlist (hostname) VALUES (?)`, h); err != nil {
			return fmt.Errorf("insert %s: %w", h, err)
		}
	}
	return tx.Commit()
}
