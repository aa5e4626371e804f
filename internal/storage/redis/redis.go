package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/dwell/internal/config"
	"github.com/goodtune/dwell/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client         *redis.Client
	ledgerStore    *ledgerStore
	watchlistStore *watchlistStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Host may already carry the port (host:port)
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newStore(client, cfg.KeyPrefix), nil
}

func newStore(client *redis.Client, prefix string) *Store {
	k := keys{prefix: prefix}
	if k.prefix == "" {
		k.prefix = "dwell"
	}

	return &Store{
		client:         client,
		ledgerStore:    &ledgerStore{client: client, keys: k},
		watchlistStore: &watchlistStore{client: client, keys: k},
	}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Ledger returns the LedgerStore implementation
func (s *Store) Ledger() storage.LedgerStore {
	return s.ledgerStore
}

// Watchlist returns the WatchlistStore implementation
func (s *Store) Watchlist() storage.WatchlistStore {
	return s.watchlistStore
}
