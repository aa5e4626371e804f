package redis

import (
	"context"
	"sort"

	"github.com/goodtune/dwell/internal/storage"
	"github.com/redis/go-redis/v9"
)

type watchlistStore struct {
	client *redis.Client
	keys   keys
}

// Get returns the watched hostnames in sorted order
func (s *watchlistStore) Get(ctx context.Context) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.keys.watchlist()).Result()
	if err != nil {
		return nil, err
	}

	sort.Strings(members)
	return members, nil
}

// Set replaces the watchlist in a single MULTI/EXEC
func (s *watchlistStore) Set(ctx context.Context, hostnames []string) error {
	hostnames = storage.NormalizeHostnames(hostnames)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.keys.watchlist())
		if len(hostnames) > 0 {
			members := make([]interface{}, len(hostnames))
			for i, h := range hostnames {
				members[i] = h
			}
			pipe.SAdd(ctx, s.keys.watchlist(), members...)
		}
		return nil
	})
	return err
}
