package redis

import (
	"context"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
)

var (
	incrementScript = redis.NewScript(incrementLedgerScript)
	pruneScript     = redis.NewScript(pruneLedgerScript)
)

type ledgerStore struct {
	client *redis.Client
	keys   keys
}

// Get returns date -> seconds for a hostname
func (s *ledgerStore) Get(ctx context.Context, hostname string) (map[string]float64, error) {
	data, err := s.client.HGetAll(ctx, s.keys.ledger(hostname)).Result()
	if err != nil {
		return nil, err
	}

	return parseLedger(data)
}

// Increment atomically adds seconds to (hostname, date)
func (s *ledgerStore) Increment(ctx context.Context, hostname, date string, seconds float64) error {
	keys := []string{s.keys.ledger(hostname), s.keys.hosts()}
	args := []interface{}{hostname, date, strconv.FormatFloat(seconds, 'f', -1, 64)}

	return incrementScript.Run(ctx, s.client, keys, args...).Err()
}

// Hostnames returns every hostname with at least one ledger entry
func (s *ledgerStore) Hostnames(ctx context.Context) ([]string, error) {
	hosts, err := s.client.SMembers(ctx, s.keys.hosts()).Result()
	if err != nil {
		return nil, err
	}

	sort.Strings(hosts)
	return hosts, nil
}

// DeleteBefore removes entries dated before cutoffDate
func (s *ledgerStore) DeleteBefore(ctx context.Context, cutoffDate string) (int, error) {
	hosts, err := s.client.SMembers(ctx, s.keys.hosts()).Result()
	if err != nil {
		return 0, err
	}

	var deleted int
	for _, host := range hosts {
		n, err := pruneScript.Run(ctx, s.client, []string{s.keys.ledger(host), s.keys.hosts()}, host, cutoffDate).Int()
		if err != nil {
			return deleted, err
		}
		deleted += n
	}

	return deleted, nil
}
