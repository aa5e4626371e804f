package redis

import (
	"fmt"
	"strconv"
)

// keys builds the Redis key layout:
//
//	{prefix}:ledger:{hostname}  hash  date -> seconds
//	{prefix}:ledger:hosts       set   hostnames with ledger entries
//	{prefix}:watchlist          set   watched hostnames
type keys struct {
	prefix string
}

func (k keys) ledger(hostname string) string {
	return fmt.Sprintf("%s:ledger:%s", k.prefix, hostname)
}

func (k keys) hosts() string {
	return k.prefix + ":ledger:hosts"
}

func (k keys) watchlist() string {
	return k.prefix + ":watchlist"
}

// parseLedger converts a Redis hash of date -> seconds into float values
func parseLedger(data map[string]string) (map[string]float64, error) {
	out := make(map[string]float64, len(data))
	for date, raw := range data {
		seconds, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse seconds for %s: %w", date, err)
		}
		out[date] = seconds
	}
	return out, nil
}
