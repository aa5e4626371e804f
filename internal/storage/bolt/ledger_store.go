package bolt

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"
)

type ledgerStore struct {
	db *bbolt.DB
}

func (s *ledgerStore) Get(ctx context.Context, hostname string) (map[string]float64, error) {
	days := make(map[string]float64)
	return days, s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		root := tx.Bucket([]byte(bucketLedger))
		if root == nil {
			return fmt.Errorf("ledger bucket missing")
		}
		b := root.Bucket([]byte(hostname))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var seconds float64
			if err := unmarshal(v, &seconds); err != nil {
				return err
			}
			days[string(k)] = seconds
			return nil
		})
	})
}

// Increment reads, adds and writes inside one Update transaction; bbolt
// serialises writers so the read never observes a stale value.
func (s *ledgerStore) Increment(ctx context.Context, hostname, date string, seconds float64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		root := tx.Bucket([]byte(bucketLedger))
		if root == nil {
			return fmt.Errorf("ledger bucket missing")
		}
		b, err := root.CreateBucketIfNotExists([]byte(hostname))
		if err != nil {
			return fmt.Errorf("create hostname bucket: %w", err)
		}

		var total float64
		if existing := b.Get([]byte(date)); existing != nil {
			if err := unmarshal(existing, &total); err != nil {
				return err
			}
		}
		total += seconds

		data, err := marshal(total)
		if err != nil {
			return err
		}
		return b.Put([]byte(date), data)
	})
}

func (s *ledgerStore) Hostnames(ctx context.Context) ([]string, error) {
	hosts := make([]string, 0)
	return hosts, s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(bucketLedger))
		if root == nil {
			return nil
		}
		return root.ForEach(func(k, v []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// nested buckets have a nil value
			if v == nil {
				hosts = append(hosts, string(k))
			}
			return nil
		})
	})
}

func (s *ledgerStore) DeleteBefore(ctx context.Context, cutoffDate string) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(bucketLedger))
		if root == nil {
			return nil
		}

		var emptied [][]byte
		err := root.ForEach(func(host, v []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if v != nil {
				return nil
			}
			b := root.Bucket(host)

			var stale [][]byte
			c := b.Cursor()
			for k, _ := c.First(); k != nil && string(k) < cutoffDate; k, _ = c.Next() {
				stale = append(stale, append([]byte(nil), k...))
			}
			for _, k := range stale {
				if err := b.Delete(k); err != nil {
					return err
				}
				deleted++
			}
			if k, _ := b.Cursor().First(); k == nil {
				emptied = append(emptied, append([]byte(nil), host...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, host := range emptied {
			if err := root.DeleteBucket(host); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
