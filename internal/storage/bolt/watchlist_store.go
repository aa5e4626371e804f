package bolt

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodtune/dwell/internal/storage"
	"go.etcd.io/bbolt"
)

type watchlistStore struct {
	db *bbolt.DB
}

func (s *watchlistStore) Get(ctx context.Context) ([]string, error) {
	hosts := make([]string, 0)
	return hosts, s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketWatchlist))
		if b == nil {
			return nil
		}
		// bbolt iterates keys in byte order, so the result is sorted
		return b.ForEach(func(k, _ []byte) error {
			hosts = append(hosts, string(k))
			return nil
		})
	})
}

func (s *watchlistStore) Set(ctx context.Context, hostnames []string) error {
	hostnames = storage.NormalizeHostnames(hostnames)
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := tx.DeleteBucket([]byte(bucketWatchlist)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return fmt.Errorf("reset watchlist: %w", err)
		}
		b, err := tx.CreateBucket([]byte(bucketWatchlist))
		if err != nil {
			return fmt.Errorf("create watchlist bucket: %w", err)
		}
		for _, h := range hostnames {
			if err := b.Put([]byte(h), []byte{1}); err != nil {
				return err
			}
		}
		return nil
	})
}
