package bolt

import (
	"context"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "nested", "dwell.bolt"))
	if err != nil {
		t.Fatalf("open bolt store: %v", err)
	}
	return store
}

func TestLedgerStoreIncrement(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	ledger := store.Ledger()

	if err := ledger.Increment(ctx, "a.com", "2024-01-02", 120); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := ledger.Increment(ctx, "a.com", "2024-01-02", 0.75); err != nil {
		t.Fatalf("increment: %v", err)
	}

	days, err := ledger.Get(ctx, "a.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if days["2024-01-02"] != 120.75 {
		t.Fatalf("expected 120.75 seconds, got %v", days["2024-01-02"])
	}

	missing, err := ledger.Get(ctx, "b.com")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("expected no entries for b.com, got %v", missing)
	}
}

func TestLedgerStoreConcurrentIncrement(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	ledger := store.Ledger()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ledger.Increment(ctx, "a.com", "2024-01-02", 1); err != nil {
				t.Errorf("increment: %v", err)
			}
		}()
	}
	wg.Wait()

	days, err := ledger.Get(ctx, "a.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if days["2024-01-02"] != 20 {
		t.Fatalf("expected 20 seconds, got %v", days["2024-01-02"])
	}
}

func TestLedgerStoreDeleteBefore(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	ledger := store.Ledger()

	_ = ledger.Increment(ctx, "a.com", "2024-01-01", 1)
	_ = ledger.Increment(ctx, "a.com", "2024-01-03", 1)
	_ = ledger.Increment(ctx, "b.com", "2024-01-01", 1)

	deleted, err := ledger.DeleteBefore(ctx, "2024-01-02")
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted entries, got %d", deleted)
	}

	hosts, err := ledger.Hostnames(ctx)
	if err != nil {
		t.Fatalf("hostnames: %v", err)
	}
	if !reflect.DeepEqual(hosts, []string{"a.com"}) {
		t.Fatalf("expected [a.com], got %v", hosts)
	}
}

func TestWatchlistStoreSet(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	watchlist := store.Watchlist()

	empty, err := watchlist.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty watchlist, got %v", empty)
	}

	if err := watchlist.Set(ctx, []string{"c.com", "A.com", "b.com"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := watchlist.Set(ctx, []string{"b.com", "a.com"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := watchlist.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"a.com", "b.com"}) {
		t.Fatalf("expected [a.com b.com], got %v", got)
	}
}
