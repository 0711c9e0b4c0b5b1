package stores

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T, retention time.Duration) (*ResetTokenStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewResetTokenStore(rdb, "prt", retention), mr
}

func tokenRecord(id, account string, created time.Time, ttl time.Duration) ResetTokenRecord {
	return ResetTokenRecord{
		TokenID:    id,
		AccountID:  account,
		SecretHash: sha256.Sum256([]byte(id)),
		CreatedAt:  created,
		ExpiresAt:  created.Add(ttl),
	}
}

func TestResetTokenCreateAndLookup(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	rec := tokenRecord("t1", "u1", now, time.Hour)
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.GetByHash(ctx, rec.SecretHash)
	if err != nil {
		t.Fatalf("GetByHash failed: %v", err)
	}
	if got.TokenID != "t1" || got.AccountID != "u1" || got.Used {
		t.Fatalf("unexpected record %+v", got)
	}
	if !got.CreatedAt.Equal(now) || !got.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("timestamps mangled: %+v", got)
	}

	_, err = store.GetByHash(ctx, sha256.Sum256([]byte("unknown")))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResetTokenMarkUsedOnce(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	rec := tokenRecord("t1", "u1", now, time.Hour)
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	already, err := store.MarkUsed(ctx, "t1", "u1", now)
	if err != nil {
		t.Fatalf("MarkUsed failed: %v", err)
	}
	if already {
		t.Fatal("fresh token reported as used")
	}

	later := now.Add(time.Hour)
	already, err = store.MarkUsed(ctx, "t1", "u1", later)
	if err != nil {
		t.Fatalf("second MarkUsed failed: %v", err)
	}
	if !already {
		t.Fatal("second redemption must lose")
	}

	got, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.UsedAt.Equal(now) {
		t.Fatalf("used_at moved to %v", got.UsedAt)
	}
}

func TestResetTokenMarkUsedUnknown(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)

	_, err := store.MarkUsed(context.Background(), "ghost", "u1", time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIssueSupersedesEveryActiveToken(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	// Two actives placed directly, as if issued before the invariant held.
	for _, id := range []string{"t1", "t2"} {
		if err := store.Create(ctx, tokenRecord(id, "u1", now, time.Hour)); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	n, err := store.Issue(ctx, tokenRecord("t3", "u1", now, time.Hour), now)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 invalidated, got %d", n)
	}

	for _, id := range []string{"t1", "t2"} {
		got, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !got.Used {
			t.Fatalf("token %s still active", id)
		}
	}

	got, err := store.Get(ctx, "t3")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Used {
		t.Fatal("freshly issued token marked used")
	}

	count, err := store.ActiveCount(ctx, "u1")
	if err != nil || count != 1 {
		t.Fatalf("expected 1 active token, got %d, %v", count, err)
	}

	// Issuing onto an empty active set invalidates nothing.
	n, err = store.Issue(ctx, tokenRecord("t4", "u2", now, time.Hour), now)
	if err != nil || n != 0 {
		t.Fatalf("expected clean first issue, got %d, %v", n, err)
	}
}

func TestConcurrentIssuesLeaveOneActive(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	const issuers = 8
	var wg sync.WaitGroup
	errs := make([]error, issuers)
	for i := 0; i < issuers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := tokenRecord(fmt.Sprintf("t%d", i), "u1", now, time.Hour)
			_, errs[i] = store.Issue(ctx, rec, now)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("issuer %d failed: %v", i, err)
		}
	}

	count, err := store.ActiveCount(ctx, "u1")
	if err != nil {
		t.Fatalf("ActiveCount failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 active token, got %d", count)
	}

	unused := 0
	for i := 0; i < issuers; i++ {
		got, err := store.Get(ctx, fmt.Sprintf("t%d", i))
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !got.Used {
			unused++
		}
	}
	if unused != 1 {
		t.Fatalf("expected exactly 1 redeemable token, got %d", unused)
	}
}

func TestSweepDeletesOnlyStaleDeadRecords(t *testing.T) {
	retention := time.Hour
	store, _ := newTestStore(t, retention)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	// Dead long ago, dead recently, and still alive. The stale record gets a
	// long nominal TTL so Redis itself does not collect it before Sweep runs.
	stale := tokenRecord("stale", "u1", now.Add(-3*time.Hour), 5*time.Hour)
	recent := tokenRecord("recent", "u2", now.Add(-30*time.Minute), time.Hour)
	live := tokenRecord("live", "u3", now, time.Hour)

	for _, rec := range []ResetTokenRecord{stale, recent, live} {
		if err := store.Create(ctx, rec); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	if _, err := store.MarkUsed(ctx, "stale", "u1", now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("MarkUsed failed: %v", err)
	}
	if _, err := store.MarkUsed(ctx, "recent", "u2", now.Add(-10*time.Minute)); err != nil {
		t.Fatalf("MarkUsed failed: %v", err)
	}

	deleted, err := store.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}

	if _, err := store.Get(ctx, "stale"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale record survived: %v", err)
	}
	if _, err := store.Get(ctx, "recent"); err != nil {
		t.Fatalf("recent dead record swept early: %v", err)
	}
	if _, err := store.Get(ctx, "live"); err != nil {
		t.Fatalf("live record swept: %v", err)
	}

	// The hash index went with the record.
	if _, err := store.GetByHash(ctx, stale.SecretHash); !errors.Is(err, ErrNotFound) {
		t.Fatalf("hash index survived: %v", err)
	}
}
