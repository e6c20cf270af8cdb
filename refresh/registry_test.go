package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type memStore struct {
	mu      sync.Mutex
	sets    map[string]Set
	touches int
}

func newMemStore(ids ...string) *memStore {
	s := &memStore{sets: map[string]Set{}}
	for _, id := range ids {
		s.sets[id] = Set{}
	}
	return s
}

var errMissing = errors.New("missing")

func (s *memStore) LoadRefresh(_ context.Context, id string) (Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[id]
	if !ok {
		return Set{}, errMissing
	}
	return Set{Records: append([]Record(nil), set.Records...), Version: set.Version}, nil
}

func (s *memStore) CommitRefresh(_ context.Context, id string, swap Swap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[id]
	if !ok {
		return errMissing
	}
	if set.Version != swap.ExpectedVersion {
		return ErrConflict
	}
	s.sets[id] = Set{Records: append([]Record(nil), swap.Records...), Version: set.Version + 1}
	if swap.Touch {
		s.touches++
	}
	return nil
}

var secret = []byte("refresh-secret-refresh-secret-0123456789")

func newRegistry(t *testing.T, store Store, opts ...Option) *Registry {
	t.Helper()
	r, err := NewRegistry(store, secret, opts...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestIssueContainsRemove(t *testing.T) {
	ctx := context.Background()
	store := newMemStore("acc")
	r := newRegistry(t, store)
	exp := time.Now().Add(time.Hour)

	if err := r.Issue(ctx, "acc", "tok-1", exp); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	ok, err := r.Contains(ctx, "acc", "tok-1")
	if err != nil || !ok {
		t.Fatalf("expected tok-1 present, ok=%v err=%v", ok, err)
	}
	if ok, _ := r.Contains(ctx, "acc", "tok-2"); ok {
		t.Fatal("tok-2 was never issued")
	}
	if store.sets["acc"].Records[0].Hash == "tok-1" {
		t.Fatal("raw token persisted")
	}
	if store.touches != 1 {
		t.Fatalf("expected issue to touch last-login once, got %d", store.touches)
	}

	if err := r.Remove(ctx, "acc", "tok-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if store.touches != 1 {
		t.Fatal("remove must not touch last-login")
	}
	if err := r.Remove(ctx, "acc", "tok-1"); !errors.Is(err, ErrNotIssued) {
		t.Fatalf("expected ErrNotIssued on second remove, got %v", err)
	}
}

func TestRotateReplacesAtomically(t *testing.T) {
	ctx := context.Background()
	store := newMemStore("acc")
	r := newRegistry(t, store)
	exp := time.Now().Add(time.Hour)

	if err := r.Issue(ctx, "acc", "old", exp); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	before := store.sets["acc"].Version
	if err := r.Rotate(ctx, "acc", "old", "new", exp); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	set := store.sets["acc"]
	if set.Version != before+1 {
		t.Fatalf("expected a single swap, version %d -> %d", before, set.Version)
	}
	if len(set.Records) != 1 {
		t.Fatalf("expected exactly one record after rotate, got %d", len(set.Records))
	}
	if ok, _ := r.Contains(ctx, "acc", "old"); ok {
		t.Fatal("old token still present")
	}
	if ok, _ := r.Contains(ctx, "acc", "new"); !ok {
		t.Fatal("new token missing")
	}
	if err := r.Rotate(ctx, "acc", "old", "newer", exp); !errors.Is(err, ErrNotIssued) {
		t.Fatalf("expected replayed rotate to fail closed, got %v", err)
	}
}

func TestCapEvictsOldestExpiry(t *testing.T) {
	ctx := context.Background()
	store := newMemStore("acc")
	r := newRegistry(t, store, WithMaxSessions(3))
	base := time.Now().Add(time.Hour)

	// Issue out of expiry order: tok-1 expires earliest.
	for i, off := range []time.Duration{5, 1, 3, 4} {
		if err := r.Issue(ctx, "acc", fmt.Sprintf("tok-%d", i), base.Add(off*time.Minute)); err != nil {
			t.Fatalf("Issue: %v", err)
		}
	}
	if n := len(store.sets["acc"].Records); n != 3 {
		t.Fatalf("expected cap of 3, got %d", n)
	}
	if ok, _ := r.Contains(ctx, "acc", "tok-1"); ok {
		t.Fatal("expected oldest-expiry record to be evicted")
	}
	for _, tok := range []string{"tok-0", "tok-2", "tok-3"} {
		if ok, _ := r.Contains(ctx, "acc", tok); !ok {
			t.Fatalf("expected %s to survive", tok)
		}
	}
}

func TestExpiredRecordsDoNotMatchAndArePruned(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	clock := now
	store := newMemStore("acc")
	r := newRegistry(t, store, WithClock(func() time.Time { return clock }))

	if err := r.Issue(ctx, "acc", "short", now.Add(time.Minute)); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	clock = now.Add(2 * time.Minute)
	if ok, _ := r.Contains(ctx, "acc", "short"); ok {
		t.Fatal("expired record must not match")
	}
	if err := r.Issue(ctx, "acc", "fresh", clock.Add(time.Hour)); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if n := len(store.sets["acc"].Records); n != 1 {
		t.Fatalf("expected expired record pruned, have %d", n)
	}
}

func TestMatchScansAllRecords(t *testing.T) {
	r := newRegistry(t, newMemStore())
	exp := time.Now().Add(time.Hour)
	records := []Record{
		{Hash: r.Digest("a"), ExpiresAt: exp},
		{Hash: r.Digest("b"), ExpiresAt: exp},
		{Hash: r.Digest("b"), ExpiresAt: exp},
	}
	if got := r.Match(records, "b"); got != 1 {
		t.Fatalf("expected first matching index 1, got %d", got)
	}
	if got := r.Match(records, "c"); got != -1 {
		t.Fatalf("expected -1, got %d", got)
	}
}

func TestConcurrentRotateSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := newMemStore("acc")
	r := newRegistry(t, store)
	exp := time.Now().Add(time.Hour)
	if err := r.Issue(ctx, "acc", "shared", exp); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	const workers = 16
	var (
		wg      sync.WaitGroup
		success atomic.Int64
		start   = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			err := r.Rotate(ctx, "acc", "shared", fmt.Sprintf("next-%d", i), exp)
			if err == nil {
				success.Add(1)
				return
			}
			if !errors.Is(err, ErrNotIssued) && !errors.Is(err, ErrContention) {
				t.Errorf("unexpected rotate error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if got := success.Load(); got != 1 {
		t.Fatalf("expected exactly one successful rotate, got %d", got)
	}
	if n := len(store.sets["acc"].Records); n != 1 {
		t.Fatalf("expected one live record, got %d", n)
	}
}

func TestNewRegistryValidation(t *testing.T) {
	if _, err := NewRegistry(nil, secret); err == nil {
		t.Fatal("expected nil store error")
	}
	if _, err := NewRegistry(newMemStore(), nil); err == nil {
		t.Fatal("expected empty secret error")
	}
	if _, err := NewRegistry(newMemStore(), secret, WithMaxSessions(0)); err == nil {
		t.Fatal("expected cap error")
	}
}
