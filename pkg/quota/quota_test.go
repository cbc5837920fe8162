package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"neuroflow/pkg/cache"
)

// memStore is an in-memory cache.Store for tests.
type memStore struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMemStore() *memStore { return &memStore{m: make(map[string][]byte)} }

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	if !ok {
		return nil, cache.ErrNotFound
	}
	return v, nil
}

func (s *memStore) Put(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

func (s *memStore) Invalidate(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *memStore) Close() error { return nil }

func newTestLedger(limit int) (*Ledger, *time.Time) {
	l := New(newMemStore(), limit, nil)
	now := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

// TestQuotaRoundTrip covers the full cycle: ten allowed, the eleventh denied,
// then a reset after the cycle boundary allows again with used back at 1.
func TestQuotaRoundTrip(t *testing.T) {
	ctx := context.Background()
	l, now := newTestLedger(10)

	for i := 1; i <= 10; i++ {
		d := l.CheckAndReserve(ctx, "acct-1")
		if !d.Allowed {
			t.Fatalf("call %d: denied, want allowed", i)
		}
		if d.Used != i {
			t.Errorf("call %d: used = %d, want %d", i, d.Used, i)
		}
	}

	d := l.CheckAndReserve(ctx, "acct-1")
	if d.Allowed {
		t.Fatal("eleventh call allowed, want denied")
	}
	if d.Reason != ReasonExhausted {
		t.Errorf("reason = %s, want %s", d.Reason, ReasonExhausted)
	}

	*now = d.ResetAt.Add(time.Hour)
	d = l.CheckAndReserve(ctx, "acct-1")
	if !d.Allowed {
		t.Fatal("call after reset denied, want allowed")
	}
	if d.Used != 1 {
		t.Errorf("used after reset = %d, want 1", d.Used)
	}
}

// TestQuotaResetAnchor verifies the reset advances from the original resetAt,
// not from now, so late resets never accumulate slack.
func TestQuotaResetAnchor(t *testing.T) {
	ctx := context.Background()
	l, now := newTestLedger(5)

	first := l.CheckAndReserve(ctx, "acct-1")
	anchor := first.ResetAt

	// Come back ten days into the next cycle.
	*now = anchor.Add(10 * 24 * time.Hour)
	d := l.CheckAndReserve(ctx, "acct-1")
	if !d.Allowed {
		t.Fatal("denied after reset")
	}
	want := anchor.AddDate(0, 1, 0)
	if !d.ResetAt.Equal(want) {
		t.Errorf("resetAt = %v, want %v (anchored on original)", d.ResetAt, want)
	}
}

// TestQuotaResetSkipsMissedCycles verifies a long-dormant account advances
// past every missed cycle in one step.
func TestQuotaResetSkipsMissedCycles(t *testing.T) {
	ctx := context.Background()
	l, now := newTestLedger(5)

	first := l.CheckAndReserve(ctx, "acct-1")
	anchor := first.ResetAt

	*now = anchor.AddDate(0, 5, 3) // dormant for five-plus cycles
	d := l.CheckAndReserve(ctx, "acct-1")
	if !d.Allowed {
		t.Fatal("denied after dormancy")
	}
	if !d.ResetAt.After(*now) {
		t.Errorf("resetAt = %v, not after now = %v", d.ResetAt, *now)
	}
	// Still anchored: the reset time is an exact whole-month multiple of the
	// original anchor.
	if d.ResetAt.Day() != anchor.Day() || d.ResetAt.Hour() != anchor.Hour() {
		t.Errorf("resetAt %v drifted off anchor %v", d.ResetAt, anchor)
	}
}

// TestQuotaConcurrentReserve verifies that with one slot left, two racing
// reservations yield exactly one Allowed.
func TestQuotaConcurrentReserve(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(10)

	for i := 0; i < 9; i++ {
		if d := l.CheckAndReserve(ctx, "acct-1"); !d.Allowed {
			t.Fatalf("warmup call %d denied", i)
		}
	}

	var wg sync.WaitGroup
	results := make([]Decision, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = l.CheckAndReserve(ctx, "acct-1")
		}(i)
	}
	wg.Wait()

	allowed := 0
	for _, d := range results {
		if d.Allowed {
			allowed++
		}
	}
	if allowed != 1 {
		t.Errorf("allowed = %d, want exactly 1", allowed)
	}
}

// TestRecordUsageIdempotent verifies a retried confirmation never
// double-increments.
func TestRecordUsageIdempotent(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(10)

	d := l.CheckAndReserve(ctx, "acct-1")
	if !d.Allowed {
		t.Fatal("reserve denied")
	}

	// The reservation already counted; confirming it any number of times
	// must not count again.
	for i := 0; i < 3; i++ {
		if err := l.RecordUsage(ctx, "acct-1", d.RequestID); err != nil {
			t.Fatalf("record usage: %v", err)
		}
	}
	if snap := l.Snapshot(ctx, "acct-1"); snap.Used != 1 {
		t.Errorf("used = %d, want 1", snap.Used)
	}

	// An unreserved id counts once, then replays are no-ops.
	for i := 0; i < 3; i++ {
		if err := l.RecordUsage(ctx, "acct-1", "external-req-1"); err != nil {
			t.Fatalf("record external usage: %v", err)
		}
	}
	if snap := l.Snapshot(ctx, "acct-1"); snap.Used != 2 {
		t.Errorf("used = %d, want 2", snap.Used)
	}
}

// TestRecordUsageNeverExceedsLimit guards the used <= limit invariant
// against externally minted request ids.
func TestRecordUsageNeverExceedsLimit(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(2)

	for i := 1; i <= 2; i++ {
		if d := l.CheckAndReserve(ctx, "acct-1"); !d.Allowed {
			t.Fatalf("reserve %d denied", i)
		}
	}

	if err := l.RecordUsage(ctx, "acct-1", "external-over-limit"); err != nil {
		t.Fatalf("record usage: %v", err)
	}
	snap := l.Snapshot(ctx, "acct-1")
	if snap.Used != 2 {
		t.Errorf("used = %d, want 2 (never past limit)", snap.Used)
	}
	// The id is still remembered, so replays stay no-ops after a reset too.
	if err := l.RecordUsage(ctx, "acct-1", "external-over-limit"); err != nil {
		t.Fatalf("record usage replay: %v", err)
	}
	if snap := l.Snapshot(ctx, "acct-1"); snap.Used != 2 {
		t.Errorf("used after replay = %d, want 2", snap.Used)
	}
}

// TestSnapshotAppliesDueReset: a display read after the cycle boundary shows
// the fresh cycle, not the exhausted old one.
func TestSnapshotAppliesDueReset(t *testing.T) {
	ctx := context.Background()
	l, now := newTestLedger(2)

	for i := 1; i <= 2; i++ {
		if d := l.CheckAndReserve(ctx, "acct-1"); !d.Allowed {
			t.Fatalf("reserve %d denied", i)
		}
	}
	exhausted := l.Snapshot(ctx, "acct-1")
	if exhausted.Allowed {
		t.Fatal("snapshot allowed at limit")
	}

	*now = exhausted.ResetAt.Add(time.Hour)
	snap := l.Snapshot(ctx, "acct-1")
	if !snap.Allowed || snap.Used != 0 {
		t.Errorf("snapshot after reset = %+v, want allowed with used 0", snap)
	}
	if !snap.ResetAt.After(*now) {
		t.Errorf("resetAt = %s not advanced past now", snap.ResetAt)
	}
	// Snapshot consumed nothing: the full allowance is still there.
	if d := l.CheckAndReserve(ctx, "acct-1"); !d.Allowed || d.Used != 1 {
		t.Errorf("reserve after snapshot reset = %+v, want allowed with used 1", d)
	}
}

// TestQuotaPersistsAcrossLedgers verifies the counter survives a ledger
// rebuild over the same store, i.e. a process restart.
func TestQuotaPersistsAcrossLedgers(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	now := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)

	l1 := New(store, 3, nil)
	l1.now = func() time.Time { return now }
	l1.CheckAndReserve(ctx, "acct-1")
	l1.CheckAndReserve(ctx, "acct-1")

	l2 := New(store, 3, nil)
	l2.now = func() time.Time { return now }
	d := l2.CheckAndReserve(ctx, "acct-1")
	if !d.Allowed {
		t.Fatal("third call denied, want allowed")
	}
	if d.Used != 3 {
		t.Errorf("used after restart = %d, want 3", d.Used)
	}
	if l2.CheckAndReserve(ctx, "acct-1").Allowed {
		t.Error("fourth call allowed, want denied")
	}
}

// TestQuotaAccountsIsolated verifies one account's usage never bleeds into
// another's.
func TestQuotaAccountsIsolated(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(1)

	if d := l.CheckAndReserve(ctx, "acct-a"); !d.Allowed {
		t.Fatal("acct-a first call denied")
	}
	if d := l.CheckAndReserve(ctx, "acct-a"); d.Allowed {
		t.Fatal("acct-a second call allowed")
	}
	if d := l.CheckAndReserve(ctx, "acct-b"); !d.Allowed {
		t.Error("acct-b denied by acct-a's usage")
	}
}
