package store

import (
	"context"
	"math"
	"testing"
	"time"
)

func newTestMemory() (*memoryStore, *time.Time) {
	now := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory().(*memoryStore)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestMemorySetGet(t *testing.T) {
	m, _ := newTestMemory()
	ctx := context.Background()

	if _, found, _ := m.Get(ctx, "missing"); found {
		t.Fatalf("Get on a missing key should report absent")
	}

	if err := m.Set(ctx, "k", "v", Forever); err != nil {
		t.Fatalf("Set returned unexpected error: %v", err)
	}

	value, found, err := m.Get(ctx, "k")
	if err != nil || !found || value != "v" {
		t.Fatalf("Get == (%v, %v, %v), want (v, true, nil)", value, found, err)
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	m, now := newTestMemory()
	ctx := context.Background()

	m.Set(ctx, "k", "v", time.Minute)

	*now = now.Add(59 * time.Second)
	if _, found, _ := m.Get(ctx, "k"); !found {
		t.Fatalf("key should still be live before its TTL")
	}

	*now = now.Add(2 * time.Second)
	if _, found, _ := m.Get(ctx, "k"); found {
		t.Fatalf("key should be gone after its TTL")
	}
	if exists, _ := m.Exists(ctx, "k"); exists {
		t.Fatalf("Exists should not see an expired key")
	}
}

func TestMemorySetNX(t *testing.T) {
	m, now := newTestMemory()
	ctx := context.Background()

	ok, _ := m.SetNX(ctx, "lock", "a", time.Minute)
	if !ok {
		t.Fatalf("first SetNX should win")
	}

	ok, _ = m.SetNX(ctx, "lock", "b", time.Minute)
	if ok {
		t.Fatalf("second SetNX should lose while the key is live")
	}

	value, _, _ := m.Get(ctx, "lock")
	if value != "a" {
		t.Fatalf("losing SetNX must not overwrite; got %v", value)
	}

	*now = now.Add(2 * time.Minute)
	ok, _ = m.SetNX(ctx, "lock", "b", time.Minute)
	if !ok {
		t.Fatalf("SetNX should win once the previous token expired")
	}
}

func TestMemoryExpire(t *testing.T) {
	m, now := newTestMemory()
	ctx := context.Background()

	if ok, _ := m.Expire(ctx, "missing", time.Minute); ok {
		t.Fatalf("Expire on a missing key should return false")
	}

	m.Set(ctx, "k", "v", Forever)
	if ok, _ := m.Expire(ctx, "k", time.Minute); !ok {
		t.Fatalf("Expire on a live key should return true")
	}

	*now = now.Add(2 * time.Minute)
	if _, found, _ := m.Get(ctx, "k"); found {
		t.Fatalf("key should honor the reapplied TTL")
	}
}

func TestMemoryDelete(t *testing.T) {
	m, _ := newTestMemory()
	ctx := context.Background()

	m.Set(ctx, "k", "v", Forever)

	if existed, _ := m.Delete(ctx, "k"); !existed {
		t.Fatalf("Delete should report that the key existed")
	}
	if existed, _ := m.Delete(ctx, "k"); existed {
		t.Fatalf("Delete should report absence the second time")
	}
}

func TestMemoryZAddIdempotentPerMember(t *testing.T) {
	m, _ := newTestMemory()
	ctx := context.Background()

	added, _ := m.ZAdd(ctx, "s", 1, "a", Forever)
	if added != 1 {
		t.Fatalf("first ZAdd should add one member, added %v", added)
	}

	added, _ = m.ZAdd(ctx, "s", 5, "a", Forever)
	if added != 0 {
		t.Fatalf("re-adding a member should update in place, added %v", added)
	}

	count, _ := m.ZCard(ctx, "s")
	if count != 1 {
		t.Fatalf("ZCard == %v, want 1", count)
	}

	members, _ := m.ZRangeWithScores(ctx, "s", 0, -1)
	if len(members) != 1 || members[0].Score != 5 {
		t.Fatalf("member score should be updated to 5, got %+v", members)
	}
}

func TestMemoryZRangeSortedAscending(t *testing.T) {
	m, _ := newTestMemory()
	ctx := context.Background()

	m.ZAdd(ctx, "s", 30, "c", Forever)
	m.ZAdd(ctx, "s", 10, "a", Forever)
	m.ZAdd(ctx, "s", 20, "b", Forever)

	members, _ := m.ZRange(ctx, "s", 0, -1)
	want := []string{"a", "b", "c"}
	if len(members) != len(want) {
		t.Fatalf("ZRange returned %v members, want %v", len(members), len(want))
	}
	for i := range want {
		if members[i] != want[i] {
			t.Fatalf("ZRange[%v] == %v, want %v", i, members[i], want[i])
		}
	}
}

func TestMemoryZRangeTiesKeepInsertionOrder(t *testing.T) {
	m, _ := newTestMemory()
	ctx := context.Background()

	m.ZAdd(ctx, "s", 7, "first", Forever)
	m.ZAdd(ctx, "s", 7, "second", Forever)
	m.ZAdd(ctx, "s", 7, "third", Forever)

	members, _ := m.ZRange(ctx, "s", 0, -1)
	want := []string{"first", "second", "third"}
	for i := range want {
		if members[i] != want[i] {
			t.Fatalf("tied members out of insertion order: %v", members)
		}
	}
}

func TestMemoryZRemoveByScoreRange(t *testing.T) {
	m, _ := newTestMemory()
	ctx := context.Background()

	for i, member := range []string{"a", "b", "c", "d"} {
		m.ZAdd(ctx, "s", float64(i*10), member, Forever)
	}

	removed, _ := m.ZRemoveByScoreRange(ctx, "s", 10, 20)
	if removed != 2 {
		t.Fatalf("removed %v members, want 2", removed)
	}

	removed, _ = m.ZRemoveByScoreRange(ctx, "s", math.Inf(-1), math.Inf(1))
	if removed != 2 {
		t.Fatalf("infinite range should remove the remaining 2, removed %v", removed)
	}

	count, _ := m.ZCard(ctx, "s")
	if count != 0 {
		t.Fatalf("ZCard == %v after removing everything, want 0", count)
	}
}

func TestMemoryZRemoveByRankRange(t *testing.T) {
	m, _ := newTestMemory()
	ctx := context.Background()

	for i, member := range []string{"a", "b", "c", "d", "e"} {
		m.ZAdd(ctx, "s", float64(i), member, Forever)
	}

	// Negative ranks index from the end.
	removed, _ := m.ZRemoveByRankRange(ctx, "s", -2, -1)
	if removed != 2 {
		t.Fatalf("removed %v members, want 2", removed)
	}

	members, _ := m.ZRange(ctx, "s", 0, -1)
	if len(members) != 3 || members[2] != "c" {
		t.Fatalf("highest-ranked members should be gone, got %v", members)
	}

	removed, _ = m.ZRemoveByRankRange(ctx, "s", 0, 0)
	if removed != 1 {
		t.Fatalf("removed %v members, want 1", removed)
	}

	members, _ = m.ZRange(ctx, "s", 0, -1)
	if len(members) != 2 || members[0] != "b" {
		t.Fatalf("lowest-ranked member should be gone, got %v", members)
	}
}

func TestMemoryZRemoveByRankRangeInvalidRangesAreNoOps(t *testing.T) {
	m, _ := newTestMemory()
	ctx := context.Background()

	m.ZAdd(ctx, "s", 1, "a", Forever)
	m.ZAdd(ctx, "s", 2, "b", Forever)

	cases := []struct{ start, stop int64 }{
		{5, 10},   // entirely past the end
		{3, 1},    // start beyond stop
		{-10, -5}, // entirely before the start
	}

	for _, tc := range cases {
		removed, err := m.ZRemoveByRankRange(ctx, "s", tc.start, tc.stop)
		if err != nil {
			t.Fatalf("invalid range (%v, %v) must not error: %v", tc.start, tc.stop, err)
		}
		if removed != 0 {
			t.Fatalf("invalid range (%v, %v) removed %v members", tc.start, tc.stop, removed)
		}
	}

	count, _ := m.ZCard(ctx, "s")
	if count != 2 {
		t.Fatalf("ZCard == %v after no-op removals, want 2", count)
	}
}

func TestMemoryZCardTracksMutations(t *testing.T) {
	m, _ := newTestMemory()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		m.ZAdd(ctx, "s", float64(i), string(rune('a'+i)), Forever)
	}
	m.ZRemoveByScoreRange(ctx, "s", 0, 2)
	m.ZRemoveByRankRange(ctx, "s", -1, -1)
	m.ZAdd(ctx, "s", 100, "z", Forever)

	count, _ := m.ZCard(ctx, "s")
	if count != 7 {
		t.Fatalf("ZCard == %v, want 7", count)
	}
}

func TestMemoryZSetTTL(t *testing.T) {
	m, now := newTestMemory()
	ctx := context.Background()

	m.ZAdd(ctx, "s", 1, "a", time.Minute)

	*now = now.Add(2 * time.Minute)
	count, _ := m.ZCard(ctx, "s")
	if count != 0 {
		t.Fatalf("ordered set should expire as a whole, ZCard == %v", count)
	}
}

func TestMemoryBatchSequentialSemantics(t *testing.T) {
	m, _ := newTestMemory()
	ctx := context.Background()

	results, err := m.Batch(ctx, []Op{
		{Kind: OpSet, Key: "k", Value: "v"},
		{Kind: OpGet, Key: "k"},
		{Kind: OpZAdd, Key: "s", Score: 1, Member: "a"},
		{Kind: OpZAdd, Key: "s", Score: 2, Member: "b"},
		{Kind: OpZCard, Key: "s"},
		{Kind: OpZRemoveByRankRange, Key: "s", Start: 0, Stop: 0},
		{Kind: OpZCard, Key: "s"},
		{Kind: OpDelete, Key: "k"},
	})
	if err != nil {
		t.Fatalf("Batch returned unexpected error: %v", err)
	}

	if !results[1].Found || results[1].Value != "v" {
		t.Fatalf("batched Get should see the preceding Set, got %+v", results[1])
	}
	if results[4].Count != 2 {
		t.Fatalf("batched ZCard == %v, want 2", results[4].Count)
	}
	if results[6].Count != 1 {
		t.Fatalf("batched ZCard after removal == %v, want 1", results[6].Count)
	}
	if !results[7].Found {
		t.Fatalf("batched Delete should report the key existed")
	}
}
