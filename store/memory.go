package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryValue struct {
	value     string
	expiresAt time.Time
}

type memoryZSetEntry struct {
	member string
	score  float64
	seq    uint64
}

type memoryZSet struct {
	entries   []memoryZSetEntry
	expiresAt time.Time
}

// memoryStore is an in-process Store backed by plain maps. Ordered sets are
// kept as a slice re-sorted on mutation; score ties keep insertion order.
// Expiry is lazy: expired keys are dropped when touched.
type memoryStore struct {
	mu     sync.Mutex
	values map[string]memoryValue
	zsets  map[string]*memoryZSet
	seq    uint64
	now    func() time.Time
}

// NewMemory creates an in-process Store. Batch executes sequentially; there
// is no cross-op atomicity.
func NewMemory() Store {
	return &memoryStore{
		values: make(map[string]memoryValue),
		zsets:  make(map[string]*memoryZSet),
		now:    time.Now,
	}
}

// liveValue returns the unexpired value entry for key, dropping it if expired.
// Caller must hold mu.
func (m *memoryStore) liveValue(key string) (memoryValue, bool) {
	v, ok := m.values[key]
	if !ok {
		return memoryValue{}, false
	}
	if !v.expiresAt.IsZero() && !m.now().Before(v.expiresAt) {
		delete(m.values, key)
		return memoryValue{}, false
	}
	return v, true
}

// liveZSet returns the unexpired ordered set for key, dropping it if expired.
// Caller must hold mu.
func (m *memoryStore) liveZSet(key string) (*memoryZSet, bool) {
	z, ok := m.zsets[key]
	if !ok {
		return nil, false
	}
	if !z.expiresAt.IsZero() && !m.now().Before(z.expiresAt) {
		delete(m.zsets, key)
		return nil, false
	}
	return z, true
}

func (m *memoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.liveValue(key)
	if !ok {
		return "", false, nil
	}
	return v.value, true, nil
}

func (m *memoryStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = memoryValue{value: value, expiresAt: m.expiry(ttl)}
	return nil
}

func (m *memoryStore) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.liveValue(key); ok {
		return false, nil
	}
	m.values[key] = memoryValue{value: value, expiresAt: m.expiry(ttl)}
	return true, nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, hadValue := m.liveValue(key)
	delete(m.values, key)

	_, hadZSet := m.liveZSet(key)
	delete(m.zsets, key)

	return hadValue || hadZSet, nil
}

func (m *memoryStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.liveValue(key); ok {
		return true, nil
	}
	_, ok := m.liveZSet(key)
	return ok, nil
}

func (m *memoryStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.liveValue(key); ok {
		v.expiresAt = m.expiry(ttl)
		m.values[key] = v
		return true, nil
	}
	if z, ok := m.liveZSet(key); ok {
		z.expiresAt = m.expiry(ttl)
		return true, nil
	}
	return false, nil
}

func (m *memoryStore) ZAdd(ctx context.Context, key string, score float64, member string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	z, ok := m.liveZSet(key)
	if !ok {
		z = &memoryZSet{}
		m.zsets[key] = z
	}
	if ttl > 0 {
		z.expiresAt = m.now().Add(ttl)
	}

	var added int64
	found := false
	for i := range z.entries {
		if z.entries[i].member == member {
			z.entries[i].score = score
			found = true
			break
		}
	}
	if !found {
		m.seq++
		z.entries = append(z.entries, memoryZSetEntry{member: member, score: score, seq: m.seq})
		added = 1
	}

	sort.SliceStable(z.entries, func(i, j int) bool {
		if z.entries[i].score != z.entries[j].score {
			return z.entries[i].score < z.entries[j].score
		}
		return z.entries[i].seq < z.entries[j].seq
	})

	return added, nil
}

func (m *memoryStore) ZRemoveByScoreRange(ctx context.Context, key string, min, max float64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	z, ok := m.liveZSet(key)
	if !ok {
		return 0, nil
	}

	kept := z.entries[:0]
	var removed int64
	for _, e := range z.entries {
		if e.score >= min && e.score <= max {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	z.entries = kept

	if len(z.entries) == 0 {
		delete(m.zsets, key)
	}
	return removed, nil
}

func (m *memoryStore) ZRemoveByRankRange(ctx context.Context, key string, start, stop int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	z, ok := m.liveZSet(key)
	if !ok {
		return 0, nil
	}

	i, j, ok := normalizeRanks(int64(len(z.entries)), start, stop)
	if !ok {
		return 0, nil
	}

	removed := j - i + 1
	z.entries = append(z.entries[:i], z.entries[j+1:]...)

	if len(z.entries) == 0 {
		delete(m.zsets, key)
	}
	return removed, nil
}

func (m *memoryStore) ZCard(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	z, ok := m.liveZSet(key)
	if !ok {
		return 0, nil
	}
	return int64(len(z.entries)), nil
}

func (m *memoryStore) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	members, err := m.ZRangeWithScores(ctx, key, start, stop)
	if err != nil {
		return nil, err
	}

	values := make([]string, len(members))
	for i, member := range members {
		values[i] = member.Value
	}
	return values, nil
}

func (m *memoryStore) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	z, ok := m.liveZSet(key)
	if !ok {
		return nil, nil
	}

	i, j, ok := normalizeRanks(int64(len(z.entries)), start, stop)
	if !ok {
		return nil, nil
	}

	members := make([]Member, 0, j-i+1)
	for _, e := range z.entries[i : j+1] {
		members = append(members, Member{Value: e.member, Score: e.score})
	}
	return members, nil
}

func (m *memoryStore) Batch(ctx context.Context, ops []Op) ([]Result, error) {
	results := make([]Result, len(ops))
	for i, op := range ops {
		results[i] = m.applyOp(ctx, op)
	}
	return results, nil
}

func (m *memoryStore) applyOp(ctx context.Context, op Op) (r Result) {
	switch op.Kind {
	case OpGet:
		r.Value, r.Found, r.Err = m.Get(ctx, op.Key)
	case OpSet:
		r.Err = m.Set(ctx, op.Key, op.Value, op.TTL)
	case OpDelete:
		r.Found, r.Err = m.Delete(ctx, op.Key)
	case OpExpire:
		r.Found, r.Err = m.Expire(ctx, op.Key, op.TTL)
	case OpZAdd:
		r.Count, r.Err = m.ZAdd(ctx, op.Key, op.Score, op.Member, op.TTL)
	case OpZRemoveByScoreRange:
		r.Count, r.Err = m.ZRemoveByScoreRange(ctx, op.Key, op.Min, op.Max)
	case OpZRemoveByRankRange:
		r.Count, r.Err = m.ZRemoveByRankRange(ctx, op.Key, op.Start, op.Stop)
	case OpZCard:
		r.Count, r.Err = m.ZCard(ctx, op.Key)
	}
	return
}

// normalizeRanks converts array-style rank arguments into a valid inclusive
// index pair for a collection of n elements. Negative ranks index from the
// end. Returns ok == false for ranges that select nothing.
func normalizeRanks(n, start, stop int64) (int64, int64, bool) {
	if n == 0 {
		return 0, 0, false
	}
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n || stop < 0 {
		return 0, 0, false
	}
	return start, stop, true
}
