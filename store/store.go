package store

import (
	"context"
	"time"
)

// Forever disables expiry when passed as a TTL.
const Forever time.Duration = 0

// Member is an ordered-set member together with its score.
type Member struct {
	Value string
	Score float64
}

// OpKind identifies the operation a batch Op performs.
type OpKind int

// Batchable operation kinds.
const (
	OpGet OpKind = iota
	OpSet
	OpDelete
	OpExpire
	OpZAdd
	OpZRemoveByScoreRange
	OpZRemoveByRankRange
	OpZCard
)

// Op is one operation in a Batch call. Only the fields relevant to Kind are
// read.
type Op struct {
	Kind   OpKind
	Key    string
	Value  string
	TTL    time.Duration
	Score  float64
	Member string
	Min    float64
	Max    float64
	Start  int64
	Stop   int64
}

// Result is the outcome of one batched Op, in the same position as its Op.
type Result struct {
	Value string
	Found bool
	Count int64
	Err   error
}

// Store is a keyed store with TTL'd values and ordered (score-member) sets.
// All backends satisfy identical external semantics; weaker backends emulate
// ordered sets internally, which is acceptable because set sizes are bounded
// by the burstiness window.
//
// Rank arguments follow array-style indexing: negative ranks index from the
// end (-1 is the highest-scored member). Invalid rank ranges (start beyond
// stop after normalization, or entirely out of bounds) affect nothing and do
// not error. Score range sentinels are math.Inf(-1) and math.Inf(1).
type Store interface {
	// Get returns the value stored at key, or found == false if the key is
	// absent or expired.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set stores value at key. A TTL <= 0 means no expiry.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// SetNX stores value at key only if the key is absent, returning whether
	// the write happened. Used as a mutual-exclusion token.
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)

	// Delete removes key, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// Expire reapplies a TTL to an existing key without changing its value.
	// Returns false if the key is absent.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// ZAdd inserts a member into the ordered set at key, or updates its score
	// if already present. Idempotent per member. A TTL > 0 refreshes the
	// expiry of the whole set. Returns the number of members newly added
	// (0 or 1).
	ZAdd(ctx context.Context, key string, score float64, member string, ttl time.Duration) (int64, error)

	// ZRemoveByScoreRange removes all members with min <= score <= max.
	ZRemoveByScoreRange(ctx context.Context, key string, min, max float64) (int64, error)

	// ZRemoveByRankRange removes all members between the given ranks,
	// inclusive.
	ZRemoveByRankRange(ctx context.Context, key string, start, stop int64) (int64, error)

	// ZCard returns the number of members in the ordered set at key.
	ZCard(ctx context.Context, key string) (int64, error)

	// ZRange returns the members between the given ranks, inclusive, ordered
	// by ascending score.
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// ZRangeWithScores is ZRange with each member's score attached.
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]Member, error)

	// Batch executes the given ops as one logical unit and returns one Result
	// per Op, in order. Atomicity is backend-dependent: backends with native
	// batching execute the ops atomically, others degrade to sequential
	// execution with the same observable result ordering. No cross-op
	// atomicity is promised beyond backend capability.
	Batch(ctx context.Context, ops []Op) ([]Result, error)
}
