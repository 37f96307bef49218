package bantrie

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/TheRealMkadmi/citadel/ipaddresses"
	"github.com/TheRealMkadmi/citadel/store"
)

// IPv4 addresses walk at most 32 bits deep.
const ipSize = 32

// Range is the ban metadata attached to a trie node that terminates an
// inserted prefix.
type Range struct {
	Start     uint32 `json:"start"`
	End       uint32 `json:"end"`
	ExpiresAt int64  `json:"expiresAt"` // unix ms, 0 = permanent
}

// Trie maps CIDR ranges to ban metadata with O(prefix length) lookups,
// independent of the number of stored ranges. Nodes live in a keyed store as
// two relations: (parent path, bit) -> child marker, and node path -> range
// metadata. Node ids are the deterministic bit path from the root, so
// concurrent inserts of the same prefix converge without locking.
type Trie struct {
	logger zerolog.Logger
	store  store.Store
	prefix string
	now    func() time.Time
}

// New creates a trie whose keys all start with the given prefix.
func New(logger zerolog.Logger, st store.Store, prefix string) *Trie {
	return &Trie{
		logger: logger,
		store:  st,
		prefix: prefix,
		now:    time.Now,
	}
}

func (t *Trie) childKey(path string, bit int) string {
	return fmt.Sprintf("%s:child:%s:%d", t.prefix, path, bit)
}

func (t *Trie) metaKey(path string) string {
	return t.prefix + ":meta:" + path
}

// Insert adds a CIDR range (or a bare IP, treated as /32) to the trie. A zero
// expiresAt means the ban is permanent. Re-inserting a prefix overwrites its
// metadata.
func (t *Trie) Insert(ctx context.Context, cidr string, expiresAt time.Time) error {
	start, end, bits, err := ipaddresses.ParsePrefix(cidr)
	if err != nil {
		return err
	}

	path := ""
	for depth := 0; depth < bits; depth++ {
		bit := ipaddresses.BitAt(start, depth)
		childPath := path + bitChar(bit)
		// Idempotent per (parent, bit): concurrent inserts write the same
		// deterministic child id.
		if err := t.store.Set(ctx, t.childKey(path, bit), childPath, store.Forever); err != nil {
			return err
		}
		path = childPath
	}

	r := Range{Start: start, End: end}
	if !expiresAt.IsZero() {
		r.ExpiresAt = expiresAt.UnixMilli()
	}
	encoded, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return t.store.Set(ctx, t.metaKey(path), string(encoded), store.Forever)
}

// Contains reports whether ip falls inside any unexpired inserted range.
// Expiry is lazy: expired ranges simply stop matching, no sweep needed.
func (t *Trie) Contains(ctx context.Context, ip string) (bool, error) {
	ipInt, err := ipaddresses.ParseIPAddress(ip)
	if err != nil {
		return false, err
	}

	// Walk the query IP's bits; every reachable node therefore represents a
	// prefix of the IP, which is exactly the containment relation. Track the
	// deepest node with metadata: the final reached node may be a plain
	// interior node.
	var deepest *Range
	path := ""
	for depth := 0; depth <= ipSize; depth++ {
		r, found, err := t.rangeAt(ctx, path)
		if err != nil {
			return false, err
		}
		if found {
			deepest = &r
		}

		if depth == ipSize {
			break
		}

		bit := ipaddresses.BitAt(ipInt, depth)
		_, childExists, err := t.store.Get(ctx, t.childKey(path, bit))
		if err != nil {
			return false, err
		}
		if !childExists {
			break
		}
		path += bitChar(bit)
	}

	if deepest == nil {
		return false, nil
	}
	if deepest.ExpiresAt > 0 && t.now().UnixMilli() >= deepest.ExpiresAt {
		return false, nil
	}
	if ipInt < deepest.Start || ipInt > deepest.End {
		// Should not happen for correctly inserted ranges.
		t.logger.Warn().Str("ip", ip).Msg("trie walk reached a range that does not contain the query IP")
		return false, nil
	}
	return true, nil
}

// Remove detaches the range metadata for an exact previously inserted prefix,
// reporting whether it was present. Interior nodes stay; lookups treat a
// metadata-less node as "not banned".
func (t *Trie) Remove(ctx context.Context, cidr string) (bool, error) {
	start, _, bits, err := ipaddresses.ParsePrefix(cidr)
	if err != nil {
		return false, err
	}

	path := ""
	for depth := 0; depth < bits; depth++ {
		path += bitChar(ipaddresses.BitAt(start, depth))
	}
	return t.store.Delete(ctx, t.metaKey(path))
}

func (t *Trie) rangeAt(ctx context.Context, path string) (r Range, found bool, err error) {
	encoded, found, err := t.store.Get(ctx, t.metaKey(path))
	if err != nil || !found {
		return Range{}, false, err
	}
	if err := json.Unmarshal([]byte(encoded), &r); err != nil {
		// Treated as "not banned", never as a lookup error.
		t.logger.Warn().Err(err).Str("path", path).Msg("undecodable trie range metadata")
		return Range{}, false, nil
	}
	return r, true, nil
}

func bitChar(bit int) string {
	if bit == 1 {
		return "1"
	}
	return "0"
}
