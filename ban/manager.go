package ban

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/TheRealMkadmi/citadel/bantrie"
	"github.com/TheRealMkadmi/citadel/ipaddresses"
	"github.com/TheRealMkadmi/citadel/store"
)

// IdentifierType says what kind of identifier a ban applies to.
type IdentifierType string

// Supported identifier types.
const (
	TypeIP          IdentifierType = "ip"
	TypeFingerprint IdentifierType = "fingerprint"
)

// Validation errors returned before any state is written.
var (
	ErrInvalidIdentifier = errors.New("invalid ban identifier")
	ErrUnknownType       = errors.New("unknown ban identifier type")
)

// Record is the stored metadata of one ban.
type Record struct {
	Type       IdentifierType `json:"type"`
	Identifier string         `json:"identifier"`
	Reason     string         `json:"reason"`
	CreatedAt  int64          `json:"createdAt"`           // unix ms
	ExpiresAt  int64          `json:"expiresAt,omitempty"` // unix ms, 0 = permanent
}

// Manager is the administrative ban API. IP identifiers accept bare IPs or
// CIDR notation; both are routed into the ban trie. Fingerprints live in a
// flat registry keyed by a slugified identifier.
type Manager interface {
	Ban(ctx context.Context, identifier string, typ IdentifierType, ttl time.Duration, reason string) error
	Unban(ctx context.Context, identifier string, typ IdentifierType) (bool, error)
	IsBanned(ctx context.Context, identifier string, typ IdentifierType) (bool, error)
	GetBan(ctx context.Context, identifier string, typ IdentifierType) (*Record, error)

	// IsIPBanned and IsFingerprintBanned serve the per-request ban check.
	IsIPBanned(ctx context.Context, ip string) (bool, error)
	IsFingerprintBanned(ctx context.Context, fingerprint string) (bool, error)

	// AutoBan bans an identity on behalf of the risk engine, deciding the
	// identifier type from its shape.
	AutoBan(ctx context.Context, identity string, ttl time.Duration, reason string) error
}

type managerImpl struct {
	logger zerolog.Logger
	store  store.Store
	trie   *bantrie.Trie
	prefix string
	now    func() time.Time
}

// NewManager creates a ban manager whose flat registry keys all start with
// the given prefix, in the stable format "<prefix>:<type>:<identifier>".
func NewManager(logger zerolog.Logger, st store.Store, trie *bantrie.Trie, prefix string) Manager {
	return &managerImpl{
		logger: logger,
		store:  st,
		trie:   trie,
		prefix: prefix,
		now:    time.Now,
	}
}

func (m *managerImpl) key(typ IdentifierType, normalized string) string {
	return fmt.Sprintf("%s:%s:%s", m.prefix, typ, normalized)
}

// normalize canonicalizes an identifier and rejects invalid input before any
// state is written.
func (m *managerImpl) normalize(identifier string, typ IdentifierType) (string, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" {
		return "", ErrInvalidIdentifier
	}

	switch typ {
	case TypeIP:
		if _, _, _, err := ipaddresses.ParsePrefix(identifier); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidIdentifier, err)
		}
		return identifier, nil
	case TypeFingerprint:
		slug := Slugify(identifier)
		if slug == "" {
			return "", ErrInvalidIdentifier
		}
		return slug, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
}

func (m *managerImpl) Ban(ctx context.Context, identifier string, typ IdentifierType, ttl time.Duration, reason string) error {
	normalized, err := m.normalize(identifier, typ)
	if err != nil {
		return err
	}

	now := m.now()
	record := Record{
		Type:       typ,
		Identifier: normalized,
		Reason:     reason,
		CreatedAt:  now.UnixMilli(),
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
		record.ExpiresAt = expiresAt.UnixMilli()
	}

	if typ == TypeIP {
		if err := m.trie.Insert(ctx, normalized, expiresAt); err != nil {
			return err
		}
	}

	encoded, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, m.key(typ, normalized), string(encoded), ttl); err != nil {
		return err
	}

	m.logger.Info().Str("identifier", normalized).Str("type", string(typ)).Dur("ttl", ttl).Str("reason", reason).Msg("ban written")
	return nil
}

func (m *managerImpl) Unban(ctx context.Context, identifier string, typ IdentifierType) (bool, error) {
	normalized, err := m.normalize(identifier, typ)
	if err != nil {
		return false, err
	}

	existed, err := m.store.Delete(ctx, m.key(typ, normalized))
	if err != nil {
		return false, err
	}

	if typ == TypeIP {
		removed, err := m.trie.Remove(ctx, normalized)
		if err != nil {
			return existed, err
		}
		existed = existed || removed
	}

	if existed {
		m.logger.Info().Str("identifier", normalized).Str("type", string(typ)).Msg("ban removed")
	}
	return existed, nil
}

func (m *managerImpl) IsBanned(ctx context.Context, identifier string, typ IdentifierType) (bool, error) {
	normalized, err := m.normalize(identifier, typ)
	if err != nil {
		return false, err
	}

	// A bare IP may be covered by a wider banned range, so it goes through
	// the trie. CIDR identifiers and fingerprints are direct registry hits.
	if typ == TypeIP && !strings.ContainsRune(normalized, '/') {
		return m.trie.Contains(ctx, normalized)
	}

	record, err := m.getRecord(ctx, typ, normalized)
	if err != nil {
		return false, err
	}
	return record != nil, nil
}

func (m *managerImpl) GetBan(ctx context.Context, identifier string, typ IdentifierType) (*Record, error) {
	normalized, err := m.normalize(identifier, typ)
	if err != nil {
		return nil, err
	}
	return m.getRecord(ctx, typ, normalized)
}

func (m *managerImpl) getRecord(ctx context.Context, typ IdentifierType, normalized string) (*Record, error) {
	encoded, found, err := m.store.Get(ctx, m.key(typ, normalized))
	if err != nil || !found {
		return nil, err
	}

	var record Record
	if err := json.Unmarshal([]byte(encoded), &record); err != nil {
		m.logger.Warn().Err(err).Str("identifier", normalized).Msg("undecodable ban record")
		return nil, nil
	}

	// The store's TTL normally handles expiry; the record timestamp covers
	// backends with coarser clocks.
	if record.ExpiresAt > 0 && m.now().UnixMilli() >= record.ExpiresAt {
		return nil, nil
	}
	return &record, nil
}

func (m *managerImpl) IsIPBanned(ctx context.Context, ip string) (bool, error) {
	ip = strings.TrimSpace(ip)
	if _, err := ipaddresses.ParseIPAddress(ip); err != nil {
		// Non-IPv4 remote addresses cannot hit the trie.
		return false, nil
	}
	return m.trie.Contains(ctx, ip)
}

func (m *managerImpl) IsFingerprintBanned(ctx context.Context, fingerprint string) (bool, error) {
	slug := Slugify(fingerprint)
	if slug == "" {
		return false, nil
	}
	record, err := m.getRecord(ctx, TypeFingerprint, slug)
	if err != nil {
		return false, err
	}
	return record != nil, nil
}

func (m *managerImpl) AutoBan(ctx context.Context, identity string, ttl time.Duration, reason string) error {
	typ := TypeFingerprint
	if _, err := ipaddresses.ParseIPAddress(strings.TrimSpace(identity)); err == nil {
		typ = TypeIP
	}
	return m.Ban(ctx, identity, typ, ttl, reason)
}

// Slugify reduces an identifier to lowercase alphanumerics separated by
// single dashes, giving stable registry keys for arbitrary fingerprints.
func Slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
