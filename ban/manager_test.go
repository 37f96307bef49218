package ban

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/TheRealMkadmi/citadel/bantrie"
	"github.com/TheRealMkadmi/citadel/store"
	"github.com/TheRealMkadmi/citadel/testutils"
)

func newTestManager(t *testing.T) Manager {
	logger := testutils.NewTestLogger(t)
	st := store.NewMemory()
	trie := bantrie.New(logger, st, "citadel:trie")
	return NewManager(logger, st, trie, "citadel:ban")
}

func TestBanUnbanRoundTrip(t *testing.T) {
	assert := assert.New(t)
	mgr := newTestManager(t)
	ctx := context.Background()

	for _, tc := range []struct {
		identifier string
		typ        IdentifierType
	}{
		{"1.2.3.4", TypeIP},
		{"10.0.0.0/24", TypeIP},
		{"Device Fingerprint #42", TypeFingerprint},
	} {
		err := mgr.Ban(ctx, tc.identifier, tc.typ, 0, "test")
		assert.NoError(err, tc.identifier)

		banned, err := mgr.IsBanned(ctx, tc.identifier, tc.typ)
		assert.NoError(err)
		assert.True(banned, "%v should be banned after Ban", tc.identifier)

		existed, err := mgr.Unban(ctx, tc.identifier, tc.typ)
		assert.NoError(err)
		assert.True(existed, "%v should have existed on Unban", tc.identifier)

		banned, _ = mgr.IsBanned(ctx, tc.identifier, tc.typ)
		assert.False(banned, "%v should not be banned after Unban", tc.identifier)
	}
}

func TestBanTTLExpires(t *testing.T) {
	assert := assert.New(t)
	mgr := newTestManager(t)
	ctx := context.Background()

	err := mgr.Ban(ctx, "5.6.7.8", TypeIP, 20*time.Millisecond, "short ban")
	assert.NoError(err)

	banned, _ := mgr.IsBanned(ctx, "5.6.7.8", TypeIP)
	assert.True(banned)

	time.Sleep(40 * time.Millisecond)

	banned, _ = mgr.IsBanned(ctx, "5.6.7.8", TypeIP)
	assert.False(banned, "ban should lapse after its TTL")
}

func TestCIDRBanCoversContainedIPs(t *testing.T) {
	assert := assert.New(t)
	mgr := newTestManager(t)
	ctx := context.Background()

	mgr.Ban(ctx, "10.0.0.0/24", TypeIP, 0, "bad subnet")

	banned, _ := mgr.IsBanned(ctx, "10.0.0.77", TypeIP)
	assert.True(banned, "IP inside a banned CIDR should be banned")

	banned, _ = mgr.IsIPBanned(ctx, "10.0.0.77")
	assert.True(banned)

	banned, _ = mgr.IsIPBanned(ctx, "10.0.1.77")
	assert.False(banned)
}

func TestGetBan(t *testing.T) {
	assert := assert.New(t)
	mgr := newTestManager(t)
	ctx := context.Background()

	record, err := mgr.GetBan(ctx, "1.2.3.4", TypeIP)
	assert.NoError(err)
	assert.Nil(record, "GetBan on an unbanned identifier should return nil")

	mgr.Ban(ctx, "1.2.3.4", TypeIP, time.Hour, "scraping")

	record, err = mgr.GetBan(ctx, "1.2.3.4", TypeIP)
	assert.NoError(err)
	if assert.NotNil(record) {
		assert.Equal(TypeIP, record.Type)
		assert.Equal("1.2.3.4", record.Identifier)
		assert.Equal("scraping", record.Reason)
		assert.Greater(record.ExpiresAt, record.CreatedAt)
	}
}

func TestInvalidInputRejectedSynchronously(t *testing.T) {
	assert := assert.New(t)
	mgr := newTestManager(t)
	ctx := context.Background()

	err := mgr.Ban(ctx, "999.1.2.3", TypeIP, 0, "bad ip")
	assert.ErrorIs(err, ErrInvalidIdentifier)

	err = mgr.Ban(ctx, "1.2.3.4", IdentifierType("asn"), 0, "bad type")
	assert.ErrorIs(err, ErrUnknownType)

	err = mgr.Ban(ctx, "   ", TypeFingerprint, 0, "empty")
	assert.ErrorIs(err, ErrInvalidIdentifier)

	banned, _ := mgr.IsBanned(ctx, "1.2.3.4", TypeIP)
	assert.False(banned, "rejected bans must leave no partial state")
}

func TestFingerprintNormalization(t *testing.T) {
	assert := assert.New(t)
	mgr := newTestManager(t)
	ctx := context.Background()

	mgr.Ban(ctx, "  Device Fingerprint #42  ", TypeFingerprint, 0, "test")

	// Different spellings of the same identifier hit the same registry key.
	banned, _ := mgr.IsBanned(ctx, "device fingerprint 42", TypeFingerprint)
	assert.True(banned)

	banned, _ = mgr.IsFingerprintBanned(ctx, "DEVICE__FINGERPRINT__42")
	assert.True(banned)
}

func TestAutoBanDetectsType(t *testing.T) {
	assert := assert.New(t)
	mgr := newTestManager(t)
	ctx := context.Background()

	assert.NoError(mgr.AutoBan(ctx, "9.8.7.6", time.Hour, "high score"))
	banned, _ := mgr.IsIPBanned(ctx, "9.8.7.6")
	assert.True(banned, "auto-banned IP should be in the trie")

	assert.NoError(mgr.AutoBan(ctx, "fp-abcdef", time.Hour, "high score"))
	banned, _ = mgr.IsFingerprintBanned(ctx, "fp-abcdef")
	assert.True(banned)
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Device Fingerprint #42": "device-fingerprint-42",
		"  spaced  out  ":        "spaced-out",
		"already-slugged":        "already-slugged",
		"___":                    "",
		"MiXeD":                  "mixed",
	}

	for in, want := range tests {
		if got := Slugify(in); got != want {
			t.Fatalf("Slugify(%q) == %q, want %q", in, got, want)
		}
	}
}
