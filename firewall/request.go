package firewall

import (
	"io"
	"strings"
)

// HeaderPair represents a header line in an HTTP request.
type HeaderPair interface {
	Key() string
	Value() string
}

// Request represents a normalized inbound request to be evaluated by the
// firewall. It is produced by the transport layer and read-only to the core.
type Request interface {
	// Identity is the opaque correlation key for scoring, caching and
	// banning: a client fingerprint when the transport can compute one,
	// otherwise the remote IP.
	Identity() string
	RemoteAddr() string
	Method() string
	URI() string
	Headers() []HeaderPair
	HasBody() bool
	BodyReader() io.Reader
	TransactionID() string
}

// NormalizeIdentity canonicalizes an identity before it is used as a storage
// key component.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
