package gateway

import (
	"io"
	"net"
	"net/http"

	"github.com/google/uuid"

	"github.com/TheRealMkadmi/citadel/firewall"
)

type headerPair struct {
	key   string
	value string
}

func (h headerPair) Key() string   { return h.key }
func (h headerPair) Value() string { return h.value }

// httpRequest adapts a net/http request into the firewall's normalized
// request shape.
type httpRequest struct {
	inner    *http.Request
	identity string
	txid     string
}

func newRequest(r *http.Request, fingerprintHeader string) *httpRequest {
	identity := r.Header.Get(fingerprintHeader)
	if identity == "" {
		identity = clientIP(r)
	}
	return &httpRequest{
		inner:    r,
		identity: identity,
		txid:     uuid.NewString(),
	}
}

func (r *httpRequest) Identity() string { return r.identity }

func (r *httpRequest) RemoteAddr() string { return clientIP(r.inner) }

func (r *httpRequest) Method() string { return r.inner.Method }

func (r *httpRequest) URI() string { return r.inner.RequestURI }

func (r *httpRequest) Headers() []firewall.HeaderPair {
	var headers []firewall.HeaderPair
	for key, values := range r.inner.Header {
		for _, value := range values {
			headers = append(headers, headerPair{key: key, value: value})
		}
	}
	return headers
}

func (r *httpRequest) HasBody() bool {
	// ContentLength is -1 for chunked bodies.
	return r.inner.ContentLength > 0 || r.inner.ContentLength == -1
}

func (r *httpRequest) BodyReader() io.Reader { return r.inner.Body }

func (r *httpRequest) TransactionID() string { return r.txid }

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
