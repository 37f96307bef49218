package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/TheRealMkadmi/citadel/firewall"
	"github.com/TheRealMkadmi/citadel/testutils"
)

type stubEngine struct {
	decision firewall.Decision
	lastReq  firewall.Request
}

func (e *stubEngine) EvalRequest(ctx context.Context, req firewall.Request) (firewall.Decision, error) {
	e.lastReq = req
	return e.decision, nil
}

func TestMiddlewareAllowsAndForwards(t *testing.T) {
	assert := assert.New(t)

	engine := &stubEngine{decision: firewall.Decision{Allow: true}}
	reached := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusNoContent)
	})

	handler := Middleware(testutils.NewTestLogger(t), engine, nil, "X-Client-Fingerprint", next)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/hello", nil))

	assert.True(reached, "allowed requests must reach the app")
	assert.Equal(http.StatusNoContent, rec.Code)
}

func TestMiddlewareBlocksWith403(t *testing.T) {
	assert := assert.New(t)

	engine := &stubEngine{decision: firewall.Decision{Allow: false, TotalScore: 120}}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("blocked requests must not reach the app")
	})

	handler := Middleware(testutils.NewTestLogger(t), engine, nil, "X-Client-Fingerprint", next)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/hello", nil))

	assert.Equal(http.StatusForbidden, rec.Code)
	assert.Equal("application/json", rec.Header().Get("Content-Type"))
	assert.Contains(rec.Body.String(), "blocked")
}

func TestMiddlewareCountsDecisions(t *testing.T) {
	assert := assert.New(t)

	metrics := NewMetrics(prometheus.NewRegistry())
	engine := &stubEngine{decision: firewall.Decision{Allow: false}}
	handler := Middleware(testutils.NewTestLogger(t), engine, metrics, "X-Client-Fingerprint", http.NotFoundHandler())

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	counter, err := metrics.decisions.GetMetricWithLabelValues("blocked")
	assert.NoError(err)
	assert.NotNil(counter)
}

func TestRequestAdapterIdentity(t *testing.T) {
	assert := assert.New(t)

	r := httptest.NewRequest("POST", "/submit", strings.NewReader("payload"))
	r.RemoteAddr = "203.0.113.9:4444"
	r.Header.Set("X-Client-Fingerprint", "fp-abc")

	req := newRequest(r, "X-Client-Fingerprint")
	assert.Equal("fp-abc", req.Identity(), "fingerprint header wins as identity")
	assert.Equal("203.0.113.9", req.RemoteAddr())
	assert.True(req.HasBody())
	assert.NotEmpty(req.TransactionID())

	// Without the header the identity falls back to the client IP.
	r.Header.Del("X-Client-Fingerprint")
	req = newRequest(r, "X-Client-Fingerprint")
	assert.Equal("203.0.113.9", req.Identity())
}

func TestRequestAdapterNoBody(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	req := newRequest(r, "X-Client-Fingerprint")
	if req.HasBody() {
		t.Fatalf("GET without a body should report HasBody == false")
	}
}
