package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/TheRealMkadmi/citadel/firewall"
)

type blockedResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Middleware evaluates every request through the firewall engine before
// handing it to next. Blocked requests get a 403 JSON response; the engine's
// own fail-open/closed policy already covers backend trouble, so an engine
// error here only gets logged.
func Middleware(logger zerolog.Logger, engine firewall.Engine, metrics *Metrics, fingerprintHeader string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := newRequest(r, fingerprintHeader)

		decision, err := engine.EvalRequest(r.Context(), req)
		if err != nil {
			logger.Error().Err(err).Str("txid", req.TransactionID()).Msg("engine evaluation error")
		}
		if metrics != nil {
			metrics.observe(decision)
		}

		if !decision.Allow {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(blockedResponse{
				Status:  "blocked",
				Message: "request rejected by firewall",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
