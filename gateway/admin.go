package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/TheRealMkadmi/citadel/ban"
)

type banRequest struct {
	Identifier string `json:"identifier"`
	Type       string `json:"type"`
	TTLSeconds int64  `json:"ttlSeconds"`
	Reason     string `json:"reason"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewAdminRouter builds the administrative ban API:
//
//	POST   /bans                          create a ban
//	GET    /bans/{type}?identifier=...    fetch a ban record
//	DELETE /bans/{type}?identifier=...    remove a ban
//
// The identifier travels as a query parameter because CIDR identifiers
// contain slashes.
func NewAdminRouter(logger zerolog.Logger, manager ban.Manager) *mux.Router {
	h := &adminHandler{logger: logger, manager: manager}

	router := mux.NewRouter()
	router.HandleFunc("/bans", h.createBan).Methods(http.MethodPost)
	router.HandleFunc("/bans/{type}", h.getBan).Methods(http.MethodGet)
	router.HandleFunc("/bans/{type}", h.deleteBan).Methods(http.MethodDelete)
	return router
}

type adminHandler struct {
	logger  zerolog.Logger
	manager ban.Manager
}

func (h *adminHandler) createBan(w http.ResponseWriter, r *http.Request) {
	var body banRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	ttl := time.Duration(body.TTLSeconds) * time.Second
	err := h.manager.Ban(r.Context(), body.Identifier, ban.IdentifierType(body.Type), ttl, body.Reason)
	if err != nil {
		if errors.Is(err, ban.ErrInvalidIdentifier) || errors.Is(err, ban.ErrUnknownType) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		h.logger.Error().Err(err).Str("identifier", body.Identifier).Msg("ban write failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "ban write failed"})
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (h *adminHandler) getBan(w http.ResponseWriter, r *http.Request) {
	typ, identifier := banParams(r)

	record, err := h.manager.GetBan(r.Context(), identifier, typ)
	if err != nil {
		if errors.Is(err, ban.ErrInvalidIdentifier) || errors.Is(err, ban.ErrUnknownType) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		h.logger.Error().Err(err).Str("identifier", identifier).Msg("ban lookup failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "ban lookup failed"})
		return
	}
	if record == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no such ban"})
		return
	}

	writeJSON(w, http.StatusOK, record)
}

func (h *adminHandler) deleteBan(w http.ResponseWriter, r *http.Request) {
	typ, identifier := banParams(r)

	existed, err := h.manager.Unban(r.Context(), identifier, typ)
	if err != nil {
		if errors.Is(err, ban.ErrInvalidIdentifier) || errors.Is(err, ban.ErrUnknownType) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		h.logger.Error().Err(err).Str("identifier", identifier).Msg("unban failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "unban failed"})
		return
	}
	if !existed {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no such ban"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func banParams(r *http.Request) (ban.IdentifierType, string) {
	return ban.IdentifierType(mux.Vars(r)["type"]), r.URL.Query().Get("identifier")
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
