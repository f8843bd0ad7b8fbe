// Package api provides HTTP endpoints for the entitlement engine: unlock,
// active-sessions, and the read-only policy catalog.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/marketmood/entitlement/pkg/entitlement"
)

// Handler serves the entitlement HTTP surface
type Handler struct {
	config Config
}

// NewHandler creates a handler from config
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = &entitlement.NoopLogger{}
	}
	return &Handler{config: config}, nil
}

// Register mounts the handler's routes on a ServeMux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /unlock", h.Unlock)
	mux.HandleFunc("GET /sessions", h.Sessions)
	mux.HandleFunc("GET /catalog", h.Catalog)
}

// Unlock handles POST /unlock
func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	accountID := h.config.GetAccountID(r)
	if accountID == "" {
		h.writeError(w, r, http.StatusUnauthorized, ErrorResponse{Error: "Unauthenticated"}, nil)
		return
	}

	var body UnlockRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r, http.StatusBadRequest, ErrorResponse{Error: "BadRequest"}, err)
		return
	}
	if body.Component == "" {
		h.writeError(w, r, http.StatusBadRequest, ErrorResponse{Error: "BadRequest"}, nil)
		return
	}

	unlock, err := h.config.Issuer.RequestUnlock(r.Context(), &entitlement.UnlockRequest{
		AccountID:    accountID,
		Component:    entitlement.Component(body.Component),
		DeclaredCost: body.DeclaredCost,
		Tier:         entitlement.Tier(body.Tier),
	})
	if err != nil {
		h.writeUnlockError(w, r, body.Component, err)
		return
	}

	h.writeJSON(w, http.StatusOK, UnlockResponse{
		SessionID:       unlock.Session.ID,
		ExpiresAt:       unlock.Session.ExpiresAt,
		CreditsUsed:     unlock.CreditsUsed,
		ExistingSession: unlock.ExistingSession,
	})
}

// Sessions handles GET /sessions
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	accountID := h.config.GetAccountID(r)
	if accountID == "" {
		h.writeError(w, r, http.StatusUnauthorized, ErrorResponse{Error: "Unauthenticated"}, nil)
		return
	}

	sessions, err := h.config.Issuer.QueryActiveSessions(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, entitlement.ErrBackendUnavailable) {
			h.writeError(w, r, http.StatusServiceUnavailable, ErrorResponse{Error: "BackendUnavailable"}, err)
			return
		}
		h.writeError(w, r, http.StatusInternalServerError, ErrorResponse{Error: "Internal"}, err)
		return
	}

	out := SessionsResponse{AccountID: accountID, Sessions: make([]SessionInfo, 0, len(sessions))}
	for _, sess := range sessions {
		out.Sessions = append(out.Sessions, SessionInfo{
			Component:   string(sess.Component),
			ExpiresAt:   sess.ExpiresAt,
			CreditsUsed: sess.CreditsCharged,
		})
	}
	h.writeJSON(w, http.StatusOK, out)
}

// Catalog handles GET /catalog
func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	cat := h.config.Issuer.Catalog()

	out := CatalogResponse{
		Tiers: make(map[string]TierCatalogEntry, len(cat.Tiers)),
		Costs: make(map[string]int, len(cat.Costs)),
	}
	for component, cost := range cat.Costs {
		out.Costs[string(component)] = cost
	}
	for name, tier := range cat.Tiers {
		entry := TierCatalogEntry{
			WindowSeconds: int64(tier.Window.Seconds()),
			Components:    make([]string, 0, len(tier.Components)),
			Unmetered:     tier.Unmetered,
		}
		for _, component := range tier.Components {
			entry.Components = append(entry.Components, string(component))
		}
		if len(tier.WindowOverrides) > 0 {
			entry.WindowOverrides = make(map[string]int64, len(tier.WindowOverrides))
			for component, d := range tier.WindowOverrides {
				entry.WindowOverrides[string(component)] = int64(d.Seconds())
			}
		}
		out.Tiers[string(name)] = entry
	}
	h.writeJSON(w, http.StatusOK, out)
}

// writeUnlockError maps engine errors to HTTP statuses and wire shapes
func (h *Handler) writeUnlockError(w http.ResponseWriter, r *http.Request, component string, err error) {
	var insufficient *entitlement.InsufficientCreditsError
	switch {
	case errors.As(err, &insufficient):
		h.writeError(w, r, http.StatusPaymentRequired, ErrorResponse{
			Error:            "InsufficientCredits",
			RequiredCredits:  insufficient.Required,
			AvailableCredits: insufficient.Available,
			Component:        component,
		}, err)
	case errors.Is(err, entitlement.ErrTierForbidden), errors.Is(err, entitlement.ErrAccountDeactivated):
		h.writeError(w, r, http.StatusForbidden, ErrorResponse{Error: "Forbidden", Component: component}, err)
	case errors.Is(err, entitlement.ErrUnknownComponent), errors.Is(err, entitlement.ErrUnknownTier):
		h.writeError(w, r, http.StatusBadRequest, ErrorResponse{Error: "UnknownComponent", Component: component}, err)
	case errors.Is(err, entitlement.ErrUnknownAccount):
		h.writeError(w, r, http.StatusNotFound, ErrorResponse{Error: "UnknownAccount"}, err)
	case errors.Is(err, entitlement.ErrBackendUnavailable):
		w.Header().Set("Retry-After", "1")
		h.writeError(w, r, http.StatusServiceUnavailable, ErrorResponse{Error: "BackendUnavailable"}, err)
	default:
		h.writeError(w, r, http.StatusInternalServerError, ErrorResponse{Error: "Internal"}, err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, body ErrorResponse, err error) {
	if err != nil && h.config.OnError != nil {
		h.config.OnError(r, err)
	}
	if err != nil {
		h.config.Logger.Debug("request failed",
			entitlement.Field{Key: "path", Value: r.URL.Path},
			entitlement.Field{Key: "status", Value: status},
			entitlement.Field{Key: "error", Value: err.Error()})
	}
	h.writeJSON(w, status, body)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
