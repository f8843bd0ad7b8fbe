// Package http provides HTTP middleware that gates handlers behind an active
// entitlement session. The gate is read-only: it never charges credits, it
// only checks that the unlock already happened.
package http

import (
	"encoding/json"
	"net/http"

	"github.com/marketmood/entitlement/pkg/entitlement"
)

// AccountIDExtractor extracts the account id from an HTTP request.
// Return empty string if the caller is not authenticated.
type AccountIDExtractor func(r *http.Request) string

// Config holds gate middleware configuration
type Config struct {
	// Sessions is the session store to consult (required)
	Sessions entitlement.SessionStore

	// Component is the gated feature this route serves (required)
	Component entitlement.Component

	// GetAccountID extracts the account id from the request (required)
	GetAccountID AccountIDExtractor

	// Cache is an optional mirror cache consulted before the store. A cached
	// session the store no longer confirms is invalidated on the spot.
	Cache *entitlement.SessionCache

	// Metrics optionally records cache hits and misses
	Metrics entitlement.Metrics

	// OnLocked is called when no active session exists.
	// If nil, responds 402 Payment Required.
	OnLocked func(w http.ResponseWriter, r *http.Request)

	// OnUnauthorized is called when the caller is not authenticated.
	// If nil, responds 401 Unauthorized.
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when the store fails.
	// If nil, responds 503 Service Unavailable.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Gate creates middleware that admits only requests holding an active
// session for the configured component.
func Gate(config Config) func(http.Handler) http.Handler {
	metrics := config.Metrics
	if metrics == nil {
		metrics = &entitlement.NoopMetrics{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID := config.GetAccountID(r)
			if accountID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			fromCache := false
			if config.Cache != nil {
				if _, ok := config.Cache.Get(accountID, config.Component); ok {
					metrics.RecordCacheHit()
					fromCache = true
				} else {
					metrics.RecordCacheMiss()
				}
			}

			sess, err := config.Sessions.GetActive(r.Context(), accountID, config.Component)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
				}
				return
			}

			if sess == nil {
				// The store is the source of truth; a cached copy it no
				// longer confirms is a mismatch and gets dropped.
				if fromCache {
					config.Cache.InvalidateSession(accountID, config.Component)
				}
				if config.OnLocked != nil {
					config.OnLocked(w, r)
				} else {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusPaymentRequired)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"error":     "PaymentRequired",
						"component": string(config.Component),
					})
				}
				return
			}

			if config.Cache != nil {
				config.Cache.Put(sess)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GateFunc is the HandlerFunc version of Gate
func GateFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	gate := Gate(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return gate(next).ServeHTTP
	}
}
