// Package echo provides Echo middleware that gates handlers behind an active
// entitlement session. The gate is read-only: it never charges credits.
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/marketmood/entitlement/pkg/entitlement"
)

// AccountIDExtractor extracts the account id from an Echo context.
// Return empty string if the caller is not authenticated.
type AccountIDExtractor func(c echo.Context) string

// Config holds gate middleware configuration
type Config struct {
	// Sessions is the session store to consult (required)
	Sessions entitlement.SessionStore

	// Component is the gated feature this route serves (required)
	Component entitlement.Component

	// GetAccountID extracts the account id from the context (required)
	GetAccountID AccountIDExtractor

	// Cache is an optional mirror cache consulted before the store
	Cache *entitlement.SessionCache

	// Metrics optionally records cache hits and misses
	Metrics entitlement.Metrics

	// OnLocked is called when no active session exists.
	// If nil, responds 402 Payment Required.
	OnLocked func(c echo.Context) error

	// OnUnauthorized is called when the caller is not authenticated.
	// If nil, responds 401 Unauthorized.
	OnUnauthorized func(c echo.Context) error

	// OnError is called when the store fails.
	// If nil, responds 503 Service Unavailable.
	OnError func(c echo.Context, err error) error
}

// Gate creates an Echo middleware that admits only requests holding an
// active session for the configured component.
func Gate(cfg Config) echo.MiddlewareFunc {
	if cfg.Sessions == nil {
		panic("entitlement/echo: Config.Sessions is required")
	}
	if cfg.Component == "" {
		panic("entitlement/echo: Config.Component is required")
	}
	if cfg.GetAccountID == nil {
		panic("entitlement/echo: Config.GetAccountID is required")
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = &entitlement.NoopMetrics{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			accountID := cfg.GetAccountID(c)
			if accountID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthenticated"})
			}

			fromCache := false
			if cfg.Cache != nil {
				if _, ok := cfg.Cache.Get(accountID, cfg.Component); ok {
					metrics.RecordCacheHit()
					fromCache = true
				} else {
					metrics.RecordCacheMiss()
				}
			}

			sess, err := cfg.Sessions.GetActive(c.Request().Context(), accountID, cfg.Component)
			if err != nil {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "BackendUnavailable"})
			}

			if sess == nil {
				if fromCache {
					cfg.Cache.InvalidateSession(accountID, cfg.Component)
				}
				if cfg.OnLocked != nil {
					return cfg.OnLocked(c)
				}
				return c.JSON(http.StatusPaymentRequired, map[string]string{
					"error":     "PaymentRequired",
					"component": string(cfg.Component),
				})
			}

			if cfg.Cache != nil {
				cfg.Cache.Put(sess)
			}

			return next(c)
		}
	}
}
