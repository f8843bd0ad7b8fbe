// Package gin provides Gin middleware that gates handlers behind an active
// entitlement session. The gate is read-only: it never charges credits.
package gin

import (
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/marketmood/entitlement/pkg/entitlement"
)

// AccountIDExtractor extracts the account id from a Gin context.
// Return empty string if the caller is not authenticated.
type AccountIDExtractor func(c *gongin.Context) string

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
	OnLocked func(c *gongin.Context)

	// OnUnauthorized is called when the caller is not authenticated.
	// If nil, responds 401 Unauthorized.
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when the store fails.
	// If nil, responds 503 Service Unavailable.
	OnError func(c *gongin.Context, err error)
}

// Gate creates a Gin middleware that admits only requests holding an active
// session for the configured component.
func Gate(cfg Config) gongin.HandlerFunc {
	if cfg.Sessions == nil {
		panic("entitlement/gin: Config.Sessions is required")
	}
	if cfg.Component == "" {
		panic("entitlement/gin: Config.Component is required")
	}
	if cfg.GetAccountID == nil {
		panic("entitlement/gin: Config.GetAccountID is required")
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = &entitlement.NoopMetrics{}
	}

	return func(c *gongin.Context) {
		accountID := cfg.GetAccountID(c)
		if accountID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
				c.Abort()
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gongin.H{"error": "Unauthenticated"})
			}
			return
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

		sess, err := cfg.Sessions.GetActive(c.Request.Context(), accountID, cfg.Component)
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
				c.Abort()
			} else {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gongin.H{"error": "BackendUnavailable"})
			}
			return
		}

		if sess == nil {
			if fromCache {
				cfg.Cache.InvalidateSession(accountID, cfg.Component)
			}
			if cfg.OnLocked != nil {
				cfg.OnLocked(c)
				c.Abort()
			} else {
				c.AbortWithStatusJSON(http.StatusPaymentRequired, gongin.H{
					"error":     "PaymentRequired",
					"component": string(cfg.Component),
				})
			}
			return
		}

		if cfg.Cache != nil {
			cfg.Cache.Put(sess)
		}

		c.Next()
	}
}
