package api

import (
	"fmt"
	"net/http"

	"github.com/marketmood/entitlement/pkg/entitlement"
)

// Config holds configuration for the entitlement API handler
type Config struct {
	// Issuer is the entitlement issuer instance (required)
	Issuer *entitlement.Issuer

	// GetAccountID extracts the authenticated account id from the request
	// (required). Returning "" yields 401 Unauthenticated.
	GetAccountID func(*http.Request) string

	// OnError optionally observes errors before the response is written
	OnError func(*http.Request, error)

	// Logger is used for structured logging (default: NoopLogger)
	Logger entitlement.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Issuer == nil {
		return fmt.Errorf("issuer is required")
	}
	if c.GetAccountID == nil {
		return fmt.Errorf("GetAccountID is required")
	}
	return nil
}
