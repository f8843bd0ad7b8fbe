package entitlement

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientCredits is returned when a charge would drive the balance negative
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrTierForbidden is returned when the account's tier catalog excludes the component
	ErrTierForbidden = errors.New("tier forbidden")

	// ErrUnknownAccount is returned for an account id that was never created
	ErrUnknownAccount = errors.New("unknown account")

	// ErrUnknownComponent is returned for a component absent from the catalog
	ErrUnknownComponent = errors.New("unknown component")

	// ErrUnknownTier is returned for a tier absent from the catalog
	ErrUnknownTier = errors.New("unknown tier")

	// ErrAccountDeactivated is returned when the account exists but has been deactivated
	ErrAccountDeactivated = errors.New("account deactivated")

	// ErrSessionNotFound is returned when a session id does not resolve
	ErrSessionNotFound = errors.New("session not found")

	// ErrBackendUnavailable is returned when storage cannot be reached within the
	// operation timeout. Retryable with backoff; no partial state is applied.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrInvalidAmount is returned for zero or negative charge/refill amounts
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrStorageUnavailable is returned when a required store is nil at construction
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidCatalog is returned when a catalog fails validation
	ErrInvalidCatalog = errors.New("invalid catalog")
)

// InsufficientCreditsError carries the required vs. available detail callers
// need to render actionable messaging. Unwraps to ErrInsufficientCredits.
type InsufficientCreditsError struct {
	Required  int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}
