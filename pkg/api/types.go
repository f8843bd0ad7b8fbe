package api

import "time"

// UnlockRequest is the POST /unlock body
type UnlockRequest struct {
	Component    string `json:"component"`
	DeclaredCost int    `json:"declaredCost,omitempty"`
	Tier         string `json:"tier,omitempty"`
}

// UnlockResponse is the success shape for POST /unlock
type UnlockResponse struct {
	SessionID       string    `json:"sessionId"`
	ExpiresAt       time.Time `json:"expiresAt"`
	CreditsUsed     int       `json:"creditsUsed"`
	ExistingSession bool      `json:"existingSession"`
}

// SessionInfo is one entry in the active-sessions listing
type SessionInfo struct {
	Component   string    `json:"component"`
	ExpiresAt   time.Time `json:"expiresAt"`
	CreditsUsed int       `json:"creditsUsed"`
}

// SessionsResponse is the GET /sessions body
type SessionsResponse struct {
	AccountID string        `json:"accountId"`
	Sessions  []SessionInfo `json:"sessions"`
}

// ErrorResponse carries the structured failure detail from the engine
type ErrorResponse struct {
	Error            string `json:"error"`
	RequiredCredits  int    `json:"requiredCredits,omitempty"`
	AvailableCredits int    `json:"availableCredits,omitempty"`
	Component        string `json:"component,omitempty"`
}

// TierCatalogEntry is one tier in the GET /catalog body
type TierCatalogEntry struct {
	WindowSeconds   int64            `json:"windowSeconds"`
	WindowOverrides map[string]int64 `json:"windowOverrides,omitempty"`
	Components      []string         `json:"components"`
	Unmetered       bool             `json:"unmetered,omitempty"`
}

// CatalogResponse exposes the policy table read-only, so collaborators can
// render "time remaining" without re-deriving policy
type CatalogResponse struct {
	Tiers map[string]TierCatalogEntry `json:"tiers"`
	Costs map[string]int              `json:"costs"`
}
