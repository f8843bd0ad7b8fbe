package entitlement

import (
	"time"
)

// Tier is a subscription level determining catalog access and grant-window length
type Tier string

const (
	// TierFree is the default tier for accounts without a subscription
	TierFree Tier = "free"
	// TierPro is the entry paid tier
	TierPro Tier = "pro"
	// TierElite is the mid paid tier
	TierElite Tier = "elite"
	// TierInstitutional is the top paid tier (unmetered by default)
	TierInstitutional Tier = "institutional"
)

// Component is a single gated feature with its own credit cost
type Component string

const (
	// ComponentChart is the market-sentiment chart
	ComponentChart Component = "chart"
	// ComponentScores is the per-ticker sentiment scores
	ComponentScores Component = "scores"
	// ComponentSocialPosts is the social-post feed
	ComponentSocialPosts Component = "socialPosts"
	// ComponentAIAnalysis is the AI explanation feature
	ComponentAIAnalysis Component = "aiAnalysis"
)

// SessionStatus is the lifecycle state of an entitlement session
type SessionStatus string

const (
	// StatusActive marks the single live grant for an (account, component) key
	StatusActive SessionStatus = "active"
	// StatusExpired marks a grant whose window has passed
	StatusExpired SessionStatus = "expired"
	// StatusSuperseded marks a grant replaced by a newer one for the same key
	StatusSuperseded SessionStatus = "superseded"
)

// Account holds a user's tier and credit balance.
// Mutated only through Ledger operations; accounts are deactivated, never deleted.
type Account struct {
	ID             string
	Tier           Tier
	CreditBalance  int
	BalanceVersion int64
	Deactivated    bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CreditTransaction is one immutable entry in an account's append-only audit trail.
// Amount is negative for a spend, positive for a refill.
type CreditTransaction struct {
	ID        string
	AccountID string
	Amount    int
	Reason    string
	Timestamp time.Time
}

// Session is a time-boxed, already-paid-for grant of access to one component
// for one account. At most one session per (AccountID, Component) is active
// at any time; history is retained for audit.
type Session struct {
	ID             string
	AccountID      string
	Component      Component
	CreditsCharged int
	GrantedAt      time.Time
	ExpiresAt      time.Time
	TierAtGrant    Tier
	Status         SessionStatus
}

// ActiveAt reports whether the session is a live grant at the given instant.
// Stored status alone is never trusted; expiry is always re-checked.
func (s *Session) ActiveAt(now time.Time) bool {
	return s.Status == StatusActive && s.ExpiresAt.After(now)
}

// Key returns the occupancy key the at-most-one-active invariant is scoped to
func (s *Session) Key() string {
	return s.AccountID + "/" + string(s.Component)
}

// UnlockRequest is a caller's request to access a gated component.
// DeclaredCost and Tier are what the client believes; the server-side catalog
// and account record always win on conflict.
type UnlockRequest struct {
	AccountID    string
	Component    Component
	DeclaredCost int
	Tier         Tier
}

// Unlock is the result of a successful RequestUnlock.
// ExistingSession is true for an idempotent re-entry, in which case
// CreditsUsed is zero and Session is the previously issued grant.
type Unlock struct {
	Session         *Session
	CreditsUsed     int
	ExistingSession bool
}
