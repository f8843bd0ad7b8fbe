package entitlement

import (
	"fmt"
	"time"
)

// TierPolicy defines what one tier may unlock and for how long
type TierPolicy struct {
	Name Tier

	// Window is the default grant duration for every component the tier allows
	Window time.Duration

	// WindowOverrides maps components to grant durations that replace Window.
	// A cheap low-risk component can carry a shorter window regardless of tier.
	WindowOverrides map[Component]time.Duration

	// Components is the allow-list of unlockable components for this tier.
	// A component missing here fails with ErrTierForbidden, which is distinct
	// from running out of credits.
	Components []Component

	// Unmetered grants sessions without consulting the Ledger. Sessions are
	// still issued with their normal window so expiry reporting stays uniform.
	Unmetered bool
}

// Allows reports whether the tier's catalog includes the component
func (p TierPolicy) Allows(component Component) bool {
	for _, c := range p.Components {
		if c == component {
			return true
		}
	}
	return false
}

// WindowFor returns the grant duration for a component under this tier
func (p TierPolicy) WindowFor(component Component) time.Duration {
	if d, ok := p.WindowOverrides[component]; ok {
		return d
	}
	return p.Window
}

// Catalog is the single source of truth for component pricing and grant
// windows. It is immutable once constructed; the Issuer swaps the whole
// catalog atomically on an explicit reload and never mutates it in place.
type Catalog struct {
	// Tiers maps tier names to their policies
	Tiers map[Tier]TierPolicy

	// Costs maps components to their authoritative credit price.
	// A client-declared cost that disagrees with this table loses.
	Costs map[Component]int
}

// DefaultCatalog returns the stock catalog: free=30min, pro=2h, elite=4h,
// institutional=8h and unmetered; the AI explanation is paid-tiers only.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Tiers: map[Tier]TierPolicy{
			TierFree: {
				Name:       TierFree,
				Window:     30 * time.Minute,
				Components: []Component{ComponentChart, ComponentScores, ComponentSocialPosts},
			},
			TierPro: {
				Name:       TierPro,
				Window:     2 * time.Hour,
				Components: []Component{ComponentChart, ComponentScores, ComponentSocialPosts, ComponentAIAnalysis},
			},
			TierElite: {
				Name:       TierElite,
				Window:     4 * time.Hour,
				Components: []Component{ComponentChart, ComponentScores, ComponentSocialPosts, ComponentAIAnalysis},
			},
			TierInstitutional: {
				Name:       TierInstitutional,
				Window:     8 * time.Hour,
				Components: []Component{ComponentChart, ComponentScores, ComponentSocialPosts, ComponentAIAnalysis},
				Unmetered:  true,
			},
		},
		Costs: map[Component]int{
			ComponentChart:       10,
			ComponentScores:      8,
			ComponentSocialPosts: 5,
			ComponentAIAnalysis:  25,
		},
	}
}

// Validate checks the catalog for internal consistency
func (c *Catalog) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil catalog", ErrInvalidCatalog)
	}
	if len(c.Tiers) == 0 {
		return fmt.Errorf("%w: no tiers", ErrInvalidCatalog)
	}
	if len(c.Costs) == 0 {
		return fmt.Errorf("%w: no component costs", ErrInvalidCatalog)
	}
	for component, cost := range c.Costs {
		if cost < 0 {
			return fmt.Errorf("%w: negative cost for %s", ErrInvalidCatalog, component)
		}
	}
	for name, tier := range c.Tiers {
		if tier.Window <= 0 {
			return fmt.Errorf("%w: tier %s has non-positive window", ErrInvalidCatalog, name)
		}
		for _, component := range tier.Components {
			if _, ok := c.Costs[component]; !ok {
				return fmt.Errorf("%w: tier %s allows unpriced component %s", ErrInvalidCatalog, name, component)
			}
		}
		for component, d := range tier.WindowOverrides {
			if d <= 0 {
				return fmt.Errorf("%w: tier %s has non-positive override for %s", ErrInvalidCatalog, name, component)
			}
		}
	}
	return nil
}

// Cost returns the authoritative credit price for a component
func (c *Catalog) Cost(component Component) (int, error) {
	cost, ok := c.Costs[component]
	if !ok {
		return 0, fmt.Errorf("%s: %w", component, ErrUnknownComponent)
	}
	return cost, nil
}

// Window returns the grant duration for (tier, component). Collaborators that
// render "time remaining" consume this same table rather than re-deriving it.
func (c *Catalog) Window(tier Tier, component Component) (time.Duration, error) {
	pol, ok := c.Tiers[tier]
	if !ok {
		return 0, fmt.Errorf("%s: %w", tier, ErrUnknownTier)
	}
	if _, ok := c.Costs[component]; !ok {
		return 0, fmt.Errorf("%s: %w", component, ErrUnknownComponent)
	}
	return pol.WindowFor(component), nil
}

// Allows reports whether the tier's catalog includes the component
func (c *Catalog) Allows(tier Tier, component Component) bool {
	pol, ok := c.Tiers[tier]
	if !ok {
		return false
	}
	return pol.Allows(component)
}

// Unmetered reports whether the tier bypasses the credit system entirely
func (c *Catalog) Unmetered(tier Tier) bool {
	pol, ok := c.Tiers[tier]
	return ok && pol.Unmetered
}
