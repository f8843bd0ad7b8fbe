package entitlement

import (
	"sync"
	"time"
)

// SessionCache is a UI-side mirror of unlock results for fast reads. It is a
// cache, not a source of truth: entries expire with the session or the cache
// TTL (whichever is sooner) and are dropped on tier change, logout, or a
// detected mismatch with the Session Store. The Issuer never consults it.
type SessionCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]*cacheEntry
	tiers   map[string]Tier
	now     func() time.Time

	hits          int64
	misses        int64
	invalidations int64
}

type cacheEntry struct {
	session  *Session
	cachedAt time.Time
}

// CacheStats holds mirror-cache counters
type CacheStats struct {
	Hits          int64
	Misses        int64
	Invalidations int64
	Size          int
}

// NewSessionCache creates a mirror cache whose entries go stale after ttl
func NewSessionCache(ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SessionCache{
		ttl:     ttl,
		entries: make(map[string]*cacheEntry),
		tiers:   make(map[string]Tier),
		now:     time.Now,
	}
}

// Get returns the cached session for (accountID, component) if it is still
// within both the cache TTL and the session's own window.
func (c *SessionCache) Get(accountID string, component Component) (*Session, bool) {
	key := accountID + "/" + string(component)
	now := c.now()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || now.Sub(entry.cachedAt) > c.ttl || !entry.session.ActiveAt(now) {
		c.mu.Lock()
		if !ok {
			c.misses++
		} else {
			// Stale entry: count the miss and drop it.
			c.misses++
			if e, still := c.entries[key]; still && e == entry {
				delete(c.entries, key)
			}
		}
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	c.hits++
	c.mu.Unlock()

	sessCopy := *entry.session
	return &sessCopy, true
}

// Put records an unlock result. The session's tier is observed as a side
// effect, so a tier change seen here flushes the account's entries first.
func (c *SessionCache) Put(sess *Session) {
	if sess == nil {
		return
	}
	c.ObserveTier(sess.AccountID, sess.TierAtGrant)

	sessCopy := *sess
	c.mu.Lock()
	c.entries[sess.Key()] = &cacheEntry{session: &sessCopy, cachedAt: c.now()}
	c.mu.Unlock()
}

// ObserveTier records the tier currently seen for an account. A change from
// the previously observed tier invalidates every entry for the account.
func (c *SessionCache) ObserveTier(accountID string, tier Tier) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, seen := c.tiers[accountID]
	c.tiers[accountID] = tier
	if seen && prev != tier {
		c.dropAccountLocked(accountID)
	}
}

// InvalidateAccount drops every entry for the account. Used on logout.
func (c *SessionCache) InvalidateAccount(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropAccountLocked(accountID)
	delete(c.tiers, accountID)
}

// InvalidateSession drops one entry. Used when a read against the Session
// Store contradicts the cached copy.
func (c *SessionCache) InvalidateSession(accountID string, component Component) {
	key := accountID + "/" + string(component)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.invalidations++
	}
}

// Clear removes all entries
func (c *SessionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.tiers = make(map[string]Tier)
}

// Stats returns cache counters
func (c *SessionCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{
		Hits:          c.hits,
		Misses:        c.misses,
		Invalidations: c.invalidations,
		Size:          len(c.entries),
	}
}

func (c *SessionCache) dropAccountLocked(accountID string) {
	prefix := accountID + "/"
	for key := range c.entries {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
			c.invalidations++
		}
	}
}
