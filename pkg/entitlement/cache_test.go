package entitlement_test

import (
	"testing"
	"time"

	"github.com/marketmood/entitlement/pkg/entitlement"
)

func cachedSession(accountID string, component entitlement.Component, tier entitlement.Tier) *entitlement.Session {
	now := time.Now()
	return &entitlement.Session{
		ID:          "sess-" + accountID + "-" + string(component),
		AccountID:   accountID,
		Component:   component,
		GrantedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
		TierAtGrant: tier,
		Status:      entitlement.StatusActive,
	}
}

func TestSessionCache_PutGet(t *testing.T) {
	cache := entitlement.NewSessionCache(time.Minute)

	if _, ok := cache.Get("acct1", entitlement.ComponentChart); ok {
		t.Error("Expected miss on empty cache")
	}

	cache.Put(cachedSession("acct1", entitlement.ComponentChart, entitlement.TierPro))

	sess, ok := cache.Get("acct1", entitlement.ComponentChart)
	if !ok {
		t.Fatal("Expected hit after Put")
	}
	if sess.AccountID != "acct1" || sess.Component != entitlement.ComponentChart {
		t.Errorf("Got wrong session back: %+v", sess)
	}

	// Other keys still miss
	if _, ok := cache.Get("acct1", entitlement.ComponentScores); ok {
		t.Error("Expected miss for different component")
	}
	if _, ok := cache.Get("acct2", entitlement.ComponentChart); ok {
		t.Error("Expected miss for different account")
	}

	stats := cache.Stats()
	if stats.Hits != 1 || stats.Misses != 3 {
		t.Errorf("Expected 1 hit / 3 misses, got %d / %d", stats.Hits, stats.Misses)
	}
}

func TestSessionCache_TTL(t *testing.T) {
	cache := entitlement.NewSessionCache(20 * time.Millisecond)
	cache.Put(cachedSession("acct1", entitlement.ComponentChart, entitlement.TierPro))

	if _, ok := cache.Get("acct1", entitlement.ComponentChart); !ok {
		t.Fatal("Expected hit inside TTL")
	}

	time.Sleep(40 * time.Millisecond)
	if _, ok := cache.Get("acct1", entitlement.ComponentChart); ok {
		t.Error("Expected miss after cache TTL")
	}
	if cache.Stats().Size != 0 {
		t.Error("Stale entry should have been dropped")
	}
}

// The cached copy goes stale with the session itself, not just the cache TTL
func TestSessionCache_SessionExpiry(t *testing.T) {
	cache := entitlement.NewSessionCache(time.Hour)

	sess := cachedSession("acct1", entitlement.ComponentChart, entitlement.TierPro)
	sess.ExpiresAt = time.Now().Add(-time.Second)
	cache.Put(sess)

	if _, ok := cache.Get("acct1", entitlement.ComponentChart); ok {
		t.Error("Expected miss for an expired session regardless of cache TTL")
	}
}

func TestSessionCache_TierChangeInvalidates(t *testing.T) {
	cache := entitlement.NewSessionCache(time.Minute)

	cache.Put(cachedSession("acct1", entitlement.ComponentChart, entitlement.TierPro))
	cache.Put(cachedSession("acct1", entitlement.ComponentScores, entitlement.TierPro))
	cache.Put(cachedSession("acct2", entitlement.ComponentChart, entitlement.TierFree))

	// A downgrade observed for acct1 flushes only acct1's entries
	cache.ObserveTier("acct1", entitlement.TierFree)

	if _, ok := cache.Get("acct1", entitlement.ComponentChart); ok {
		t.Error("Expected acct1 chart entry dropped on tier change")
	}
	if _, ok := cache.Get("acct1", entitlement.ComponentScores); ok {
		t.Error("Expected acct1 scores entry dropped on tier change")
	}
	if _, ok := cache.Get("acct2", entitlement.ComponentChart); !ok {
		t.Error("Expected acct2 entry untouched")
	}

	// Same tier observed again does not invalidate
	cache.Put(cachedSession("acct1", entitlement.ComponentChart, entitlement.TierFree))
	cache.ObserveTier("acct1", entitlement.TierFree)
	if _, ok := cache.Get("acct1", entitlement.ComponentChart); !ok {
		t.Error("Expected entry to survive unchanged tier")
	}
}

func TestSessionCache_InvalidateAccount(t *testing.T) {
	cache := entitlement.NewSessionCache(time.Minute)
	cache.Put(cachedSession("acct1", entitlement.ComponentChart, entitlement.TierPro))
	cache.Put(cachedSession("acct1", entitlement.ComponentScores, entitlement.TierPro))

	cache.InvalidateAccount("acct1")

	if _, ok := cache.Get("acct1", entitlement.ComponentChart); ok {
		t.Error("Expected entries dropped on logout")
	}
	if cache.Stats().Invalidations != 2 {
		t.Errorf("Expected 2 invalidations, got %d", cache.Stats().Invalidations)
	}
}

func TestSessionCache_InvalidateSession(t *testing.T) {
	cache := entitlement.NewSessionCache(time.Minute)
	cache.Put(cachedSession("acct1", entitlement.ComponentChart, entitlement.TierPro))
	cache.Put(cachedSession("acct1", entitlement.ComponentScores, entitlement.TierPro))

	cache.InvalidateSession("acct1", entitlement.ComponentChart)

	if _, ok := cache.Get("acct1", entitlement.ComponentChart); ok {
		t.Error("Expected chart entry dropped")
	}
	if _, ok := cache.Get("acct1", entitlement.ComponentScores); !ok {
		t.Error("Expected scores entry untouched")
	}

	// Invalidating an absent entry is a no-op
	before := cache.Stats().Invalidations
	cache.InvalidateSession("acct1", entitlement.ComponentChart)
	if cache.Stats().Invalidations != before {
		t.Error("Expected no invalidation count for absent entry")
	}
}

func TestSessionCache_Clear(t *testing.T) {
	cache := entitlement.NewSessionCache(time.Minute)
	cache.Put(cachedSession("acct1", entitlement.ComponentChart, entitlement.TierPro))
	cache.Put(cachedSession("acct2", entitlement.ComponentChart, entitlement.TierFree))

	cache.Clear()

	if cache.Stats().Size != 0 {
		t.Errorf("Expected empty cache, got size %d", cache.Stats().Size)
	}
}
