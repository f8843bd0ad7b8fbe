package entitlement

import "sync"

// accountLocks serializes all mutations for one account while letting
// requests for different accounts proceed in parallel. A global lock across
// all accounts would serialize unrelated traffic; per-account granularity is
// required and sufficient.
type accountLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the per-account mutex and returns its release func.
// Entries are refcounted so the table does not grow with the account space.
func (l *accountLocks) lock(accountID string) func() {
	l.mu.Lock()
	if l.entries == nil {
		l.entries = make(map[string]*lockEntry)
	}
	e, ok := l.entries[accountID]
	if !ok {
		e = &lockEntry{}
		l.entries[accountID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, accountID)
		}
		l.mu.Unlock()
	}
}
