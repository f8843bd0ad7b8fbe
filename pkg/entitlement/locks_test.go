package entitlement

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccountLocks_MutualExclusion(t *testing.T) {
	var locks accountLocks

	const workers = 32
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locks.lock("acct1")
			defer release()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, counter)
}

func TestAccountLocks_EntriesReleased(t *testing.T) {
	var locks accountLocks

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locks.lock("acct1")
			release()
		}()
	}
	wg.Wait()

	// The table shrinks back to empty once nobody holds or waits on a lock
	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Empty(t, locks.entries)
}

func TestAccountLocks_IndependentAccounts(t *testing.T) {
	var locks accountLocks

	releaseA := locks.lock("acct-a")
	defer releaseA()

	// Holding acct-a must not block acct-b
	done := make(chan struct{})
	go func() {
		releaseB := locks.lock("acct-b")
		releaseB()
		close(done)
	}()
	<-done
}
