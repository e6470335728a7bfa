package memory

import (
	"sync"
	"time"
)

// claimState implements shared/exclusive page claims with a timeout. Shared
// claims coexist arbitrarily; an exclusive claim excludes everything else.
// Mutating code paths hold exclusive on every page they modify for the
// duration of the modification.
type claimState struct {
	mu      sync.Mutex
	cond    *sync.Cond
	readers int
	writer  bool
}

func newClaimState() *claimState {
	c := &claimState{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// acquire blocks until the claim is granted or the deadline passes. A zero
// timeout means try once without waiting.
func (c *claimState) acquire(exclusive bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	var timer *time.Timer
	if timeout > 0 {
		timer = time.AfterFunc(timeout, func() {
			c.mu.Lock()
			c.cond.Broadcast()
			c.mu.Unlock()
		})
		defer timer.Stop()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		if exclusive {
			if !c.writer && c.readers == 0 {
				c.writer = true
				return true
			}
		} else {
			if !c.writer {
				c.readers++
				return true
			}
		}
		if timeout <= 0 || !time.Now().Before(deadline) {
			return false
		}
		c.cond.Wait()
	}
}

// upgrade converts a held shared claim to exclusive, waiting for other
// readers to drain.
func (c *claimState) upgrade(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	var timer *time.Timer
	if timeout > 0 {
		timer = time.AfterFunc(timeout, func() {
			c.mu.Lock()
			c.cond.Broadcast()
			c.mu.Unlock()
		})
		defer timer.Stop()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		if !c.writer && c.readers == 1 {
			c.readers = 0
			c.writer = true
			return true
		}
		if timeout <= 0 || !time.Now().Before(deadline) {
			return false
		}
		c.cond.Wait()
	}
}

func (c *claimState) release(exclusive bool) {
	c.mu.Lock()
	if exclusive {
		c.writer = false
	} else if c.readers > 0 {
		c.readers--
	}
	c.cond.Broadcast()
	c.mu.Unlock()
}
