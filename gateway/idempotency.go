package gateway

import (
	"sync"
	"time"
)

// idempotencyTTL is how long a recorded response is replayable.
const idempotencyTTL = 24 * time.Hour

// storedResponse is a recorded push outcome: status plus exact body bytes,
// so a replay is byte-identical to the original response.
type storedResponse struct {
	status int
	body   []byte
}

type idemEntry struct {
	done      chan struct{}
	response  storedResponse
	createdAt time.Time
}

// idempotencyCache deduplicates retried pushes. The first request for a key
// claims it and executes; concurrent and later requests with the same key
// wait for and replay the recorded response.
type idempotencyCache struct {
	mu      sync.Mutex
	entries map[string]*idemEntry
}

func newIdempotencyCache() *idempotencyCache {
	return &idempotencyCache{entries: make(map[string]*idemEntry)}
}

// claim returns (entry, true) when the caller is the first for this key and
// must execute the request, then record the outcome. Otherwise it returns
// the existing entry; the caller waits on entry.done and replays.
func (c *idempotencyCache) claim(key string) (*idemEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		return e, false
	}
	e := &idemEntry{done: make(chan struct{}), createdAt: time.Now()}
	c.entries[key] = e
	return e, true
}

// record stores the response and releases any waiters.
func (c *idempotencyCache) record(e *idemEntry, status int, body []byte) {
	e.response = storedResponse{status: status, body: body}
	close(e.done)
}

// abandon removes a claimed key whose execution failed before a response
// was produced, so a retry can execute instead of replaying nothing.
func (c *idempotencyCache) abandon(key string, e *idemEntry) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	close(e.done)
}

// sweep drops expired entries. Call periodically from a background goroutine.
func (c *idempotencyCache) sweep() {
	cutoff := time.Now().Add(-idempotencyTTL)
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		select {
		case <-e.done:
			if e.createdAt.Before(cutoff) {
				delete(c.entries, key)
			}
		default:
			// Still executing; leave it alone.
		}
	}
}
