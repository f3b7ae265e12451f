// ABOUTME: Keyed, non-blocking try-lock with TTL for serializing per-conversation work
// ABOUTME: Prevents duplicate concurrent summarizations; a crashed holder expires via TTL

package lock

import (
	"sync"
	"time"
)

// Keyed is a non-blocking, key-scoped mutual-exclusion primitive. It is
// advisory: it only prevents duplicate concurrent work, it is not a data
// integrity mechanism. Each held key carries a TTL so a holder that never
// releases (crash, leaked goroutine) cannot starve the key forever.
type Keyed struct {
	mu     sync.Mutex
	held   map[string]time.Time
	ttl    time.Duration
	done   chan struct{}
	closed bool
}

// New creates a keyed lock with the given hold TTL. A background goroutine
// periodically expires stale holds.
func New(ttl time.Duration) *Keyed {
	k := &Keyed{
		held: make(map[string]time.Time),
		ttl:  ttl,
		done: make(chan struct{}),
	}
	go k.cleanup()
	return k
}

// TryAcquire attempts to take the lock for key without blocking.
// Returns true if the lock was acquired, false if another holder has it.
// A hold older than the TTL is treated as expired and taken over.
func (k *Keyed) TryAcquire(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	if acquiredAt, ok := k.held[key]; ok {
		if time.Since(acquiredAt) < k.ttl {
			return false
		}
		// Stale hold, the previous holder never released
	}

	k.held[key] = time.Now()
	return true
}

// Release frees the lock for key. Safe to call on a key that is not held.
func (k *Keyed) Release(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.held, key)
}

// cleanup runs in a background goroutine, expiring stale holds so the map
// does not grow unbounded when holders crash before releasing.
func (k *Keyed) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			k.expireStale()
		case <-k.done:
			return
		}
	}
}

func (k *Keyed) expireStale() {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := time.Now()
	for key, acquiredAt := range k.held {
		if now.Sub(acquiredAt) > k.ttl {
			delete(k.held, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (k *Keyed) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.closed {
		close(k.done)
		k.closed = true
	}
}
