package ingest

import (
	"sync"
	"time"
)

// Dedup remembers recently stored (address, tx hash) keys so steady-state
// cycles skip the store lookup. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // key -> first stored
	ttl  time.Duration
	mu   sync.Mutex
	now  func() time.Time
}

// NewDedup creates a Dedup that forgets keys after ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Contains reports whether key was remembered within the TTL.
func (d *Dedup) Contains(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	at, ok := d.seen[key]
	return ok && d.now().Sub(at) < d.ttl
}

// Remember records key as stored.
func (d *Dedup) Remember(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[key] = d.now()
}

// Cleanup drops expired keys. The loop calls it once per cycle.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, key)
		}
	}
}

// Len returns the number of remembered keys.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
