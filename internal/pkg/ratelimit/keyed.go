// Package ratelimit keeps one token bucket per key.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	cleanupInterval = 5 * time.Minute
	staleAfter      = 10 * time.Minute
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Keyed is a set of token buckets, one per key, dropped after staleAfter of
// disuse.
type Keyed struct {
	mu      sync.Mutex
	buckets map[string]*entry
	r       rate.Limit
	burst   int
}

// NewKeyed allows r events/second per key with bursts up to burst. Stale
// buckets are swept until ctx is done.
func NewKeyed(ctx context.Context, r rate.Limit, burst int) *Keyed {
	k := &Keyed{buckets: make(map[string]*entry), r: r, burst: burst}
	go k.cleanup(ctx)
	return k
}

// Allow spends one token from key's bucket.
func (k *Keyed) Allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.buckets[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(k.r, k.burst)}
		k.buckets[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter.Allow()
}

func (k *Keyed) sweep(now time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, e := range k.buckets {
		if now.Sub(e.lastSeen) > staleAfter {
			delete(k.buckets, key)
		}
	}
}

func (k *Keyed) cleanup(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			k.sweep(now)
		}
	}
}
