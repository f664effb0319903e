// Package ratelimit implements the per-tenant token bucket admission gate of
// spec §4.3, keyed by API key and backed by a TTL cache so idle tenants'
// bucket state is reclaimed automatically (grounded on the teacher's
// internal/runner/backoffs.go use of a TTL cache for blocker state).
package ratelimit

import (
	"sync"
	"time"

	ttlcache "github.com/karlmutch/go-cache"
	"go.uber.org/atomic"

	"github.com/forgerun/execgw/internal/apierr"
)

// KeyLimits is the per-key rate and burst; a zero value means "use the
// limiter's defaults".
type KeyLimits struct {
	RatePerSec float64
	Burst      float64
}

// bucket is the mutable token-bucket state for one tenant. Access is
// guarded by its own mutex rather than the limiter's, so refills for
// different tenants never contend.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	rate       float64
	burst      float64
}

// Limiter is a process-local, per-tenant token bucket. There is no
// cross-process coordination (spec §4.3); it is meant to run inside a
// single orchestrator process.
type Limiter struct {
	defaultRate  float64
	defaultBurst float64
	buckets      *ttlcache.Cache
	admitted     *atomic.Int64
	rejected     *atomic.Int64
}

// New builds a Limiter with the given process-wide default rate/burst. Idle
// tenant state expires from the cache after ttl of inactivity.
func New(defaultRate, defaultBurst float64, ttl time.Duration) *Limiter {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Limiter{
		defaultRate:  defaultRate,
		defaultBurst: defaultBurst,
		buckets:      ttlcache.New(ttl, ttl/2),
		admitted:     atomic.NewInt64(0),
		rejected:     atomic.NewInt64(0),
	}
}

// SetKeyLimits overrides the rate/burst for a specific API key; otherwise
// the limiter's defaults apply when that key is first seen.
func (l *Limiter) SetKeyLimits(apiKey string, kl KeyLimits) {
	b := l.bucketFor(apiKey, kl)
	b.mu.Lock()
	if kl.RatePerSec > 0 {
		b.rate = kl.RatePerSec
	}
	if kl.Burst > 0 {
		b.burst = kl.Burst
	}
	b.mu.Unlock()
}

func (l *Limiter) bucketFor(apiKey string, kl KeyLimits) *bucket {
	if existing, ok := l.buckets.Get(apiKey); ok {
		return existing.(*bucket)
	}

	rate, burst := l.defaultRate, l.defaultBurst
	if kl.RatePerSec > 0 {
		rate = kl.RatePerSec
	}
	if kl.Burst > 0 {
		burst = kl.Burst
	}

	b := &bucket{tokens: burst, lastRefill: time.Now(), rate: rate, burst: burst}
	// Cache.Add only inserts if absent, avoiding a racy overwrite of a
	// bucket another goroutine created concurrently for the same key.
	if errGo := l.buckets.Add(apiKey, b, ttlcache.DefaultExpiration); errGo != nil {
		if existing, ok := l.buckets.Get(apiKey); ok {
			return existing.(*bucket)
		}
	}
	return b
}

// Admit attempts to consume one token for apiKey. On rejection it returns an
// apierr.TooManyRequests error; the bucket's state (tokens, timestamp) is
// still updated on rejection so the refill clock keeps moving forward.
func (l *Limiter) Admit(apiKey string) (err error) {
	b := l.bucketFor(apiKey, KeyLimits{})

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.lastRefill = now

	if b.tokens < 1 {
		l.rejected.Inc()
		return apierr.New(apierr.TooManyRequests, nil)
	}

	b.tokens--
	l.admitted.Inc()
	return nil
}

// Admitted returns the cumulative count of admitted requests, for metrics.
func (l *Limiter) Admitted() int64 { return l.admitted.Load() }

// Rejected returns the cumulative count of rejected requests, for metrics.
func (l *Limiter) Rejected() int64 { return l.rejected.Load() }
