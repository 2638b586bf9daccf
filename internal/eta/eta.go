// Package eta estimates the driver's remaining travel time to the next
// waypoint. Estimates ride along on the order tracking channel so the
// customer app can show "driver N minutes away".
package eta

import (
	"fmt"
	"sync"
	"time"

	"github.com/example/courier-dispatch/internal/geo"
)

// Estimator returns a travel time in seconds between two coordinates.
type Estimator interface {
	EstimateSeconds(fromLat, fromLon, toLat, toLon float64) (float64, error)
}

// Heuristic is distance over an assumed city speed. A routing engine
// gives better numbers; this never fails and needs no network.
type Heuristic struct {
	SpeedMps float64
}

func (h Heuristic) EstimateSeconds(fromLat, fromLon, toLat, toLon float64) (float64, error) {
	speed := h.SpeedMps
	if speed <= 0 {
		speed = 8.0 // ~28.8 km/h
	}
	return geo.Haversine(fromLat, fromLon, toLat, toLon) / speed, nil
}

// Cached wraps an estimator with a TTL cache keyed by rounded coords, so
// a 3-second order cadence does not hammer the routing backend while the
// driver sits at a light.
type Cached struct {
	inner Estimator
	ttl   time.Duration

	mu    sync.RWMutex
	store map[string]cacheEntry
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

func NewCached(inner Estimator, ttl time.Duration) *Cached {
	return &Cached{inner: inner, ttl: ttl, store: make(map[string]cacheEntry)}
}

func cacheKey(fromLat, fromLon, toLat, toLon float64) string {
	// ~100m buckets; close-by positions share an estimate
	return fmt.Sprintf("%.3f,%.3f->%.3f,%.3f", fromLat, fromLon, toLat, toLon)
}

func (c *Cached) EstimateSeconds(fromLat, fromLon, toLat, toLon float64) (float64, error) {
	k := cacheKey(fromLat, fromLon, toLat, toLon)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if ok && time.Since(e.ts) <= c.ttl {
		return e.v, nil
	}
	v, err := c.inner.EstimateSeconds(fromLat, fromLon, toLat, toLon)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
	return v, nil
}

// Fallback tries the primary estimator and falls back to the secondary
// when it errors, so a routing outage degrades to the heuristic instead
// of dropping the estimate.
type Fallback struct {
	Primary   Estimator
	Secondary Estimator
}

func (f Fallback) EstimateSeconds(fromLat, fromLon, toLat, toLon float64) (float64, error) {
	v, err := f.Primary.EstimateSeconds(fromLat, fromLon, toLat, toLon)
	if err != nil {
		return f.Secondary.EstimateSeconds(fromLat, fromLon, toLat, toLon)
	}
	return v, nil
}
