package eta

import (
	"errors"
	"testing"
	"time"
)

func TestHeuristicUsesDefaultSpeed(t *testing.T) {
	// one degree of latitude is ~111.2km; at 8 m/s that is ~13900s
	secs, err := Heuristic{}.EstimateSeconds(0, 0, 1, 0)
	if err != nil {
		t.Fatalf("EstimateSeconds: %v", err)
	}
	if secs < 13500 || secs > 14300 {
		t.Fatalf("secs = %v, want ~13900", secs)
	}
}

func TestHeuristicZeroDistance(t *testing.T) {
	secs, err := Heuristic{SpeedMps: 10}.EstimateSeconds(40.7, -74, 40.7, -74)
	if err != nil || secs != 0 {
		t.Fatalf("secs = %v, err = %v", secs, err)
	}
}

type countingEstimator struct {
	calls int
	v     float64
	err   error
}

func (c *countingEstimator) EstimateSeconds(_, _, _, _ float64) (float64, error) {
	c.calls++
	return c.v, c.err
}

func TestCachedServesRepeatsFromCache(t *testing.T) {
	inner := &countingEstimator{v: 120}
	c := NewCached(inner, time.Minute)

	for i := 0; i < 3; i++ {
		secs, err := c.EstimateSeconds(40.7, -74, 40.8, -74.1)
		if err != nil || secs != 120 {
			t.Fatalf("secs = %v, err = %v", secs, err)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("inner calls = %d, want 1", inner.calls)
	}
}

func TestCachedDoesNotCacheErrors(t *testing.T) {
	inner := &countingEstimator{err: errors.New("down")}
	c := NewCached(inner, time.Minute)

	if _, err := c.EstimateSeconds(0, 0, 1, 1); err == nil {
		t.Fatal("expected error")
	}
	if _, err := c.EstimateSeconds(0, 0, 1, 1); err == nil {
		t.Fatal("expected error on repeat")
	}
	if inner.calls != 2 {
		t.Fatalf("inner calls = %d, want 2", inner.calls)
	}
}

func TestFallbackDegradesToSecondary(t *testing.T) {
	f := Fallback{
		Primary:   &countingEstimator{err: errors.New("down")},
		Secondary: &countingEstimator{v: 60},
	}
	secs, err := f.EstimateSeconds(0, 0, 1, 1)
	if err != nil || secs != 60 {
		t.Fatalf("secs = %v, err = %v", secs, err)
	}
}
