package geo

import "testing"

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// one degree of latitude is roughly 111.2 km
	d := Haversine(0, 0, 1, 0)
	if d < 111000 || d > 111500 {
		t.Fatalf("expected ~111.2km, got %f", d)
	}
}
