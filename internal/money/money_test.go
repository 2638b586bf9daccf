package money

import (
	"encoding/json"
	"testing"
)

func TestNormalizeIsTotal(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want float64
	}{
		{"number", 12.5, 12.5},
		{"numeric string", "12.5", 12.5},
		{"tagged decimal", map[string]any{"$numberDecimal": "12.5"}, 12.5},
		{"nil", nil, 0},
		{"garbage string", "abc", 0},
		{"wrapper missing field", map[string]any{"decimal": "12.5"}, 0},
		{"int", 7, 7},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("%s: Normalize(%v) = %v, want %v", c.name, c.in, got, c.want)
		}
	}
}

func TestAmountUnmarshal(t *testing.T) {
	var payload struct {
		Fee Amount `json:"deliveryFee"`
		Tip Amount `json:"tip"`
	}
	raw := `{"deliveryFee":{"$numberDecimal":"150.00"},"tip":"25"}`
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if total := float64(payload.Fee) + float64(payload.Tip); total != 175.00 {
		t.Fatalf("total = %v, want 175.00", total)
	}
}

func TestAmountUnmarshalBadValueFallsBackToZero(t *testing.T) {
	var payload struct {
		Fee Amount `json:"fee"`
	}
	if err := json.Unmarshal([]byte(`{"fee":[1,2]}`), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Fee != 0 {
		t.Fatalf("fee = %v, want 0", payload.Fee)
	}
}
