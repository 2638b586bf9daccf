// Package money holds the single monetary normalization used everywhere an
// order crosses a boundary: socket broadcasts, REST snapshots and
// acceptance responses all decode through Amount.
package money

import (
	"encoding/json"
	"strconv"
)

// Amount is a monetary value normalized to a float64 decimal. The wire may
// carry it as a plain number, a numeric string, or a tagged-decimal wrapper
// object such as {"$numberDecimal": "150.00"}. Anything unparseable
// normalizes to zero.
type Amount float64

func (a *Amount) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		*a = 0
		return nil
	}
	*a = Amount(Normalize(v))
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(float64(a))
}

// Normalize converts an already-decoded wire value into a float64.
// It is total: every input maps to a number, with zero as the fallback.
func Normalize(v any) float64 {
	switch t := v.(type) {
	case nil:
		return 0
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		return parseDecimal(t)
	case map[string]any:
		if s, ok := t[taggedDecimalField].(string); ok {
			return parseDecimal(s)
		}
		return 0
	case Amount:
		return float64(t)
	}
	return 0
}

// taggedDecimalField is the key of the tagged-decimal wrapper the backend
// emits for exact decimals.
const taggedDecimalField = "$numberDecimal"

func parseDecimal(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
