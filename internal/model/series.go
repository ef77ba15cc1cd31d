package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Values is a float64 series whose JSON form encodes missing (NaN) entries
// as null and infinities as the strings "+Inf" and "-Inf", since
// encoding/json rejects both. An infinity is a computed value (for example
// a forward return over a zero open), not a missing one.
type Values []float64

const (
	posInf = `"+Inf"`
	negInf = `"-Inf"`
)

// MarshalJSON writes NaN as null, infinities as "+Inf"/"-Inf" and
// everything else as a JSON number.
func (v Values) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	buf := make([]byte, 0, 2+len(v)*8)
	buf = append(buf, '[')
	for i, x := range v {
		if i > 0 {
			buf = append(buf, ',')
		}
		switch {
		case math.IsNaN(x):
			buf = append(buf, "null"...)
			continue
		case math.IsInf(x, 1):
			buf = append(buf, posInf...)
			continue
		case math.IsInf(x, -1):
			buf = append(buf, negInf...)
			continue
		}
		buf = strconv.AppendFloat(buf, x, 'g', -1, 64)
	}
	buf = append(buf, ']')
	return buf, nil
}

// UnmarshalJSON reads null entries back as NaN and "+Inf"/"-Inf" as
// infinities.
func (v *Values) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = nil
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Values, len(raw))
	for i, r := range raw {
		switch string(bytes.TrimSpace(r)) {
		case "null":
			out[i] = math.NaN()
		case posInf:
			out[i] = math.Inf(1)
		case negInf:
			out[i] = math.Inf(-1)
		default:
			if err := json.Unmarshal(r, &out[i]); err != nil {
				return fmt.Errorf("value %d: %w", i, err)
			}
		}
	}
	*v = out
	return nil
}
