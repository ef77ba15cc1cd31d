package model

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Frame holds G instruments' OHLC histories concatenated group by group:
// row r of instrument g lives at index g*len(TS)+r in every column. All
// instruments share the TS axis, so every group has the same length.
type Frame struct {
	Keys  []string    `json:"keys"`
	TF    int         `json:"tf"`
	TS    []time.Time `json:"ts"`
	Open  Values      `json:"open"`
	High  Values      `json:"high"`
	Low   Values      `json:"low"`
	Close Values      `json:"close"`
}

// Groups returns the number of instruments in the frame.
func (f *Frame) Groups() int {
	if len(f.Keys) == 0 {
		return 1
	}
	return len(f.Keys)
}

// Len returns the length of every column.
func (f *Frame) Len() int { return len(f.Close) }

// Validate checks that all columns have the same length and that the length
// matches the keys × timestamps layout when timestamps are present.
func (f *Frame) Validate() error {
	n := len(f.Close)
	if len(f.Open) != n || len(f.High) != n || len(f.Low) != n {
		return fmt.Errorf("frame columns differ in length: open=%d high=%d low=%d close=%d",
			len(f.Open), len(f.High), len(f.Low), n)
	}
	if len(f.TS) > 0 && len(f.TS)*f.Groups() != n {
		return fmt.Errorf("frame has %d rows for %d keys but %d values", len(f.TS), f.Groups(), n)
	}
	return nil
}

// BuildFrame aligns bars of several instruments onto the union of their
// timestamps. An instrument with no bar at a timestamp gets missing (NaN)
// prices there. keys fixes the group order; bars for other keys are ignored.
func BuildFrame(keys []string, tf int, bars []Bar) *Frame {
	groupOf := make(map[string]int, len(keys))
	for g, k := range keys {
		groupOf[k] = g
	}

	seen := make(map[int64]struct{}, len(bars))
	var stamps []time.Time
	for _, b := range bars {
		if _, ok := groupOf[b.Key]; !ok {
			continue
		}
		u := b.TS.Unix()
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		stamps = append(stamps, b.TS.UTC())
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })

	rowOf := make(map[int64]int, len(stamps))
	for r, ts := range stamps {
		rowOf[ts.Unix()] = r
	}

	rows := len(stamps)
	n := rows * len(keys)
	f := &Frame{
		Keys:  keys,
		TF:    tf,
		TS:    stamps,
		Open:  missingValues(n),
		High:  missingValues(n),
		Low:   missingValues(n),
		Close: missingValues(n),
	}
	for _, b := range bars {
		g, ok := groupOf[b.Key]
		if !ok {
			continue
		}
		i := g*rows + rowOf[b.TS.Unix()]
		f.Open[i] = PaiseToPrice(b.Open)
		f.High[i] = PaiseToPrice(b.High)
		f.Low[i] = PaiseToPrice(b.Low)
		f.Close[i] = PaiseToPrice(b.Close)
	}
	return f
}

func missingValues(n int) Values {
	v := make(Values, n)
	nan := math.NaN()
	for i := range v {
		v[i] = nan
	}
	return v
}
