package alpha

import (
	"fmt"
	"math"
	"sort"
)

// PercentileRank ranks every value against its whole partition. Ties get
// the average of the ordinal ranks they span; the output is rank/n in (0, 1].
//
// Under PolicySkipMissing missing values are left out of the ranking (n is
// the count of present values) and stay Missing. Under any other policy a
// missing value in a partition is rejected with ErrAmbiguousPolicy.
func (c Context) PercentileRank(series []float64) ([]float64, error) {
	parts, err := c.Partitions(len(series))
	if err != nil {
		return nil, err
	}

	out := make([]float64, len(series))
	idx := make([]int, 0, len(series)/c.Groups())
	for g, p := range parts {
		idx = idx[:0]
		for i := p.Start; i < p.End; i++ {
			if IsMissing(series[i]) {
				if c.Policy() != PolicySkipMissing {
					return nil, fmt.Errorf("missing value at %d in group %d: %w", i, g, ErrAmbiguousPolicy)
				}
				out[i] = math.NaN()
				continue
			}
			idx = append(idx, i)
		}
		rankInto(out, series, idx)
	}
	return out, nil
}

// rankInto writes average ranks divided by len(idx) for the positions in
// idx. idx is reordered.
func rankInto(out, series []float64, idx []int) {
	n := len(idx)
	if n == 0 {
		return
	}
	sort.SliceStable(idx, func(a, b int) bool { return series[idx[a]] < series[idx[b]] })

	for lo := 0; lo < n; {
		hi := lo + 1
		for hi < n && series[idx[hi]] == series[idx[lo]] {
			hi++
		}
		// ordinal ranks lo+1..hi share their mean
		rank := float64(lo+1+hi) / 2
		for k := lo; k < hi; k++ {
			out[idx[k]] = rank / float64(n)
		}
		lo = hi
	}
}

// TsRank returns the average rank (1-based) of each value within its
// rolling window. Undefined windows, a missing current value, and a missing
// value inside the window all yield Missing.
func (c Context) TsRank(series []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("ts rank period %d: %w", period, ErrConfiguration)
	}
	parts, err := c.Partitions(len(series))
	if err != nil {
		return nil, err
	}
	wb, err := NewWindowBuilder(c.Policy(), series, period)
	if err != nil {
		return nil, err
	}

	out := make([]float64, len(series))
	for _, p := range parts {
		for i := p.Start; i < p.End; i++ {
			win, ok := wb.At(p, i)
			if !ok || IsMissing(series[i]) {
				out[i] = math.NaN()
				continue
			}
			out[i] = rankOfLast(win)
		}
	}
	return out, nil
}

func rankOfLast(win []float64) float64 {
	cur := win[len(win)-1]
	less, equal := 0, 0
	for _, v := range win {
		switch {
		case IsMissing(v):
			return math.NaN()
		case v < cur:
			less++
		case v == cur:
			equal++
		}
	}
	return float64(less) + float64(equal+1)/2
}

// PercentileRank runs Context.PercentileRank on the active Context.
func PercentileRank(series []float64) ([]float64, error) {
	return Active().PercentileRank(series)
}

// TsRank runs Context.TsRank on the active Context.
func TsRank(series []float64, period int) ([]float64, error) {
	return Active().TsRank(series, period)
}
