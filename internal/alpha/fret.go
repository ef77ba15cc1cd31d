package alpha

import (
	"fmt"
	"math"
)

// ForwardReturn computes, for each start position i,
//
//	(close[i+delay+periods-1] - open[i+delay]) / open[i+delay]
//
// Positions whose indices run past the end of the series are Missing.
// The whole series is treated as one sequence; groups are not consulted.
// high and low are length-checked but do not enter the formula.
func (c Context) ForwardReturn(open, high, low, close []float64, delay, periods int) ([]float64, error) {
	if delay < 0 {
		return nil, fmt.Errorf("forward return delay %d: %w", delay, ErrConfiguration)
	}
	if periods < 1 {
		return nil, fmt.Errorf("forward return periods %d: %w", periods, ErrConfiguration)
	}
	n := len(open)
	if len(high) != n || len(low) != n || len(close) != n {
		return nil, fmt.Errorf("open=%d high=%d low=%d close=%d: %w",
			n, len(high), len(low), len(close), ErrLengthMismatch)
	}

	out := make([]float64, n)
	for i := range out {
		entry := i + delay
		exit := entry + periods - 1
		if exit >= n {
			out[i] = math.NaN()
			continue
		}
		out[i] = (close[exit] - open[entry]) / open[entry]
	}
	return out, nil
}

// ForwardReturn runs Context.ForwardReturn on the active Context.
func ForwardReturn(open, high, low, close []float64, delay, periods int) ([]float64, error) {
	return Active().ForwardReturn(open, high, low, close, delay, periods)
}
