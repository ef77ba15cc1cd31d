package alpha

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// MovingAverage returns the arithmetic mean of each position's window.
// Undefined windows yield Missing; a missing value inside a default or
// full window propagates into the mean.
func (c Context) MovingAverage(series []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("moving average period %d: %w", period, ErrConfiguration)
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
			if !ok || len(win) == 0 {
				out[i] = math.NaN()
				continue
			}
			out[i] = floats.Sum(win) / float64(len(win))
		}
	}
	return out, nil
}

// MovingAverage runs Context.MovingAverage on the active Context.
func MovingAverage(series []float64, period int) ([]float64, error) {
	return Active().MovingAverage(series, period)
}
