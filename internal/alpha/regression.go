package alpha

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Regression fits y = slope·x + intercept over each position's window,
// pairing the k-th window value with x = k. Positions with fewer than two
// points are Missing in both outputs.
func (c Context) Regression(series []float64, period int) (slope, intercept []float64, err error) {
	if period <= 0 {
		return nil, nil, fmt.Errorf("regression period %d: %w", period, ErrConfiguration)
	}
	parts, err := c.Partitions(len(series))
	if err != nil {
		return nil, nil, err
	}
	wb, err := NewWindowBuilder(c.Policy(), series, period)
	if err != nil {
		return nil, nil, err
	}

	xs := make([]float64, period)
	for k := range xs {
		xs[k] = float64(k)
	}

	slope = make([]float64, len(series))
	intercept = make([]float64, len(series))
	for _, p := range parts {
		for i := p.Start; i < p.End; i++ {
			win, ok := wb.At(p, i)
			if !ok {
				slope[i], intercept[i] = math.NaN(), math.NaN()
				continue
			}
			slope[i], intercept[i] = fitLine(xs[:len(win)], win)
		}
	}
	return slope, intercept, nil
}

// fitLine is the shared least-squares core.
func fitLine(x, y []float64) (slope, intercept float64) {
	if len(y) < 2 {
		return math.NaN(), math.NaN()
	}
	for _, v := range y {
		if IsMissing(v) {
			return math.NaN(), math.NaN()
		}
	}
	// stat.LinearRegression returns (alpha, beta) for y = alpha + beta*x.
	intercept, slope = stat.LinearRegression(x, y, nil, false)
	return slope, intercept
}

// Slope returns the regression slope series.
func (c Context) Slope(series []float64, period int) ([]float64, error) {
	s, _, err := c.Regression(series, period)
	return s, err
}

// Intercept returns the regression intercept series.
func (c Context) Intercept(series []float64, period int) ([]float64, error) {
	_, b, err := c.Regression(series, period)
	return b, err
}

// Slope runs Context.Slope on the active Context.
func Slope(series []float64, period int) ([]float64, error) {
	return Active().Slope(series, period)
}

// Intercept runs Context.Intercept on the active Context.
func Intercept(series []float64, period int) ([]float64, error) {
	return Active().Intercept(series, period)
}
