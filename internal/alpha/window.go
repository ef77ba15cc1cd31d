package alpha

import (
	"fmt"

	"github.com/gammazero/deque"
)

// WindowBuilder produces the values to aggregate at each position of one
// series under one policy and period. It reuses internal buffers, so a
// builder must not be shared between goroutines and a returned window is
// only valid until the next call to At.
type WindowBuilder struct {
	policy Policy
	period int
	x      []float64

	collected *deque.Deque[float64]
	scratch   []float64
}

// NewWindowBuilder returns a builder over x. period must be at least 1.
func NewWindowBuilder(policy Policy, x []float64, period int) (*WindowBuilder, error) {
	if period <= 0 {
		return nil, fmt.Errorf("period %d must be positive: %w", period, ErrConfiguration)
	}
	if !policy.valid() {
		return nil, fmt.Errorf("policy %d: %w", int(policy), ErrConfiguration)
	}
	wb := &WindowBuilder{
		policy: policy,
		period: period,
		x:      x,
	}
	if policy == PolicySkipMissing {
		wb.collected = deque.New[float64](period)
		wb.scratch = make([]float64, 0, period)
	}
	return wb, nil
}

// At returns the ordered window ending at position i of partition p, most
// recent value last. ok is false when the position is undefined.
func (wb *WindowBuilder) At(p Partition, i int) (win []float64, ok bool) {
	if !p.Contains(i) {
		return nil, false
	}

	switch wb.policy {
	case PolicyRequireFullWindow:
		lo := i - wb.period + 1
		if lo < p.Start {
			return nil, false
		}
		return wb.x[lo : i+1], true

	case PolicySkipMissing:
		return wb.skipMissing(p, i)

	default:
		lo := i - wb.period + 1
		if lo < p.Start {
			lo = p.Start
		}
		return wb.x[lo : i+1], true
	}
}

// skipMissing scans backward from i collecting non-missing values until
// period values are held or the partition start is reached.
func (wb *WindowBuilder) skipMissing(p Partition, i int) ([]float64, bool) {
	if IsMissing(wb.x[i]) {
		return nil, false
	}

	wb.collected.Clear()
	for j := i; j >= p.Start && wb.collected.Len() < wb.period; j-- {
		if IsMissing(wb.x[j]) {
			continue
		}
		wb.collected.PushFront(wb.x[j])
	}

	wb.scratch = wb.scratch[:0]
	for k := 0; k < wb.collected.Len(); k++ {
		wb.scratch = append(wb.scratch, wb.collected.At(k))
	}
	return wb.scratch, len(wb.scratch) > 0
}

// Window is a one-shot form of WindowBuilder.At. The result is a fresh copy.
func Window(c Context, x []float64, p Partition, i, period int) ([]float64, bool, error) {
	wb, err := NewWindowBuilder(c.Policy(), x, period)
	if err != nil {
		return nil, false, err
	}
	win, ok := wb.At(p, i)
	if !ok {
		return nil, false, nil
	}
	out := make([]float64, len(win))
	copy(out, win)
	return out, true, nil
}
