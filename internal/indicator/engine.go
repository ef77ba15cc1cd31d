package indicator

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"alpha-engine/internal/alpha"
	"alpha-engine/internal/model"
)

// Observer receives per-spec compute outcomes (used for metrics).
type Observer interface {
	ObserveCompute(name string, dur time.Duration, undefined int, err error)
}

// Engine evaluates batches of specs over frames. It holds no per-call
// state, so one Engine may serve concurrent callers.
type Engine struct {
	workers  int
	observer Observer
}

// NewEngine creates an engine using up to workers goroutines per batch
// (GOMAXPROCS when workers <= 0). observer may be nil.
func NewEngine(workers int, observer Observer) *Engine {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Engine{workers: workers, observer: observer}
}

// Compute evaluates every spec against f using a context with actx's policy.
// When the frame names its instruments the group count is taken from the
// frame, otherwise from actx. Results come back in spec order; the first
// failing spec aborts the batch.
func (e *Engine) Compute(ctx context.Context, actx alpha.Context, f *model.Frame, specs []Spec) ([]model.IndicatorSeries, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, alpha.ErrLengthMismatch)
	}
	if err := ValidateSpecs(specs); err != nil {
		return nil, fmt.Errorf("%v: %w", err, alpha.ErrConfiguration)
	}
	actx, err := EffectiveContext(actx, f)
	if err != nil {
		return nil, err
	}

	results := make([]model.IndicatorSeries, len(specs))
	errs := make([]error, len(specs))

	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := e.workers
	if workers > len(specs) {
		workers = len(specs)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					errs[i] = err
					continue
				}
				results[i], errs[i] = e.computeOne(actx, f, specs[i])
			}
		}()
	}
	for i := range specs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("%s: %w", specs[i].Name(), err)
		}
	}
	return results, nil
}

// EffectiveContext returns the context Compute uses for f: actx with the
// frame's instrument count as groups when the frame names its instruments.
func EffectiveContext(actx alpha.Context, f *model.Frame) (alpha.Context, error) {
	if len(f.Keys) == 0 || f.Groups() == actx.Groups() {
		return actx, nil
	}
	return alpha.NewContext(actx.Policy(), f.Groups())
}

// ComputeSeries evaluates specs over a single close series. FRET reads the
// same series as open, high, low and close.
func (e *Engine) ComputeSeries(ctx context.Context, actx alpha.Context, series []float64, specs []Spec) ([]model.IndicatorSeries, error) {
	v := model.Values(series)
	return e.Compute(ctx, actx, &model.Frame{Open: v, High: v, Low: v, Close: v}, specs)
}

func (e *Engine) computeOne(actx alpha.Context, f *model.Frame, spec Spec) (model.IndicatorSeries, error) {
	start := time.Now()
	var (
		out []float64
		err error
	)
	switch spec.Type {
	case TypeMA:
		out, err = actx.MovingAverage(f.Close, spec.Period)
	case TypeSlope:
		out, err = actx.Slope(f.Close, spec.Period)
	case TypeIntercept:
		out, err = actx.Intercept(f.Close, spec.Period)
	case TypeRank:
		out, err = actx.PercentileRank(f.Close)
	case TypeTsRank:
		out, err = actx.TsRank(f.Close, spec.Period)
	case TypeFRet:
		out, err = actx.ForwardReturn(f.Open, f.High, f.Low, f.Close, spec.Delay, spec.Period)
	default:
		err = fmt.Errorf("unknown indicator type %q: %w", spec.Type, alpha.ErrConfiguration)
	}

	undefined := 0
	for _, v := range out {
		if alpha.IsMissing(v) {
			undefined++
		}
	}
	if e.observer != nil {
		e.observer.ObserveCompute(spec.Name(), time.Since(start), undefined, err)
	}
	if err != nil {
		return model.IndicatorSeries{}, err
	}

	groups := actx.Groups()
	if spec.Type == TypeFRet {
		groups = 1
	}
	return model.IndicatorSeries{
		Name:   spec.Name(),
		TF:     f.TF,
		Keys:   f.Keys,
		Groups: groups,
		Policy: actx.Policy().String(),
		Values: out,
		TS:     time.Now().UTC(),
	}, nil
}
