package indicator

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"alpha-engine/internal/alpha"
	"alpha-engine/internal/model"
)

type recordingObserver struct {
	mu        sync.Mutex
	names     []string
	undefined map[string]int
	failures  int
}

func (r *recordingObserver) ObserveCompute(name string, _ time.Duration, undefined int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.undefined == nil {
		r.undefined = make(map[string]int)
	}
	r.names = append(r.names, name)
	r.undefined[name] = undefined
	if err != nil {
		r.failures++
	}
}

func TestParseSpecs(t *testing.T) {
	specs := ParseSpecs("ma:20, SLOPE:10,RANK,TSRANK:5,FRET:1:3,bogus:1,MA:0,RANK:3")
	require.Equal(t, []Spec{
		{Type: TypeMA, Period: 20},
		{Type: TypeSlope, Period: 10},
		{Type: TypeRank},
		{Type: TypeTsRank, Period: 5},
		{Type: TypeFRet, Delay: 1, Period: 3},
	}, specs)

	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name()
	}
	require.Equal(t, []string{"MA_20", "SLOPE_10", "RANK", "TSRANK_5", "FRET_1_3"}, names)

	require.Equal(t, DefaultSpecs(), ParseSpecs(""))
	require.Equal(t, DefaultSpecs(), ParseSpecs("nope,MA:x"))
}

func TestParseSpec_Strict(t *testing.T) {
	spec, err := ParseSpec(" tsrank:5 ")
	require.NoError(t, err)
	require.Equal(t, Spec{Type: TypeTsRank, Period: 5}, spec)

	for _, bad := range []string{"", "MA", "MA:x", "FRET:1", "RANK:2", "EMA:3", "SLOPE:-1"} {
		_, err := ParseSpec(bad)
		require.Error(t, err, bad)
	}
}

func TestValidateSpecs(t *testing.T) {
	require.NoError(t, ValidateSpecs(DefaultSpecs()))
	require.Error(t, ValidateSpecs([]Spec{{Type: TypeMA, Period: 3}, {Type: TypeMA, Period: 3}}))
	require.Error(t, ValidateSpecs([]Spec{{Type: TypeFRet, Delay: -1, Period: 1}}))
	require.Error(t, ValidateSpecs([]Spec{{Type: "EMA", Period: 3}}))
}

func TestEngine_ComputeSeries(t *testing.T) {
	obs := &recordingObserver{}
	engine := NewEngine(2, obs)
	actx, err := alpha.NewContext(alpha.PolicyRequireFullWindow, 1)
	require.NoError(t, err)

	data := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	specs := []Spec{
		{Type: TypeMA, Period: 3},
		{Type: TypeSlope, Period: 3},
		{Type: TypeRank},
	}
	results, err := engine.ComputeSeries(context.Background(), actx, data, specs)
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.Equal(t, "MA_3", results[0].Name)
	require.Equal(t, "require_full_window", results[0].Policy)
	require.True(t, math.IsNaN(results[0].Values[1]))
	require.InDelta(t, 2.0, results[0].Values[2], 1e-12)
	require.InDelta(t, 9.0, results[0].Values[9], 1e-12)

	require.Equal(t, "SLOPE_3", results[1].Name)
	require.InDelta(t, 1.0, results[1].Values[5], 1e-9)

	require.Equal(t, "RANK", results[2].Name)
	require.InDelta(t, 0.1, results[2].Values[0], 1e-12)
	require.InDelta(t, 1.0, results[2].Values[9], 1e-12)

	require.Len(t, obs.names, 3)
	require.Equal(t, 2, obs.undefined["MA_3"])
	require.Equal(t, 2, obs.undefined["SLOPE_3"])
	require.Zero(t, obs.failures)
}

func TestEngine_FrameGroupsOverrideContext(t *testing.T) {
	frame := &model.Frame{
		Keys:  []string{"NSE:A", "NSE:B"},
		TS:    []time.Time{{}, {}, {}},
		Open:  model.Values{10, 11, 12, 20, 21, 22},
		High:  model.Values{10, 11, 12, 20, 21, 22},
		Low:   model.Values{10, 11, 12, 20, 21, 22},
		Close: model.Values{10, 11, 12, 20, 21, 22},
	}
	results, err := NewEngine(0, nil).Compute(context.Background(), alpha.Context{}, frame,
		[]Spec{{Type: TypeMA, Period: 2}, {Type: TypeFRet, Delay: 0, Period: 1}})
	require.NoError(t, err)

	ma := results[0]
	require.Equal(t, 2, ma.Groups)
	require.Equal(t, []string{"NSE:A", "NSE:B"}, ma.Keys)
	// second group restarts at its own first value
	require.Equal(t, model.Values{10, 10.5, 11.5, 20, 20.5, 21.5}, ma.Values)
	require.Equal(t, model.Values{20.5, 21.5}, ma.Group(1)[1:])

	eff, err := EffectiveContext(alpha.Context{}, frame)
	require.NoError(t, err)
	require.Equal(t, 2, eff.Groups())
	five, err := alpha.NewContext(alpha.PolicySkipMissing, 5)
	require.NoError(t, err)
	eff, err = EffectiveContext(five, &model.Frame{Close: model.Values{1, 2, 3, 4, 5}})
	require.NoError(t, err)
	require.Equal(t, five, eff)

	fret := results[1]
	require.Equal(t, 1, fret.Groups)
	for _, v := range fret.Values {
		require.InDelta(t, 0, v, 1e-12)
	}
}

func TestEngine_Errors(t *testing.T) {
	engine := NewEngine(4, nil)
	actx, err := alpha.NewContext(alpha.PolicyDefault, 3)
	require.NoError(t, err)

	_, err = engine.ComputeSeries(context.Background(), actx, []float64{1, 2, 3, 4}, []Spec{{Type: TypeMA, Period: 2}})
	require.ErrorIs(t, err, alpha.ErrConfiguration)

	_, err = engine.ComputeSeries(context.Background(), alpha.Context{}, []float64{1, math.NaN()}, []Spec{{Type: TypeRank}})
	require.ErrorIs(t, err, alpha.ErrAmbiguousPolicy)

	_, err = engine.ComputeSeries(context.Background(), alpha.Context{}, []float64{1}, []Spec{{Type: "EMA", Period: 2}})
	require.ErrorIs(t, err, alpha.ErrConfiguration)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = engine.ComputeSeries(ctx, alpha.Context{}, []float64{1, 2}, []Spec{{Type: TypeMA, Period: 2}})
	require.ErrorIs(t, err, context.Canceled)
}
