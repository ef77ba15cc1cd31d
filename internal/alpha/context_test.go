package alpha

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPolicyFromFlags(t *testing.T) {
	p, err := PolicyFromFlags(FlagNone)
	require.NoError(t, err)
	require.Equal(t, PolicyDefault, p)

	p, err = PolicyFromFlags(FlagSkipMissing)
	require.NoError(t, err)
	require.Equal(t, PolicySkipMissing, p)

	p, err = PolicyFromFlags(FlagRequireFullWindow)
	require.NoError(t, err)
	require.Equal(t, PolicyRequireFullWindow, p)

	_, err = PolicyFromFlags(FlagSkipMissing | FlagRequireFullWindow)
	require.ErrorIs(t, err, ErrAmbiguousPolicy)

	_, err = PolicyFromFlags(Flags(8))
	require.ErrorIs(t, err, ErrConfiguration)

	for _, policy := range []Policy{PolicyDefault, PolicyRequireFullWindow, PolicySkipMissing} {
		back, err := PolicyFromFlags(policy.Flags())
		require.NoError(t, err)
		require.Equal(t, policy, back, "policy %s", policy)
	}
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		in   string
		want Flags
	}{
		{"", FlagNone},
		{"none", FlagNone},
		{"0", FlagNone},
		{"skip_nan", FlagSkipMissing},
		{"STRICTLY_CYCLE", FlagRequireFullWindow},
		{"require_full_window", FlagRequireFullWindow},
		{"skip_nan|strictly_cycle", FlagSkipMissing | FlagRequireFullWindow},
		{"2", FlagRequireFullWindow},
	}
	for _, tt := range tests {
		got, err := ParseFlags(tt.in)
		require.NoError(t, err, "input %q", tt.in)
		require.Equal(t, tt.want, got, "input %q", tt.in)
	}

	_, err := ParseFlags("skip_everything")
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestNewContext_Validation(t *testing.T) {
	_, err := NewContext(PolicyDefault, 0)
	require.ErrorIs(t, err, ErrConfiguration)

	_, err = NewContext(Policy(42), 1)
	require.ErrorIs(t, err, ErrConfiguration)

	var zero Context
	require.Equal(t, 1, zero.Groups())
	require.Equal(t, PolicyDefault, zero.Policy())
}

func TestConfigure_ReplacesAtomically(t *testing.T) {
	t.Cleanup(func() { SetActive(Context{}) })

	require.NoError(t, Configure(FlagRequireFullWindow, 2))
	require.Equal(t, PolicyRequireFullWindow, Active().Policy())
	require.Equal(t, 2, Active().Groups())

	// rejected updates leave the previous context in place
	require.ErrorIs(t, Configure(FlagSkipMissing|FlagRequireFullWindow, 4), ErrAmbiguousPolicy)
	require.ErrorIs(t, Configure(FlagSkipMissing, 0), ErrConfiguration)
	require.Equal(t, PolicyRequireFullWindow, Active().Policy())
	require.Equal(t, 2, Active().Groups())

	got, err := MovingAverage([]float64{1, 2, 3, 4, 5, 6}, 2)
	require.NoError(t, err)
	assertSeries(t, "MA", got, []float64{nan, 1.5, 2.5, nan, 4.5, 5.5}, 1e-12)
}

func TestPartitions(t *testing.T) {
	parts, err := Partitions(12, 3)
	require.NoError(t, err)
	require.Equal(t, []Partition{{0, 4}, {4, 8}, {8, 12}}, parts)
	for _, p := range parts {
		require.Equal(t, 4, p.Len())
	}

	again, err := Partitions(12, 3)
	require.NoError(t, err)
	require.Same(t, &parts[0], &again[0], "layout should be reused")

	empty, err := Partitions(0, 5)
	require.NoError(t, err)
	require.Len(t, empty, 5)
	require.Zero(t, empty[4].Len())

	_, err = Partitions(10, 3)
	require.ErrorIs(t, err, ErrConfiguration)
	_, err = Partitions(10, 0)
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestPartitions_CacheIsBounded(t *testing.T) {
	for n := 1; n <= 2000; n++ {
		c, err := NewContext(PolicyDefault, n)
		require.NoError(t, err)
		_, err = c.PercentileRank(make([]float64, n))
		require.NoError(t, err)
		require.LessOrEqual(t, partitionCache.len(), maxCachedLayouts)
	}

	// a recently used layout is still reused after the churn
	first, err := Partitions(2000, 2000)
	require.NoError(t, err)
	again, err := Partitions(2000, 2000)
	require.NoError(t, err)
	require.Same(t, &first[0], &again[0])

	// an evicted layout is rebuilt with the same ranges
	parts, err := Partitions(6, 2)
	require.NoError(t, err)
	require.Equal(t, []Partition{{0, 3}, {3, 6}}, parts)
}

func TestWindow_Modes(t *testing.T) {
	x := []float64{1, nan, 3, 4, nan, 6}
	p := Partition{Start: 0, End: 6}

	win, ok, err := Window(Context{}, x, p, 2, 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, win, 3)
	require.True(t, IsMissing(win[1]))

	win, ok, err = Window(Context{}, x, Partition{Start: 2, End: 6}, 3, 5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []float64{3, 4}, win, "clipped to partition start")

	strict := mustContext(t, PolicyRequireFullWindow, 1)
	_, ok, err = Window(strict, x, p, 1, 3)
	require.NoError(t, err)
	require.False(t, ok)

	skip := mustContext(t, PolicySkipMissing, 1)
	win, ok, err = Window(skip, x, p, 5, 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []float64{3, 4, 6}, win)

	_, ok, err = Window(skip, x, p, 4, 3)
	require.NoError(t, err)
	require.False(t, ok, "missing current value")

	_, _, err = Window(skip, x, p, 4, 0)
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestContext_ConcurrentUse(t *testing.T) {
	data := make([]float64, 400)
	for i := range data {
		data[i] = float64(i % 17)
	}
	c := mustContext(t, PolicySkipMissing, 4)
	want, err := c.MovingAverage(data, 7)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.MovingAverage(data, 7)
			if err != nil {
				t.Error(err)
				return
			}
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("position %d: got %.4f, want %.4f", i, got[i], want[i])
					return
				}
			}
		}()
	}
	wg.Wait()
}
