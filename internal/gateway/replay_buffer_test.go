package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplayBuffer_RangeAndEviction(t *testing.T) {
	rb := NewReplayBuffer(5)
	for i := int64(1); i <= 8; i++ {
		rb.Push(i, []byte{byte(i)})
	}
	require.Equal(t, 5, rb.Len())

	got := rb.Range(0, 100)
	require.Len(t, got, 5)
	require.Equal(t, int64(4), got[0].Seq)
	require.Equal(t, int64(8), got[4].Seq)

	got = rb.Range(5, 6)
	require.Len(t, got, 2)
	require.Equal(t, []byte{5}, got[0].Data)

	require.Empty(t, NewReplayBuffer(3).Range(1, 10))
}

func TestReplayBuffer_CopiesData(t *testing.T) {
	rb := NewReplayBuffer(2)
	data := []byte("abc")
	rb.Push(1, data)
	data[0] = 'x'
	require.Equal(t, "abc", string(rb.Range(1, 1)[0].Data))
}

func TestLatencyTracker(t *testing.T) {
	lt := NewLatencyTracker(100)
	p50, p95, p99 := lt.Percentiles()
	require.Zero(t, p50+p95+p99)

	for i := 1; i <= 200; i++ {
		lt.Record(float64(i))
	}
	require.Equal(t, 100, lt.Count())

	// only the last 100 samples (101..200) are kept
	p50, p95, p99 = lt.Percentiles()
	require.InDelta(t, 150, p50, 1.5)
	require.InDelta(t, 195, p95, 1.5)
	require.True(t, p99 <= 200 && p99 >= 198, "p99=%v", p99)
}
