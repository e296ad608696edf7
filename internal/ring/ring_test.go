package ring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestStatsScenario(t *testing.T) {
	// spec.md §8 scenario: N=4, values {100,200,300,400} -> mean=250,
	// RMS≈273.861, sdev≈111.803
	r := New(16, 4)
	r.SetOkay(true)
	for _, v := range []int16{100, 200, 300, 400} {
		r.Push(v)
	}
	st, err := r.Stats()
	require.NoError(t, err)
	assert.InDelta(t, 250.0, st.Mean, 1e-9)
	assert.InDelta(t, 273.861, st.RMS, 1e-3)
	assert.InDelta(t, 111.803, st.StdDev, 1e-3)
	assert.Equal(t, int16(100), st.Min)
	assert.Equal(t, int16(400), st.Max)
}

func TestStatsUnavailableUntilOkay(t *testing.T) {
	r := New(16, 4)
	_, err := r.Stats()
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = r.Tail(1)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestWindowSlidesPastCapacity(t *testing.T) {
	r := New(4, 4)
	r.SetOkay(true)
	for _, v := range []int16{1, 2, 3, 4, 5, 6} {
		r.Push(v)
	}
	// window of 4 over a capacity-4 ring after 6 pushes: {3,4,5,6}
	st, err := r.Stats()
	require.NoError(t, err)
	assert.InDelta(t, 4.5, st.Mean, 1e-9)
	assert.Equal(t, int16(3), st.Min)
	assert.Equal(t, int16(6), st.Max)
}

func TestTailOrdering(t *testing.T) {
	r := New(16, 8)
	r.SetOkay(true)
	for _, v := range []int16{10, 20, 30, 40} {
		r.Push(v)
	}
	tail, err := r.Tail(3)
	require.NoError(t, err)
	assert.Equal(t, []int16{20, 30, 40}, tail)
}

func TestMvFromRaw12(t *testing.T) {
	assert.Equal(t, int32(0), MvFromRaw12(0))
	assert.Equal(t, int32(10000), MvFromRaw12(2048))
}

// RapidSumInvariant checks that, for any sequence of pushes, the running
// sum/sumSq always agree with a brute-force recompute over the
// window's worth of pushed values, per spec.md §8's "ring sum invariant".
func TestRapidSumInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 32).Draw(t, "capacity")
		window := rapid.IntRange(1, capacity).Draw(t, "window")
		r := New(capacity, window)
		r.SetOkay(true)

		n := rapid.IntRange(0, 100).Draw(t, "n")
		pushed := make([]int16, 0, n)
		for i := 0; i < n; i++ {
			v := int16(rapid.IntRange(-2048, 2047).Draw(t, "v"))
			r.Push(v)
			pushed = append(pushed, v)
		}
		if n == 0 {
			return
		}

		w := window
		if n < w {
			w = n
		}
		want := pushed[len(pushed)-w:]

		var wantSum, wantSumSq int64
		for _, v := range want {
			wantSum += int64(v)
			wantSumSq += int64(v) * int64(v)
		}
		wantMean := float64(wantSum) / float64(w)
		wantRMS := math.Sqrt(float64(wantSumSq) / float64(w))

		st, err := r.Stats()
		require.NoError(t, err)
		assert.InDelta(t, wantMean, st.Mean, 1e-6)
		assert.InDelta(t, wantRMS, st.RMS, 1e-6)
	})
}
