package pulse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThresholdLatchesAtSample1000(t *testing.T) {
	// spec.md §8 scenario: first 999 samples produce no events; sample
	// 1000 latches threshold = baseline+8.
	d := NewDetector(2000, nil)
	for i := 0; i < 999; i++ {
		d.Push(2048)
		d.Scan()
		require.False(t, d.haveBase, "baseline should not latch before 1000 samples")
	}
	d.Push(2048)
	d.Scan()
	require.True(t, d.haveBase)
	assert.Equal(t, int32(2056), d.threshold)
}

func TestPulseBucketingBoundaryScenario(t *testing.T) {
	// spec.md §8 scenario: threshold=2056 (baseline 2048), a pulse of
	// height 24 above threshold lands in channel 0.
	d := NewDetector(2000, nil)
	for i := 0; i < 1000; i++ {
		d.Push(2048)
	}
	d.Push(2056 + 24) // rises above threshold, height 24
	d.Push(2048)       // falls back, closing the pulse
	for i := 0; i < tailGuard+2; i++ {
		d.Push(2048)
	}
	counts := d.EndSecond()

	bucket := int32(4096-2056) / MaxChannel
	wantChannel := int32(24) / bucket
	if wantChannel >= MaxChannel {
		wantChannel = MaxChannel - 1
	}
	assert.Equal(t, uint64(1), counts[wantChannel])
}

func TestOutOfRangeSampleClamped(t *testing.T) {
	d := NewDetector(2000, nil)
	d.Push(5000)
	d.Push(-1)
	assert.Equal(t, int16(2048), d.buf[0])
	assert.Equal(t, int16(2048), d.buf[1])
}

func TestCpmWindowMovingTotal(t *testing.T) {
	cw := NewCpmWindow()
	for i := 0; i < 5; i++ {
		var c Counts
		c[0] = 1
		cw.Push(c)
	}
	snap := cw.Snapshot()
	// Windows[0] == 1: only the most recent second's count survives.
	assert.Equal(t, uint64(1), snap[0][0])
	// Windows[1] == 10, but only 5 seconds have been pushed: total is 5.
	assert.Equal(t, uint64(5), snap[1][0])
}

func TestCpmWindowEvictsOldest(t *testing.T) {
	cw := NewCpmWindow()
	ring := cw.rings[0] // Windows[0] == 1 second
	for i := 0; i < 3; i++ {
		var c Counts
		c[2] = uint64(i + 1)
		ring.push(c)
	}
	assert.Equal(t, uint64(3), ring.total[2])
}
