package fuse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sthaid/proj-fusor-sub000/internal/camera"
	"github.com/sthaid/proj-fusor-sub000/internal/config"
	"github.com/sthaid/proj-fusor-sub000/internal/pulse"
	"github.com/sthaid/proj-fusor-sub000/internal/ring"
	"github.com/sthaid/proj-fusor-sub000/internal/wire"
)

type recordingSink struct {
	emits []wire.Part1
}

func (s *recordingSink) Emit(p1 wire.Part1, p2 wire.Part2) {
	s.emits = append(s.emits, p1)
}

func newTestFuser(sink Sink) *Fuser {
	rings := Rings{
		Voltage:    ring.New(20000, 4),
		Current:    ring.New(20000, 4),
		PressureD2: ring.New(20000, 4),
		PressureN2: ring.New(20000, 4),
		He3:        ring.New(20000, 4),
	}
	for _, r := range []*ring.SampleRing{rings.Voltage, rings.Current, rings.PressureD2, rings.PressureN2, rings.He3} {
		r.SetOkay(true)
		for i := 0; i < 4; i++ {
			r.Push(2000)
		}
	}
	return New(config.Default(), rings, pulse.NewCpmWindow(), nil, nil, sink)
}

func TestTickDiscardsSameSecond(t *testing.T) {
	sink := &recordingSink{}
	f := newTestFuser(sink)

	f.Tick(100, nil)
	f.Tick(100, nil)
	assert.Len(t, sink.emits, 1)
}

func TestTickEmitsOnNewSecond(t *testing.T) {
	sink := &recordingSink{}
	f := newTestFuser(sink)

	f.Tick(100, nil)
	f.Tick(101, nil)
	require.Len(t, sink.emits, 2)
	assert.Equal(t, int64(100), sink.emits[0].Time)
	assert.Equal(t, int64(101), sink.emits[1].Time)
}

func TestTickLogsGapButProceeds(t *testing.T) {
	sink := &recordingSink{}
	f := newTestFuser(sink)

	f.Tick(100, nil)
	f.Tick(105, nil) // a gap, not contiguous
	require.Len(t, sink.emits, 2)
	assert.Equal(t, int64(105), sink.emits[1].Time)
}

func TestAssemblePart1ValidityFlags(t *testing.T) {
	sink := &recordingSink{}
	f := newTestFuser(sink)
	f.Tick(100, nil)

	p1 := sink.emits[0]
	assert.True(t, p1.Valid(wire.ValidVoltage))
	assert.True(t, p1.Valid(wire.ValidCurrent))
	assert.False(t, p1.Valid(wire.ValidJpeg), "no camera buffer was latched this tick")
}

func TestAssemblePart1MarksJpegValidWhenCameraLatched(t *testing.T) {
	sink := &recordingSink{}
	f := newTestFuser(sink)
	f.Tick(100, &camera.Buffer{JPEG: []byte{1, 2, 3}})

	p1 := sink.emits[0]
	assert.True(t, p1.Valid(wire.ValidJpeg))
}

func TestAssemblePart1NormalizesCpmToCountsPerMinute(t *testing.T) {
	sink := &recordingSink{}
	f := newTestFuser(sink)
	f.cpm.Push(pulse.Counts{0: 1})
	f.Tick(100, nil)

	p1 := sink.emits[0]
	for wi, w := range pulse.Windows {
		want := float32(60) / float32(w)
		assert.InDelta(t, want, p1.CpmSec[wi][0], 1e-6, "window %ds", w)
	}
}
