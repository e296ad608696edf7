package display

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sthaid/proj-fusor-sub000/internal/sentinel"
	"github.com/sthaid/proj-fusor-sub000/internal/wire"
)

type fakeRecordSource struct {
	p1 map[int]wire.Part1
}

func (f *fakeRecordSource) ReadPart1(idx int) (wire.Part1, error) {
	p1, ok := f.p1[idx]
	if !ok {
		return wire.Part1{}, assert.AnError
	}
	return p1, nil
}

func (f *fakeRecordSource) ReadPart2(idx int, p1 wire.Part1) (wire.Part2, error) {
	return wire.Part2{}, nil
}

func TestTextRendererPrintsRecord(t *testing.T) {
	src := &fakeRecordSource{p1: map[int]wire.Part1{
		0: {
			Time:          100,
			VoltageMeanKV: sentinel.Real(12.5),
			VoltageMinKV:  sentinel.Real(10),
			VoltageMaxKV:  sentinel.Real(15),
			CurrentMA:     sentinel.Real(3),
			PressureD2MT:  sentinel.Of(sentinel.Faulty),
			PressureN2MT:  sentinel.Real(20),
		},
	}}
	maxSrc := &fakeMax{v: 1}
	d := New(maxSrc, false)

	var buf bytes.Buffer
	r := NewTextRenderer(&buf, src)
	r.Render(d)

	out := buf.String()
	assert.Contains(t, out, "PLAYBACK")
	assert.Contains(t, out, "t=100")
	assert.Contains(t, out, "FAULTY")
}

func TestTextRendererHandlesMissingRecord(t *testing.T) {
	src := &fakeRecordSource{p1: map[int]wire.Part1{}}
	maxSrc := &fakeMax{v: 1}
	d := New(maxSrc, false)

	var buf bytes.Buffer
	r := NewTextRenderer(&buf, src)
	r.Render(d)

	require.True(t, strings.Contains(buf.String(), "<no data>"))
}

func TestRenderBannerPrecedence(t *testing.T) {
	var buf bytes.Buffer
	r := NewTextRenderer(&buf, &fakeRecordSource{})
	r.RenderBanner(true, false, true, false)
	assert.Contains(t, buf.String(), "TIME_ERROR")
	assert.NotContains(t, buf.String(), "LOST_CONN")
}
