package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sthaid/proj-fusor-sub000/internal/sentinel"
)

func sampleRecord() (Part1, Part2) {
	p1 := Part1{
		Magic:           MagicPart1,
		Time:            1700000000,
		VoltageMeanKV:   sentinel.Real(32.5),
		VoltageMinKV:    sentinel.Real(32.1),
		VoltageMaxKV:    sentinel.Real(32.9),
		CurrentMA:       sentinel.Real(4.2),
		PressureD2MT:    sentinel.Real(150.0),
		PressureN2MT:    sentinel.Of(sentinel.Faulty),
		DataPart2Offset: 4096,
	}
	p1.CpmSec[0][0] = 12
	p1.SetValid(ValidVoltage, true)
	p1.SetValid(ValidJpeg, false)

	p2 := Part2{Magic: MagicPart2, JPEG: []byte{0xff, 0xd8, 0xff, 0xd9}}
	p2.VoltageTrace[0] = 123
	p1.DataPart2Length = uint32(p2.EncodedLen())

	return p1, p2
}

func TestPart1RoundTrip(t *testing.T) {
	p1, _ := sampleRecord()

	var buf bytes.Buffer
	require.NoError(t, p1.EncodeTo(&buf))

	got, err := DecodePart1(&buf)
	require.NoError(t, err)

	assert.Equal(t, p1.Time, got.Time)
	assert.Equal(t, p1.VoltageMeanKV, got.VoltageMeanKV)
	assert.Equal(t, sentinel.Faulty, got.PressureN2MT.Kind())
	assert.True(t, got.Valid(ValidVoltage))
	assert.False(t, got.Valid(ValidJpeg))
	assert.Equal(t, float32(12), got.CpmSec[0][0])
}

func TestPart2RoundTrip(t *testing.T) {
	_, p2 := sampleRecord()

	var buf bytes.Buffer
	require.NoError(t, p2.EncodeTo(&buf))

	got, err := DecodePart2(&buf, uint32(p2.EncodedLen()))
	require.NoError(t, err)

	assert.Equal(t, p2.JPEG, got.JPEG)
	assert.Equal(t, int16(123), got.VoltageTrace[0])
}

func TestPart1MagicMismatch(t *testing.T) {
	p1, _ := sampleRecord()
	p1.Magic = 0xdeadbeef

	var buf bytes.Buffer
	require.NoError(t, p1.EncodeTo(&buf))

	_, err := DecodePart1(&buf)
	assert.Error(t, err)
}

func TestPart2LengthOverLimitRejected(t *testing.T) {
	var buf bytes.Buffer
	_, err := DecodePart2(&buf, MaxDataPart2Length+1)
	assert.Error(t, err)
}

func TestPart2Offset4KiBAligned(t *testing.T) {
	off := Part2Offset()
	assert.Zero(t, off%0x1000)
	assert.Greater(t, off, int64(FileHeaderSize)+int64(Part1Size)*int64(MaxFileDataPart1))
}
