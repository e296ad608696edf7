package simulate

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sthaid/proj-fusor-sub000/internal/serialadc"
)

func TestEncodeSlotRoundTripsWithDecodeSlot(t *testing.T) {
	cases := []int32{0, 1, 100, 2047, -1, -2048, -100, 2000}
	for _, raw := range cases {
		b0, b1 := encodeSlot(raw)
		got := serialadc.DecodeSlot(b0, b1)
		assert.Equal(t, raw, got, "raw=%d", raw)
	}
}

func TestFastADCDeviceInjectsPulseShape(t *testing.T) {
	d := NewFastADCDevice()
	d.pulsePeriod = 4 // force every sample to be the pulse for this test

	buf := make([]byte, 2*len(pulseShape))
	n, err := d.BulkRead(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	for i, want := range pulseShape {
		assert.Equal(t, want, int16(binary.LittleEndian.Uint16(buf[2*i:])), "sample %d", i)
	}
}

func TestCameraDeviceDequeueProducesIncrementingIDs(t *testing.T) {
	d := NewCameraDevice()
	d.interval = time.Millisecond // avoid waiting a whole simulated frame interval in tests

	b1, ok, err := d.TryDequeue()
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = d.TryDequeue()
	require.NoError(t, err)
	assert.False(t, ok, "a second dequeue before the frame interval elapses must report not-ready")

	time.Sleep(2 * time.Millisecond)
	b2, ok, err := d.TryDequeue()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, b1.ID+1, b2.ID)
	assert.NoError(t, d.Requeue(b1.ID))
}

func TestSerialPortEchoesCommandsAndStreamsFramesOnceStarted(t *testing.T) {
	p := NewSerialPort([]int{0, 1})

	n, err := p.Write([]byte("stop\r"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	echo := make([]byte, 5)
	n, err = p.Read(echo)
	require.NoError(t, err)
	assert.Equal(t, []byte("stop\r"), echo[:n])

	_, err = p.Write([]byte("start\r"))
	require.NoError(t, err)
	// Drain the echo before frames start flowing.
	echo2 := make([]byte, 6)
	_, err = p.Read(echo2)
	require.NoError(t, err)

	frame := make([]byte, 4)
	n, err = p.Read(frame)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	assert.Zero(t, frame[0]&0x01, "synthesized frame must keep the sync bit clear")
}
