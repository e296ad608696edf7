package serialadc

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sthaid/proj-fusor-sub000/internal/ring"
)

func TestDecodeSlotSignExtend(t *testing.T) {
	// The bottom of the 12-bit offset-binary range (all bits clear) flips
	// to 0x800 and sign-extends to the most negative code.
	assert.Equal(t, int32(-2048), DecodeSlot(0x00, 0x00))

	// The top of the range (all bits set) flips to 0x7ff, the most
	// positive code.
	raw := DecodeSlot(0xf8, 0xfe)
	assert.Equal(t, int32(2047), raw)
}

// ttyPort adapts one end of a real pty pair to Port, per SPEC_FULL.md
// §2.1's creack/pty grounding for driving the frame decoder over an
// actual tty file descriptor instead of an in-memory mock.
type ttyPort struct {
	rwc io.ReadWriteCloser
}

func (t ttyPort) Read(p []byte) (int, error)  { return t.rwc.Read(p) }
func (t ttyPort) Write(p []byte) (int, error) { return t.rwc.Write(p) }
func (t ttyPort) Close() error                { return t.rwc.Close() }
func (t ttyPort) SetSpeed(baud int) error     { return nil }

func TestInitSequenceOverPTY(t *testing.T) {
	ptmx, tty, err := pty.Open()
	require.NoError(t, err)
	defer ptmx.Close()
	defer tty.Close()

	// Drive the other end of the pty pair as the device-side peer: reply
	// to every command immediately so drainWithStop observes a STOP echo.
	go func() {
		buf := make([]byte, 64)
		for {
			n, err := ptmx.Read(buf)
			if err != nil {
				return
			}
			if n > 0 {
				ptmx.Write([]byte("ok\r\n"))
			}
		}
	}()

	a := New(ttyPort{tty}, []int{0, 1}, 750, map[int]*ring.SampleRing{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, a.Init(ctx))
}

func TestFrameDecodeAndPush(t *testing.T) {
	scanlist := []int{0, 1}
	rings := map[int]*ring.SampleRing{
		0: ring.New(16, 4),
		1: ring.New(16, 4),
	}
	for _, r := range rings {
		r.SetOkay(true)
	}
	a := New(nil, scanlist, 750, rings, nil)

	frame := make([]byte, a.frameSize())
	// slot 0: sync bit clear; slot 1: arbitrary.
	frame[0] = 0x00
	frame[1] = 0x10
	frame[2] = 0x08
	frame[3] = 0x20

	a.decodeFrame(frame)
	st0, err := rings[0].Stats()
	require.NoError(t, err)
	assert.NotZero(t, st0.Mean)
}

func TestMonitorPropagatesDegradedRateToRings(t *testing.T) {
	rings := map[int]*ring.SampleRing{0: ring.New(16, 4), 1: ring.New(16, 4)}
	for _, r := range rings {
		r.SetOkay(true)
	}
	a := New(nil, []int{0, 1}, 750, rings, nil)

	// No scans observed between ticks: delta is 0, far outside 750±10%.
	a.monitorTick()

	assert.False(t, a.ScanOkay())
	for ch, r := range rings {
		_, err := r.Stats()
		assert.Error(t, err, "channel %d should report Unavailable once scan_okay is false", ch)
	}
}

func TestRunRejectsLostSync(t *testing.T) {
	ptmx, tty, err := pty.Open()
	require.NoError(t, err)
	defer ptmx.Close()
	defer tty.Close()

	scanlist := []int{0, 1}
	rings := map[int]*ring.SampleRing{0: ring.New(16, 4), 1: ring.New(16, 4)}
	a := New(ttyPort{tty}, scanlist, 750, rings, nil)

	go func() {
		// Two well-formed back-to-back frames: every slot's sync bit is 0
		// except it must read correctly at both frame starts, then a
		// desynced byte to force Run to detect lost sync and return.
		ptmx.Write([]byte{0x00, 0x10, 0x08, 0x20, 0x00, 0x10, 0x08, 0x20})
		ptmx.Write([]byte{0x01, 0x10, 0x08, 0x20})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = a.Run(ctx)
	require.Error(t, err)
	assert.False(t, a.ScanOkay())
}
