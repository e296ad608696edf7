// Package simulate implements the runtime collaborators used in place of
// real hardware SDKs. cmd/fusor-server always uses FastADCDevice and
// CameraDevice, and uses SerialPort in place of a real tty under its -sim
// flag; cmd/fusor-display uses CameraDevice for its local camera.
//
// Grounded on original_source/util_mccdaq.c's MCCDAQ_TEST compiled-in
// simulator (static sample table with periodic injected pulses at
// {3000, 2600, 2150, 2300}) and mccdaq_test/test.c's same pulse shape,
// expressed here as a runtime Device rather than a build-time #ifdef, per
// SPEC_FULL.md §4.11 ("never speculate about the original program's
// source language").
package simulate

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/sthaid/proj-fusor-sub000/internal/camera"
)

// pulseShape is the simulated pulse's four sample heights, ported
// verbatim from util_mccdaq.c's MCCDAQ_TEST block.
var pulseShape = [4]int16{3000, 2600, 2150, 2300}

// FastADCDevice is a fastadc.Device that synthesizes a flat 2048 baseline
// with a four-sample pulse injected once every pulsePeriod samples,
// mirroring the original simulator's "every 25th transfer" cadence
// generalized to a per-sample cadence so it behaves the same regardless
// of the caller's transfer chunk size.
type FastADCDevice struct {
	mu         sync.Mutex
	counter    uint64
	pulsePeriod uint64
	maxPacket  int
}

// NewFastADCDevice constructs a simulated USB bulk-transfer device.
// pulsePeriod is the sample spacing between injected pulses (the original
// simulator's 25-transfers-of-~1000-samples cadence collapses to one
// pulse roughly every 5000 samples here).
func NewFastADCDevice() *FastADCDevice {
	return &FastADCDevice{pulsePeriod: 5000, maxPacket: 512}
}

func (d *FastADCDevice) MaxPacketSize() int { return d.maxPacket }
func (d *FastADCDevice) ClearHalt() error   { return nil }
func (d *FastADCDevice) Restart(ctx context.Context) error { return nil }
func (d *FastADCDevice) Close() error { return nil }

// BulkRead fills buf with 2-byte little-endian samples until buf is full
// or ctx is cancelled.
func (d *FastADCDevice) BulkRead(ctx context.Context, buf []byte) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(buf) / 2
	for i := 0; i < n; i++ {
		v := int16(2048)
		if pos := d.counter % d.pulsePeriod; pos < uint64(len(pulseShape)) {
			v = pulseShape[pos]
		}
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(v))
		d.counter++
	}
	return n * 2, nil
}

// simulatedFrameInterval is the pacing between synthesized frames,
// standing in for a ~30 fps MJPEG stream so camera.Acquirer.GetBuff's
// drain-until-empty loop sees a realistic burst-then-idle pattern instead
// of spinning for its full 2-second timeout collecting an unbounded
// backlog every call.
const simulatedFrameInterval = 33 * time.Millisecond

// CameraDevice is a camera.Device that hands out an incrementing-ID
// placeholder "JPEG" buffer, paced at simulatedFrameInterval, standing in
// for a V4L2 MJPEG stream per spec.md's Non-goals (JPEG decoding/encoding
// out of scope; only the buffer lifecycle and pacing matter here).
type CameraDevice struct {
	mu        sync.Mutex
	nextID    int
	lastFrame time.Time
	interval  time.Duration
}

// NewCameraDevice constructs a simulated camera streaming device.
func NewCameraDevice() *CameraDevice {
	return &CameraDevice{interval: simulatedFrameInterval}
}

func (c *CameraDevice) TryDequeue() (camera.Buffer, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if now.Sub(c.lastFrame) < c.interval {
		return camera.Buffer{}, false, nil
	}
	c.lastFrame = now
	c.nextID++
	return camera.Buffer{
		ID:        c.nextID,
		JPEG:      placeholderJPEG(c.nextID),
		CaptureAt: now,
	}, true, nil
}

func (c *CameraDevice) Requeue(id int) error { return nil }

func placeholderJPEG(frameID int) []byte {
	var b bytes.Buffer
	b.Write([]byte{0xff, 0xd8, 0xff, 0xd9}) // minimal SOI/EOI marker pair
	fmt.Fprintf(&b, "frame-%d", frameID)
	return b.Bytes()
}

// SerialPort is a serialadc.Port simulating the DATAQ DI-194-style
// command/response protocol: STOP/INFO/SLIST/SRATE/BIN/START over Write,
// and framed samples over Read once started, per original_source/
// util_dataq.c's dataq_init command sequence and dataq_recv_data_thread's
// sync-bit framing.
type SerialPort struct {
	mu       sync.Mutex
	scanlist []int
	interval time.Duration // pacing between synthesized frames

	started    bool
	pendingOut bytes.Buffer // queued bytes available to the next Read

	scanCounter uint64
	lastFrame   time.Time
}

// NewSerialPort constructs a simulated serial ADC port bound to scanlist
// (the ordered channel numbers the caller will configure via SLIST), paced
// at the nominal 750 Hz scan rate from config.Default so the Read loop
// doesn't spin the consuming goroutine at full CPU.
func NewSerialPort(scanlist []int) *SerialPort {
	return &SerialPort{scanlist: scanlist, interval: time.Second / 750}
}

func (p *SerialPort) SetSpeed(baud int) error { return nil }
func (p *SerialPort) Close() error            { return nil }

// Write accepts one command per call (as serialadc.Acquirer sends them),
// echoing it back so drainWithStop's STOP-echo wait succeeds, and marking
// the simulated scan started once it sees "start\r".
func (p *SerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pendingOut.Write(b)
	if bytes.HasPrefix(b, []byte("start")) {
		p.started = true
	}
	if bytes.HasPrefix(b, []byte("stop")) {
		p.started = false
	}
	return len(b), nil
}

// Read drains any queued command echo first; once started, it
// synthesizes one scan frame's worth of correctly sync-bit-framed sample
// bytes per call.
func (p *SerialPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pendingOut.Len() > 0 {
		return p.pendingOut.Read(buf)
	}
	if !p.started || len(p.scanlist) == 0 {
		return 0, nil
	}
	if wait := p.interval - time.Since(p.lastFrame); wait > 0 {
		p.mu.Unlock()
		time.Sleep(wait)
		p.mu.Lock()
	}
	p.lastFrame = time.Now()

	frame := p.synthesizeFrame()
	n := copy(buf, frame)
	return n, nil
}

// synthesizeFrame builds one scan's worth of 2-byte slots, sync bit 0 at
// every slot's first byte per the (corrected) framing convention this
// module's own Acquirer.readFrame validates both at frame start and past
// the frame's end.
func (p *SerialPort) synthesizeFrame() []byte {
	frame := make([]byte, 2*len(p.scanlist))
	for i := range p.scanlist {
		raw := int32(2048 + int(p.scanCounter%50))
		b0, b1 := encodeSlot(raw)
		frame[2*i] = b0 &^ 0x01 // sync bit clear
		frame[2*i+1] = b1
	}
	p.scanCounter++
	return frame
}

// encodeSlot is the inverse of serialadc.DecodeSlot, used only by the
// simulator to produce bytes the real decoder can round-trip: undo the
// 0x800 XOR and sign-extension, then repack the 12-bit value into the
// same b0 bits3-7 / b1 bits1-7 layout DecodeSlot unpacks.
func encodeSlot(raw int32) (b0, b1 byte) {
	v := (uint32(raw) & 0xfff) ^ 0x800
	b1 = byte((v >> 4) & 0xfe)
	b0 = byte((v << 3) & 0xf8)
	return b0, b1
}
