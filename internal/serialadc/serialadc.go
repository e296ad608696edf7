// Package serialadc implements SerialAcquirer: the DATAQ multi-channel
// serial ADC interface — tty configuration, the STOP/INFO/SLIST/SRATE/
// BIN/START command protocol, binary frame decoding, and a scan-rate
// health monitor.
//
// Grounded on original_source/util_dataq.c (dataq_init's command
// sequence, the binary frame sync-bit convention, the 12-bit sign-extend
// decode) and doismellburning-samoyed/src/serial_port.go's
// github.com/pkg/term usage for tty configuration.
package serialadc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/term"

	"github.com/sthaid/proj-fusor-sub000/internal/ring"
)

// Baud is the DATAQ device's fixed serial speed.
const Baud = 115200

// baseRateNumerator is the numerator in SRATE's formula (750000 / scan_hz).
const baseRateNumerator = 750000

// scanOkayTolerancePct is the allowed deviation between observed and
// configured scan_hz before scan_okay goes false.
const scanOkayTolerancePct = 10

// Port is the serial transport collaborator, satisfied by *term.Term in
// production and by a pty pair or in-memory pipe in tests.
type Port interface {
	io.ReadWriteCloser
	SetSpeed(baud int) error
}

// termPort adapts *term.Term to Port (SetSpeed already matches).
type termPort struct{ *term.Term }

// Open opens and configures devicePath as a DATAQ serial port: raw mode at
// Baud, matching doismellburning-samoyed/src/serial_port.go's
// term.Open(name, term.RawMode) + SetSpeed idiom.
func Open(devicePath string) (Port, error) {
	t, err := term.Open(devicePath, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("serialadc: open %s: %w", devicePath, err)
	}
	if err := t.SetSpeed(Baud); err != nil {
		t.Close()
		return nil, fmt.Errorf("serialadc: set speed: %w", err)
	}
	return termPort{t}, nil
}

// Acquirer drives the DATAQ protocol over a Port and feeds decoded
// samples into one ring.SampleRing per bound channel.
type Acquirer struct {
	port     Port
	scanlist []int
	scanHz   int
	rings    map[int]*ring.SampleRing
	logger   *log.Logger

	scanCount atomic.Uint64
	scanOkay  atomic.Bool
	lastCount uint64
}

// New constructs an Acquirer bound to scanlist (ordered ADC channel
// numbers) sampling at scanHz, pushing decoded samples into rings (keyed
// by channel number).
func New(port Port, scanlist []int, scanHz int, rings map[int]*ring.SampleRing, logger *log.Logger) *Acquirer {
	return &Acquirer{
		port:     port,
		scanlist: scanlist,
		scanHz:   scanHz,
		rings:    rings,
		logger:   logger,
	}
}

// frameSize is the number of bytes per scan frame: 2 bytes per scanlist
// entry.
func (a *Acquirer) frameSize() int { return 2 * len(a.scanlist) }

// Init drains any prior session, then issues the DATAQ command sequence:
// INFO, SLIST bindings, SRATE, BIN, START. Per spec.md §4.4, write
// failures here are fatal.
func (a *Acquirer) Init(ctx context.Context) error {
	if err := a.drainWithStop(ctx); err != nil {
		return fmt.Errorf("serialadc: init: %w", err)
	}
	if err := a.writeLine("info 0"); err != nil {
		return fmt.Errorf("serialadc: info: %w", err)
	}
	for i, ch := range a.scanlist {
		if err := a.writeLine(fmt.Sprintf("slist %d x%4.4x", i, ch)); err != nil {
			return fmt.Errorf("serialadc: slist: %w", err)
		}
	}
	srateArg := baseRateNumerator / a.scanHz
	if err := a.writeLine(fmt.Sprintf("srate x%4.4x", srateArg)); err != nil {
		return fmt.Errorf("serialadc: srate: %w", err)
	}
	if err := a.writeLine("bin"); err != nil {
		return fmt.Errorf("serialadc: bin: %w", err)
	}
	if err := a.writeLine("start"); err != nil {
		return fmt.Errorf("serialadc: start: %w", err)
	}
	for _, r := range a.rings {
		r.SetOkay(true)
	}
	return nil
}

func (a *Acquirer) writeLine(s string) error {
	_, err := a.port.Write([]byte(s + "\r"))
	return err
}

// drainWithStop issues STOP repeatedly until its echo is observed, with a
// 1-second timeout; fatal (returns an error) otherwise, per spec.md §4.4.
func (a *Acquirer) drainWithStop(ctx context.Context) error {
	if err := a.writeLine("stop"); err != nil {
		return err
	}
	deadline := time.Now().Add(time.Second)
	buf := make([]byte, 64)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, _ := a.port.Read(buf)
		if n > 0 {
			return nil
		}
	}
	return fmt.Errorf("serialadc: no STOP echo within timeout")
}

// Run reads frames until ctx is cancelled or a sync error is detected, in
// which case the device is marked Unavailable (all rings set not-okay)
// and the error is returned.
func (a *Acquirer) Run(ctx context.Context) error {
	r := bufio.NewReaderSize(a.port, 4096)
	frame := make([]byte, a.frameSize())

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := a.readFrame(r, frame); err != nil {
			a.markUnavailable()
			return fmt.Errorf("serialadc: lost sync: %w", err)
		}
		a.decodeFrame(frame)
		a.scanCount.Add(1)
	}
}

// readFrame reads one scan frame, verifying the sync convention: the low
// bit of the first slot's first byte is 0, and the low bit of the first
// byte one slot past the frame (the next scan's first slot) is also 0,
// per original_source/util_dataq.c's dataq_recv_data_thread check
// (`(buff[0]&1) != 0 || (buff[max_slist_idx*2]&1) != 0` both reject).
func (a *Acquirer) readFrame(r *bufio.Reader, frame []byte) error {
	if _, err := io.ReadFull(r, frame); err != nil {
		return err
	}
	if frame[0]&0x01 != 0 {
		return fmt.Errorf("sync bit set on frame start")
	}
	next, err := r.Peek(1)
	if err == nil && next[0]&0x01 != 0 {
		return fmt.Errorf("sync bit set past frame end")
	}
	return nil
}

// decodeFrame decodes each 2-byte slot in frame per spec.md §4.4's
// 12-bit sign-extend and pushes it into the corresponding channel's ring.
func (a *Acquirer) decodeFrame(frame []byte) {
	for i, ch := range a.scanlist {
		b0, b1 := frame[2*i], frame[2*i+1]
		raw := DecodeSlot(b0, b1)
		mv := int16(ring.MvFromRaw12(raw))
		if r, ok := a.rings[ch]; ok {
			r.Push(mv)
		}
	}
}

// DecodeSlot decodes one 2-byte little-endian DATAQ sample slot into a
// signed 12-bit raw ADC code, per spec.md §4.4.
func DecodeSlot(b0, b1 byte) int32 {
	raw := (int32(b1&0xfe) << 4) | int32(b0>>3)
	raw ^= 0x800
	if raw&0x800 != 0 {
		raw |= ^0xfff // sign-extend the 12-bit field into a 32-bit int
	}
	return raw
}

// Monitor wakes once per second, compares scanCount's delta to the
// expected scanHz, and sets scanOkay accordingly, propagating the same
// verdict to every bound ring via SetOkay so ring.Stats()/Tail() readers
// observe Unavailable the moment the scan rate drifts out of tolerance,
// per spec.md §4.4/§7. It runs until ctx is cancelled.
func (a *Acquirer) Monitor(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.monitorTick()
		}
	}
}

// monitorTick runs one Monitor tick's worth of work; split out of Monitor
// so tests can drive it without waiting on the real one-second ticker.
func (a *Acquirer) monitorTick() {
	cur := a.scanCount.Load()
	delta := cur - a.lastCount
	a.lastCount = cur

	expected := uint64(a.scanHz)
	tolerance := expected * scanOkayTolerancePct / 100
	okay := delta+tolerance >= expected && delta <= expected+tolerance
	a.scanOkay.Store(okay)
	for _, r := range a.rings {
		r.SetOkay(okay)
	}
	if !okay && a.logger != nil {
		a.logger.Warn("serialadc: scan rate out of tolerance", "delta", delta, "expected", expected)
	}
}

// ScanOkay reports whether the most recent monitor tick found the scan
// rate within tolerance.
func (a *Acquirer) ScanOkay() bool { return a.scanOkay.Load() }

func (a *Acquirer) markUnavailable() {
	a.scanOkay.Store(false)
	for _, r := range a.rings {
		r.SetOkay(false)
	}
}
