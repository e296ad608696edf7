// Package fastadc implements FastAcquirer: a lock-free producer/consumer
// pipeline over a USB bulk-transfer endpoint feeding the pulse detector at
// roughly 500 kSa/s.
//
// Grounded on original_source/util_mccdaq.c's producer/consumer threads
// (MAX_DATA circular buffer, produced/consumed atomic cursors, restart on
// driver error, the zero-length-packet drain quirk) and on
// ea5aef8e_multiverse-hardware-labs-dastard/data_source.go's DataSource
// interface + goroutine-driven Start/Stop for the idiomatic-Go structuring
// of an acquirer's lifecycle.
package fastadc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sthaid/proj-fusor-sub000/internal/pulse"
	"github.com/sthaid/proj-fusor-sub000/internal/ring"
)

// Nominal acquisition parameters, ported from original_source/util_mccdaq.c.
const (
	Channel          = 0
	FrequencyHz      = 499999
	maxDataCells     = 20 * 500000
	maxTransferBytes = 20000
	backlogLimit     = 500000
)

// State is FastAcquirer's lifecycle state machine, per spec.md §4.3.
type State int32

const (
	NotInitialized State = iota
	Stopped
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case NotInitialized:
		return "NOT_INITIALIZED"
	case Stopped:
		return "STOPPED"
	case Running:
		return "RUNNING"
	case Stopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// ErrNotStopped is returned by Start when the acquirer isn't in the
// STOPPED state.
var ErrNotStopped = errors.New("fastadc: start rejected: not STOPPED")

// Device is the USB bulk-transfer collaborator FastAcquirer drives. A real
// implementation wraps a libusb-style handle; tests and the simulation
// mode substitute an in-memory generator. This is the seam that keeps the
// actual USB SDK out of this module, per spec.md's Non-goals.
type Device interface {
	// BulkRead reads up to len(buf) bytes into buf, returning the number
	// of bytes read. A non-nil error means the scan has faulted and
	// needs a restart.
	BulkRead(ctx context.Context, buf []byte) (n int, err error)
	// MaxPacketSize is the USB endpoint's max packet size, used to detect
	// the zero-length-packet quirk.
	MaxPacketSize() int
	// ClearHalt clears a halted endpoint.
	ClearHalt() error
	// Restart stops and restarts the scan at {Channel, FrequencyHz}.
	Restart(ctx context.Context) error
	// Close releases the device.
	Close() error
}

// Acquirer runs the producer/consumer pipeline described in spec.md §4.3.
type Acquirer struct {
	dev      Device
	detector *pulse.Detector
	logger   *log.Logger

	state atomic.Int32 // State

	produced atomic.Uint64
	consumed atomic.Uint64
	restarts atomic.Uint64

	buf []int16 // circular buffer of decoded samples, length maxDataCells

	traceRing *ring.SampleRing // optional: every consumed sample's mV value, for Part2's he3 trace

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// SetTraceRing binds r as the destination for every sample the consumer
// goroutine decodes (converted to millivolts), feeding Part2's he3 trace
// array independently of the pulse detector's per-second counting. Must
// be called before Start; nil (the default) disables trace recording.
func (a *Acquirer) SetTraceRing(r *ring.SampleRing) { a.traceRing = r }

// New constructs an Acquirer in the NOT_INITIALIZED state.
func New(dev Device, detector *pulse.Detector, logger *log.Logger) *Acquirer {
	a := &Acquirer{
		dev:      dev,
		detector: detector,
		logger:   logger,
		buf:      make([]int16, maxDataCells),
	}
	a.state.Store(int32(Stopped))
	return a
}

// State returns the current lifecycle state.
func (a *Acquirer) State() State { return State(a.state.Load()) }

// RestartCount returns how many times the producer has restarted the scan
// after a driver error, for observability.
func (a *Acquirer) RestartCount() uint64 { return a.restarts.Load() }

// Start transitions STOPPED -> RUNNING and launches the producer and
// consumer goroutines. It rejects if the acquirer is not STOPPED.
func (a *Acquirer) Start(ctx context.Context) error {
	if !a.state.CompareAndSwap(int32(Stopped), int32(Running)) {
		return ErrNotStopped
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(2)
	go a.producer(runCtx)
	go a.consumer(runCtx)
	return nil
}

// Stop transitions RUNNING -> STOPPING, cancels both tasks, and joins them
// before settling in STOPPED. Cancellation is cooperative: producer checks
// state each outer iteration, consumer each inner one, per spec.md §4.3.
func (a *Acquirer) Stop() {
	if !a.state.CompareAndSwap(int32(Running), int32(Stopping)) {
		return
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.state.Store(int32(Stopped))
}

func (a *Acquirer) stopping() bool { return State(a.state.Load()) == Stopping }

func (a *Acquirer) producer(ctx context.Context) {
	defer a.wg.Done()

	raw := make([]byte, maxTransferBytes)
	for !a.stopping() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		free := maxDataCells - int(a.produced.Load()-a.consumed.Load())
		if free <= 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		want := maxTransferBytes
		if free*2 < want {
			want = free * 2
		}

		n, err := a.dev.BulkRead(ctx, raw[:want])
		if err != nil {
			a.handleTransferError(ctx, err)
			continue
		}
		if n == 0 {
			continue
		}

		if n%a.dev.MaxPacketSize() == 0 {
			// Protocol quirk: an exact-multiple transfer is followed by a
			// 2-byte zero-length packet that must be drained.
			var drain [2]byte
			_, _ = a.dev.BulkRead(ctx, drain[:])
		}

		a.publish(raw[:n])
	}
}

func (a *Acquirer) handleTransferError(ctx context.Context, err error) {
	if a.logger != nil {
		a.logger.Warn("fastadc: transfer error, restarting scan", "err", err)
	}
	if err := a.dev.ClearHalt(); err != nil && a.logger != nil {
		a.logger.Warn("fastadc: clear halt failed", "err", err)
	}
	if err := a.dev.Restart(ctx); err != nil && a.logger != nil {
		a.logger.Error("fastadc: restart failed", "err", err)
	}
	a.restarts.Add(1)
}

// publish decodes raw little-endian 16-bit samples into the circular
// buffer and advances produced with release ordering.
func (a *Acquirer) publish(raw []byte) {
	n := len(raw) / 2
	start := int(a.produced.Load() % maxDataCells)
	for i := 0; i < n; i++ {
		v := int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
		a.buf[(start+i)%maxDataCells] = v
	}
	a.produced.Add(uint64(n))
}

func (a *Acquirer) consumer(ctx context.Context) {
	defer a.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if a.stopping() {
			return
		}

		produced := a.produced.Load()
		consumed := a.consumed.Load()
		if produced == consumed {
			time.Sleep(time.Millisecond)
			continue
		}
		if produced-consumed > backlogLimit {
			if a.logger != nil {
				a.logger.Warn("fastadc: consumer backlog exceeded, discarding", "backlog", produced-consumed)
			}
			a.consumed.Store(produced)
			continue
		}

		idx := int(consumed % maxDataCells)
		raw := int32(a.buf[idx])
		a.detector.Push(raw)
		if a.traceRing != nil {
			a.traceRing.Push(int16(ring.MvFromRaw12(raw)))
		}
		a.consumed.Add(1)
	}
}

// ErrRestart is an error value a Device may return from BulkRead. The
// producer restarts the scan on any BulkRead error, so it does not check
// for this value specifically.
var ErrRestart = fmt.Errorf("fastadc: device reported a restartable error")
