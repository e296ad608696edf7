// Package camera implements CameraAcquirer: a V4L2-style MJPEG streaming
// collaborator interface, the buffer-drain/requeue policy, and the
// staleness rule the Fuser applies before latching a frame.
//
// Grounded on original_source/display.c's cam_thread (jpeg_buff +
// mutex-guarded capture timestamp, staleness check before splicing a
// frame into an outgoing record). The V4L2 driver itself is out of scope
// per spec.md's Non-goals; Device is the seam.
package camera

import (
	"context"
	"errors"
	"time"
)

// MinQueuedBuffers is the minimum buffer count a Device must support
// (N >= 8, per spec.md §4.5).
const MinQueuedBuffers = 8

// maxBacklog: once more than this many buffers are dequeued and waiting,
// the oldest surplus are requeued with a warning.
const maxBacklog = 3

// getBuffTimeout/pollInterval bound get_buff's polling loop.
const (
	getBuffTimeout = 2 * time.Second
	pollInterval   = time.Millisecond
)

// ErrNotResponding is returned by GetBuff when no buffer became available
// within the timeout.
var ErrNotResponding = errors.New("camera: device not responding")

// stalenessWindow bounds how old a latched frame may be before the Fuser
// refuses it (spec.md §4.5: now_us - capture_us < 1_000_000).
const stalenessWindow = time.Second

// Buffer is one dequeued MJPEG frame.
type Buffer struct {
	ID        int
	JPEG      []byte
	CaptureAt time.Time
}

// Device is the V4L2-style streaming collaborator: TryDequeue returns a
// newly available buffer if one is ready, or ok=false if none is ready
// yet. Requeue returns a buffer to the driver's queue.
type Device interface {
	TryDequeue() (buf Buffer, ok bool, err error)
	Requeue(id int) error
}

// Acquirer implements GetBuff/PutBuff's drain-and-requeue policy over a
// Device.
type Acquirer struct {
	dev Device
}

// New constructs an Acquirer over dev.
func New(dev Device) *Acquirer {
	return &Acquirer{dev: dev}
}

// GetBuff drains all currently-dequeued buffers, requeues all but the
// newest, and returns the newest. If a backlog beyond maxBacklog built up,
// the oldest surplus are requeued with a warning reported via the
// returned warnings slice. It polls for up to getBuffTimeout before
// returning ErrNotResponding.
func (a *Acquirer) GetBuff(ctx context.Context) (Buffer, []string, error) {
	var drained []Buffer
	deadline := time.Now().Add(getBuffTimeout)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return Buffer{}, nil, ctx.Err()
		default:
		}

		buf, ok, err := a.dev.TryDequeue()
		if err != nil {
			return Buffer{}, nil, err
		}
		if !ok {
			if len(drained) > 0 {
				break
			}
			time.Sleep(pollInterval)
			continue
		}
		drained = append(drained, buf)
	}

	if len(drained) == 0 {
		return Buffer{}, nil, ErrNotResponding
	}

	var warnings []string
	if len(drained) > maxBacklog {
		surplus := drained[:len(drained)-maxBacklog]
		warnings = append(warnings, "camera: backlog exceeded, requeuing oldest surplus buffers")
		for _, b := range surplus {
			a.dev.Requeue(b.ID)
		}
		drained = drained[len(drained)-maxBacklog:]
	}

	newest := drained[len(drained)-1]
	for _, b := range drained[:len(drained)-1] {
		a.dev.Requeue(b.ID)
	}
	return newest, warnings, nil
}

// PutBuff requeues buf to the driver.
func (a *Acquirer) PutBuff(buf Buffer) error {
	return a.dev.Requeue(buf.ID)
}

// Fresh reports whether buf was captured recently enough for the Fuser to
// latch it, per spec.md §4.5's staleness rule.
func Fresh(buf Buffer, now time.Time) bool {
	return now.Sub(buf.CaptureAt) < stalenessWindow
}
