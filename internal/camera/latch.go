package camera

import (
	"context"
	"sync"
	"time"
)

// Latch is the mutex-guarded "most recent JPEG frame" store a client-side
// camera feeds, read by any number of consumers via Latest — in
// particular netio.Client's LocalCamera seam, which splices a locally
// captured frame into a record the server sent without one.
//
// Grounded on original_source/display.c's cam_thread (the single
// jpeg_mutex guarding jpeg_buff + jpeg_buff_us, held only across the
// memcpy and timestamp update) and spec.md §5's "Latest JPEG buffer and
// its timestamp are guarded by one mutex held only across memcpy +
// timestamp update".
type Latch struct {
	acq *Acquirer

	mu         sync.Mutex
	jpeg       []byte
	capturedAt time.Time
	have       bool
}

// NewLatch constructs a Latch pulling buffers from acq.
func NewLatch(acq *Acquirer) *Latch {
	return &Latch{acq: acq}
}

// Run repeatedly calls GetBuff and latches each returned frame until ctx
// is cancelled. It is meant to run in its own goroutine.
func (l *Latch) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		buf, _, err := l.acq.GetBuff(ctx)
		if err != nil {
			continue
		}
		l.set(buf)
		l.acq.PutBuff(buf)
	}
}

func (l *Latch) set(buf Buffer) {
	l.mu.Lock()
	l.jpeg = buf.JPEG
	l.capturedAt = buf.CaptureAt
	l.have = true
	l.mu.Unlock()
}

// Latest reports the most recently latched JPEG bytes and capture time,
// satisfying netio.LocalCamera.
func (l *Latch) Latest() (jpeg []byte, capturedAt time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.jpeg, l.capturedAt, l.have
}
