package camera

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatchStartsEmpty(t *testing.T) {
	a := New(&fakeDevice{})
	l := NewLatch(a)
	_, _, ok := l.Latest()
	assert.False(t, ok)
}

func TestLatchRunLatchesFrames(t *testing.T) {
	capturedAt := time.Now()
	dev := &fakeDevice{queue: []Buffer{{ID: 1, JPEG: []byte("frame-a"), CaptureAt: capturedAt}}}
	a := New(dev)
	l := NewLatch(a)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, _, ok := l.Latest()
		return ok
	}, 150*time.Millisecond, 5*time.Millisecond)

	jpeg, at, ok := l.Latest()
	assert.True(t, ok)
	assert.Equal(t, []byte("frame-a"), jpeg)
	assert.Equal(t, capturedAt, at)

	cancel()
	<-done
}
