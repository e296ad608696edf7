package camera

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	queue    []Buffer
	requeued []int
}

func (f *fakeDevice) TryDequeue() (Buffer, bool, error) {
	if len(f.queue) == 0 {
		return Buffer{}, false, nil
	}
	b := f.queue[0]
	f.queue = f.queue[1:]
	return b, true, nil
}

func (f *fakeDevice) Requeue(id int) error {
	f.requeued = append(f.requeued, id)
	return nil
}

func TestGetBuffReturnsNewestAndRequeuesRest(t *testing.T) {
	dev := &fakeDevice{queue: []Buffer{
		{ID: 1, CaptureAt: time.Now()},
		{ID: 2, CaptureAt: time.Now()},
		{ID: 3, CaptureAt: time.Now()},
	}}
	a := New(dev)
	buf, _, err := a.GetBuff(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, buf.ID)
	assert.ElementsMatch(t, []int{1, 2}, dev.requeued)
}

func TestGetBuffTimesOutWhenEmpty(t *testing.T) {
	dev := &fakeDevice{}
	a := New(dev)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err := a.GetBuff(ctx)
	assert.Error(t, err)
}

func TestFreshStalenessRule(t *testing.T) {
	now := time.Now()
	assert.True(t, Fresh(Buffer{CaptureAt: now.Add(-500 * time.Millisecond)}, now))
	assert.False(t, Fresh(Buffer{CaptureAt: now.Add(-1500 * time.Millisecond)}, now))
}
