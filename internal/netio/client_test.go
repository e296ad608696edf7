package netio

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sthaid/proj-fusor-sub000/internal/logstore"
	"github.com/sthaid/proj-fusor-sub000/internal/sentinel"
	"github.com/sthaid/proj-fusor-sub000/internal/wire"
)

func recordFor(t int64) (wire.Part1, wire.Part2) {
	p1 := wire.Part1{Magic: wire.MagicPart1, Time: t, VoltageMeanKV: sentinel.Real(1.0)}
	p2 := wire.Part2{Magic: wire.MagicPart2}
	p1.DataPart2Length = uint32(p2.EncodedLen())
	return p1, p2
}

func newTestRecorder(t *testing.T) (*logstore.Recorder, *logstore.LogStore) {
	t.Helper()
	dir := t.TempDir()
	ls, err := logstore.Create(filepath.Join(dir, "run.dat"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { ls.Close() })
	return logstore.NewRecorder(ls), ls
}

func TestClientWritesReceivedRecords(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	now := time.Now().Unix()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		p1, p2 := recordFor(now)
		p1.EncodeTo(conn)
		p2.EncodeTo(conn)
		time.Sleep(50 * time.Millisecond)
	}()

	rec, ls := newTestRecorder(t)
	c := NewClient(ln.Addr().String(), rec, nil, nil)
	c.reconnectBackoff = time.Millisecond
	c.nowFn = func() int64 { return now }

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = c.Run(ctx)

	assert.Equal(t, uint32(1), ls.Max())
}

func TestClientTimeErrorTerminates(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		p1, p2 := recordFor(1000) // far from "now" below
		p1.EncodeTo(conn)
		p2.EncodeTo(conn)
		time.Sleep(50 * time.Millisecond)
	}()

	rec, _ := newTestRecorder(t)
	c := NewClient(ln.Addr().String(), rec, nil, nil)
	c.reconnectBackoff = time.Millisecond
	c.nowFn = func() int64 { return 100000 } // wildly different from 1000

	err = c.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeError)
}

func TestClientGapFillsAcrossReconnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	now := time.Now().Unix()
	connCount := 0
	go func() {
		for i := 0; i < 2; i++ {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			connCount++
			if i == 0 {
				p1, p2 := recordFor(now)
				p1.EncodeTo(conn)
				p2.EncodeTo(conn)
				conn.Close() // drop after first record to force a reconnect
			} else {
				conn.Close()
			}
		}
	}()

	rec, ls := newTestRecorder(t)
	c := NewClient(ln.Addr().String(), rec, nil, nil)
	c.reconnectBackoff = time.Millisecond
	// The local clock runs 3 s ahead of the one record the server sends, so
	// the drop must be followed by NOVAL records for now+1..now+3.
	c.nowFn = func() int64 { return now + 3 }

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = c.Run(ctx)

	require.Equal(t, uint32(4), ls.Max())
	gapFilled, err := ls.ReadPart1(1)
	require.NoError(t, err)
	assert.Equal(t, now+1, gapFilled.Time)
	assert.Equal(t, sentinel.NoValue, gapFilled.VoltageMeanKV.Kind())
}
