package netio

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sthaid/proj-fusor-sub000/internal/sentinel"
	"github.com/sthaid/proj-fusor-sub000/internal/wire"
)

func TestServerBroadcastsToConnectedClient(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer srv.Close()

	go srv.Serve()

	conn, err := dialRetry(srv.listener.Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(20 * time.Millisecond) // let Serve register the connection

	p1 := wire.Part1{Magic: wire.MagicPart1, Time: 100, VoltageMeanKV: sentinel.Real(1.0)}
	p2 := wire.Part2{Magic: wire.MagicPart2}
	p1.DataPart2Length = uint32(p2.EncodedLen())
	srv.Emit(p1, p2)

	gotP1, err := wire.DecodePart1(conn)
	require.NoError(t, err)
	assert.Equal(t, int64(100), gotP1.Time)

	gotP2, err := wire.DecodePart2(conn, gotP1.DataPart2Length)
	require.NoError(t, err)
	assert.Equal(t, wire.MagicPart2, gotP2.Magic)
}

func TestServerDropsClientOnWriteError(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer srv.Close()

	go srv.Serve()

	conn, err := dialRetry(srv.listener.Addr().String(), time.Second)
	require.NoError(t, err)
	conn.Close() // close immediately so the next Emit's write fails

	time.Sleep(20 * time.Millisecond)

	p1 := wire.Part1{Magic: wire.MagicPart1, Time: 1}
	p2 := wire.Part2{Magic: wire.MagicPart2}
	p1.DataPart2Length = uint32(p2.EncodedLen())
	srv.Emit(p1, p2)
	srv.Emit(p1, p2) // a second emit after the dropped write should not panic

	srv.mu.Lock()
	n := len(srv.conns)
	srv.mu.Unlock()
	assert.Equal(t, 0, n)
}

func dialRetry(addr string, timeout time.Duration) (conn net.Conn, err error) {
	deadline := time.Now().Add(timeout)
	for {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			return conn, nil
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		time.Sleep(5 * time.Millisecond)
	}
}
