package netio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sthaid/proj-fusor-sub000/internal/logstore"
	"github.com/sthaid/proj-fusor-sub000/internal/wire"
)

const (
	recvTimeout       = 5 * time.Second
	reconnectBackoff  = 1 * time.Second
	maxServerTimeSkew = 5 // seconds, per spec.md §4.8 step 4
	cameraStaleness   = time.Second
)

// ErrTimeError reports that the server's clock has drifted too far from
// the local clock, a terminal condition per spec.md §4.8 step 4.
var ErrTimeError = errors.New("netio: server time skew exceeds tolerance")

// LocalCamera is the seam a Client uses to splice a locally captured JPEG
// into a record the server sent without one, per spec.md §4.8 step 3.
type LocalCamera interface {
	Latest() (jpeg []byte, capturedAt time.Time, ok bool)
}

// Client implements the reconnecting live-acquisition loop: connect, read
// Part1/Part2 once per second, validate, gap-fill across disconnects, and
// hand completed records to a Recorder.
type Client struct {
	addr   string
	rec    *logstore.Recorder
	cam    LocalCamera
	logger *log.Logger

	dialFn           func(network, address string) (net.Conn, error)
	nowFn            func() int64
	reconnectBackoff time.Duration

	lostConnection bool
}

// NewClient constructs a Client dialing addr and writing gap-filled,
// monotonic records to rec.
func NewClient(addr string, rec *logstore.Recorder, cam LocalCamera, logger *log.Logger) *Client {
	return &Client{
		addr:             addr,
		rec:              rec,
		cam:              cam,
		logger:           logger,
		dialFn:           net.Dial,
		nowFn:            func() int64 { return time.Now().Unix() },
		reconnectBackoff: reconnectBackoff,
	}
}

// Run drives the connect/read/reconnect loop until ctx is cancelled or a
// fatal (file or time) error occurs.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := c.runOneConnection(ctx)
		if err == nil {
			return nil // ctx cancelled mid-connection
		}
		if errors.Is(err, ErrTimeError) {
			if c.logger != nil {
				c.logger.Error("netio: time error, terminating live-acquisition loop", "err", err)
			}
			return err
		}
		var fatal *logstore.FatalError
		if errors.As(err, &fatal) {
			if c.logger != nil {
				c.logger.Error("netio: log store fatal error, terminating live-acquisition loop", "err", err)
			}
			return err
		}

		if c.logger != nil {
			c.logger.Error("netio: connection failed, reestablishing", "err", err)
		}
		c.lostConnection = true
		if gapErr := c.gapFillToNow(); gapErr != nil {
			return gapErr
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.reconnectBackoff):
		}
	}
}

func (c *Client) runOneConnection(ctx context.Context) error {
	conn, err := c.dialFn("tcp", c.addr)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", c.addr, err)
	}
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if tc, ok := conn.(interface{ SetDeadline(time.Time) error }); ok {
			tc.SetDeadline(time.Now().Add(recvTimeout))
		}

		p1, err := wire.DecodePart1(conn)
		if err != nil {
			return fmt.Errorf("recv part1: %w", err)
		}
		if p1.DataPart2Length > wire.MaxDataPart2Length {
			return fmt.Errorf("data_part2_length %d too big", p1.DataPart2Length)
		}
		p2, err := wire.DecodePart2(conn, p1.DataPart2Length)
		if err != nil {
			return fmt.Errorf("recv part2: %w", err)
		}

		c.lostConnection = false

		if !p1.Valid(wire.ValidJpeg) && c.cam != nil {
			if jpeg, capturedAt, ok := c.cam.Latest(); ok && time.Since(capturedAt) < cameraStaleness {
				p2.JPEG = jpeg
				p1.SetValid(wire.ValidJpeg, true)
				p1.DataPart2Length = uint32(p2.EncodedLen())
			}
		}

		now := c.nowFn()
		delta := now - p1.Time
		if delta < 0 {
			delta = -delta
		}
		if delta > maxServerTimeSkew {
			return fmt.Errorf("%w: delta=%ds", ErrTimeError, delta)
		}

		if err := c.writeWithGapFill(p1, p2); err != nil {
			return fmt.Errorf("write to log store: %w", err)
		}
	}
}

func (c *Client) writeWithGapFill(p1 wire.Part1, p2 wire.Part2) error {
	if err := c.rec.WriteGapFill(p1.Time); err != nil {
		return err
	}
	return c.rec.Write(p1, p2)
}

// gapFillToNow writes NOVAL records up through the current wall clock,
// preserving the monotonic-time invariant across a lost connection, per
// spec.md §4.8 step 6.
func (c *Client) gapFillToNow() error {
	return c.rec.WriteGapFill(c.nowFn() + 1)
}

// LostConnection reports whether the most recent connection attempt is
// currently down.
func (c *Client) LostConnection() bool { return c.lostConnection }
