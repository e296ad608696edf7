// Command fusor-display is the LIVE/PLAYBACK telemetry client: it either
// connects to a fusor-server and records its stream to a local log file
// while driving a live display, opens an existing log file for playback,
// or (with -t) generates a synthetic test log file for exercising the
// display path without a server.
//
// Grounded on original_source/display.c's initialize()/main() (the
// LIVE/PLAYBACK/TEST mode selection, filename/.dat-extension validation,
// and generate_test_file) and doismellburning-samoyed/src/atest.go's
// pflag.Usage + flag-validation idiom.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
	"github.com/pkg/term"
	"github.com/spf13/pflag"

	"github.com/sthaid/proj-fusor-sub000/internal/camera"
	"github.com/sthaid/proj-fusor-sub000/internal/display"
	"github.com/sthaid/proj-fusor-sub000/internal/logstore"
	"github.com/sthaid/proj-fusor-sub000/internal/netio"
	"github.com/sthaid/proj-fusor-sub000/internal/sentinel"
	"github.com/sthaid/proj-fusor-sub000/internal/simulate"
	"github.com/sthaid/proj-fusor-sub000/internal/wire"
)

const version = "1.0"

const aboutText = `fusor-display: live acquisition, recording, and playback client
for the fusor telemetry server (fusor-server).

Keys: Esc quit, arrows move the playback cursor (Ctrl 10s, Alt 60s),
Home/End extents, Left/any move enters PLAYBACK, End returns to LIVE
if this session started there.
`

const pollInterval = 50 * time.Millisecond

func main() {
	os.Exit(run())
}

func run() int {
	help := pflag.BoolP("help", "h", false, "display help text")
	showVersion := pflag.BoolP("version", "v", false, "display version")
	geometry := pflag.StringP("geometry", "g", "1920x1000", "window geometry WxH (rendering toolkit out of scope; accepted for CLI compatibility)")
	server := pflag.StringP("server", "s", "rpi_data", "fusor-server host name")
	playbackFile := pflag.StringP("playback", "p", "", "playback an existing log file instead of connecting live")
	noCam := pflag.BoolP("no-cam", "x", false, "disable local camera capture in LIVE mode")
	testSecs := pflag.IntP("test", "t", 0, "generate a synthetic test log file of the given duration in seconds, instead of running the display")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n\n", aboutText)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]... [output-filename]\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		return 0
	}
	if *showVersion {
		fmt.Printf("fusor-display version %s\n", version)
		return 0
	}
	_ = geometry // window geometry has no effect without a rendering toolkit

	logger := log.New(os.Stderr)
	logger.SetReportTimestamp(true)

	if *testSecs > 0 {
		if *testSecs > wire.MaxFileDataPart1 {
			logger.Error("test seconds exceeds MAX_FILE_DATA_PART1", "secs", *testSecs, "max", wire.MaxFileDataPart1)
			return 1
		}
		path := testFilename(*testSecs)
		if len(pflag.Args()) > 0 {
			path = pflag.Args()[0]
		}
		if err := validateDatExtension(path); err != nil {
			logger.Error("invalid filename", "err", err)
			return 1
		}
		if err := generateTestFile(path, *testSecs, logger); err != nil {
			logger.Error("generate test file failed", "err", err)
			return 1
		}
		return 0
	}

	if *playbackFile != "" {
		return runPlayback(*playbackFile, logger)
	}

	path := defaultLiveFilename(time.Now())
	if len(pflag.Args()) > 0 {
		path = pflag.Args()[0]
	}
	if err := validateDatExtension(path); err != nil {
		logger.Error("invalid filename", "err", err)
		return 1
	}
	return runLive(path, *server, *noCam, logger)
}

func validateDatExtension(path string) error {
	if len(path) < 5 || path[len(path)-4:] != ".dat" {
		return fmt.Errorf("filename %q must have a .dat extension", path)
	}
	return nil
}

func defaultLiveFilename(t time.Time) string {
	name, err := strftime.Format("fusor_%y%m%d_%H%M%S.dat", t)
	if err != nil {
		return "fusor.dat"
	}
	return name
}

func testFilename(secs int) string {
	return fmt.Sprintf("fusor_test_%d_secs.dat", secs)
}

// generateTestFile writes a synthetic secs-long log file, ramping voltage
// and holding fixed current/pressure/cpm values, matching
// original_source/display.c's generate_test_file so the display path can
// be exercised without a server or real hardware.
func generateTestFile(path string, secs int, logger *log.Logger) error {
	logger.Info("generating test file", "path", path, "secs", secs)
	now := time.Now().Unix()

	ls, err := logstore.Create(path, now)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer ls.Close()
	rec := logstore.NewRecorder(ls)

	for idx := 0; idx < secs; idx++ {
		p1 := wire.Part1{
			Magic:         wire.MagicPart1,
			Time:          now + int64(idx),
			VoltageMeanKV: sentinel.Real(float32(30.0 * float64(idx) / float64(secs))),
			VoltageMinKV:  sentinel.Real(0),
			VoltageMaxKV:  sentinel.Real(float32(15.0 * float64(idx) / float64(secs))),
			CurrentMA:     sentinel.Real(0),
			PressureD2MT:  sentinel.Real(10),
			PressureN2MT:  sentinel.Real(20),
		}
		for ch := 0; ch < wire.MaxChannel; ch++ {
			p1.CpmSec[0][ch] = 1000
			p1.CpmSec[1][ch] = 1200
		}
		p1.SetValid(wire.ValidVoltage, true)
		p1.SetValid(wire.ValidCurrent, true)
		p1.SetValid(wire.ValidPressure, true)
		p1.SetValid(wire.ValidHe3, true)

		var p2 wire.Part2
		p2.Magic = wire.MagicPart2
		for i := 0; i < wire.MaxADCSamples; i++ {
			p2.VoltageTrace[i] = int16(10000 * i / wire.MaxADCSamples)
			p2.CurrentTrace[i] = int16(5000 * i / wire.MaxADCSamples)
			p2.PressureTrace[i] = int16(1000 * i / wire.MaxADCSamples)
		}
		p1.DataPart2Length = uint32(p2.EncodedLen())

		if err := rec.Write(p1, p2); err != nil {
			return fmt.Errorf("write record %d: %w", idx, err)
		}
		if idx > 0 && idx%1000 == 0 {
			logger.Info("generate test file progress", "completed", idx)
		}
	}
	logger.Info("test file complete", "path", path, "secs", secs)
	return nil
}

// runPlayback opens an existing log file and drives the display loop in
// PLAYBACK-only mode (initially_live_mode=false), per spec.md §4.9.
func runPlayback(path string, logger *log.Logger) int {
	ls, err := logstore.Open(path)
	if err != nil {
		logger.Error("open log file failed", "path", path, "err", err)
		return 1
	}
	defer ls.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver := display.New(ls, false)
	renderer := display.NewTextRenderer(os.Stdout, ls)
	runDisplayLoop(ctx, driver, renderer, nil, logger)
	return 0
}

// connState reports a live Client's connection/terminal status for the
// banner line, read from the main display loop.
type connState struct {
	mu         sync.Mutex
	lostConn   bool
	timeErrors bool
}

func (c *connState) setLost(v bool) {
	c.mu.Lock()
	c.lostConn = v
	c.mu.Unlock()
}

func (c *connState) setTimeError() {
	c.mu.Lock()
	c.timeErrors = true
	c.mu.Unlock()
}

func (c *connState) snapshot() (lost, timeErr bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lostConn, c.timeErrors
}

// runLive creates a new log file, connects to server over TCP, and drives
// the live-acquisition Recorder plus the LIVE-mode display loop, per
// spec.md §4.8/§4.9.
func runLive(path, server string, noCam bool, logger *log.Logger) int {
	ls, err := logstore.Create(path, time.Now().Unix())
	if err != nil {
		logger.Error("create log file failed", "path", path, "err", err)
		return 1
	}
	defer ls.Close()
	rec := logstore.NewRecorder(ls)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var localCam netio.LocalCamera
	if !noCam {
		acq := camera.New(simulate.NewCameraDevice())
		latch := camera.NewLatch(acq)
		go latch.Run(ctx)
		localCam = latch
	}

	addr := server
	if addr == "" {
		addr = "rpi_data"
	}
	client := netio.NewClient(addr+":9001", rec, localCam, logger)

	state := &connState{}
	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		err := client.Run(ctx)
		if errors.Is(err, netio.ErrTimeError) {
			state.setTimeError()
		} else if err != nil {
			logger.Warn("live-acquisition loop exited", "err", err)
		}
	}()
	go func() {
		t := time.NewTicker(200 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-clientDone:
				return
			case <-t.C:
				state.setLost(client.LostConnection())
			}
		}
	}()

	driver := display.New(ls, true)
	renderer := display.NewTextRenderer(os.Stdout, ls)
	runDisplayLoop(ctx, driver, renderer, state, logger)

	stop()
	select {
	case <-clientDone:
	case <-time.After(time.Second):
	}
	return 0
}

// runDisplayLoop polls the controlling tty for key events and redraws via
// renderer whenever Driver.ShouldRender says to, per spec.md §4.9's
// render-wait loop. state is nil in PLAYBACK mode (no live connection to
// report on).
func runDisplayLoop(ctx context.Context, driver *display.Driver, renderer *display.TextRenderer, state *connState, logger *log.Logger) {
	events := make(chan keyEvent, 16)
	go readKeys(ctx, events, logger)

	lastBanner := driver.CurrentBanner()
	quit := false
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for !quit {
		driver.Tick()
		if state != nil {
			lost, timeErr := state.snapshot()
			driver.SetLostConnection(lost)
			driver.SetTimeError(timeErr)
		}

		select {
		case <-ctx.Done():
			quit = true
		case ev := <-events:
			if driver.Dispatch(ev.key, ev.mod) {
				quit = true
			}
		case <-ticker.C:
		}

		should, nb := driver.ShouldRender(quit, len(events), lastBanner)
		lastBanner = nb
		if should {
			renderer.Render(driver)
			renderer.RenderBanner(driver.LostConnection(), driver.FileError(), driver.TimeError(), driver.ScreenshotMsg())
		}
	}
	renderer.Render(driver)
}

// keyEvent is one decoded keyboard event queued from the tty reader to
// the display loop.
type keyEvent struct {
	key display.Key
	mod display.Mod
}

// readKeys opens the controlling tty in raw mode and decodes keystrokes
// into keyEvents until ctx is cancelled, per spec.md §6.4's keyboard event
// table (the GUI rendering toolkit that would normally demultiplex SDL
// events is out of scope; this reads the raw byte stream directly, the
// same term.Open(name, term.RawMode) idiom internal/serialadc uses for
// tty configuration).
func readKeys(ctx context.Context, out chan<- keyEvent, logger *log.Logger) {
	t, err := term.Open("/dev/tty", term.RawMode)
	if err != nil {
		logger.Warn("display: cannot open controlling tty for keyboard input", "err", err)
		return
	}
	defer t.Restore()
	defer t.Close()

	buf := make([]byte, 8)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := t.Read(buf)
		if err != nil || n == 0 {
			continue
		}
		k, m := display.DecodeKey(buf[:n])
		if k == display.KeyNone {
			continue
		}
		select {
		case out <- keyEvent{k, m}:
		case <-ctx.Done():
			return
		}
	}
}
