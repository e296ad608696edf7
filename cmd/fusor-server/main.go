// Command fusor-server acquires fast-ADC, serial-ADC, and camera
// telemetry, fuses it into one-second records, streams them to connected
// clients, and persists them to a memory-mapped log file.
//
// Grounded on original_source/get_data.c's main() (device init order,
// server listen/accept, the one-second server_thread loop) and
// doismellburning-samoyed/src/atest.go's pflag.Usage + flag-validation
// idiom, generalized from a test-fixture CLI to a long-running daemon's.
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
	"github.com/jochenvg/go-udev"
	"github.com/lestrrat-go/strftime"
	"github.com/spf13/pflag"

	"github.com/sthaid/proj-fusor-sub000/internal/camera"
	"github.com/sthaid/proj-fusor-sub000/internal/config"
	"github.com/sthaid/proj-fusor-sub000/internal/fastadc"
	"github.com/sthaid/proj-fusor-sub000/internal/fuse"
	"github.com/sthaid/proj-fusor-sub000/internal/logstore"
	"github.com/sthaid/proj-fusor-sub000/internal/netio"
	"github.com/sthaid/proj-fusor-sub000/internal/pulse"
	"github.com/sthaid/proj-fusor-sub000/internal/ring"
	"github.com/sthaid/proj-fusor-sub000/internal/serialadc"
	"github.com/sthaid/proj-fusor-sub000/internal/simulate"
	"github.com/sthaid/proj-fusor-sub000/internal/wire"
)

// ringCapacity/ringWindow size the per-channel SampleRings; window=4
// matches the short averaging window exercised by the package tests,
// capacity comfortably covers wire.MaxADCSamples's Tail(10000) request.
const (
	ringCapacity = 20000
	ringWindow   = 4
)

// defaultLogFilename formats fusor_YYMMDD_HHMMSS.dat for the given time,
// per SPEC_FULL.md §2.1's strftime grounding.
func defaultLogFilename(t time.Time) string {
	name, err := strftime.Format("fusor_%y%m%d_%H%M%S.dat", t)
	if err != nil {
		return "fusor.dat"
	}
	return name
}

func main() {
	listenAddr := pflag.StringP("listen", "l", "", "TCP listen address (default :9001, or the config file's listen_addr)")
	configPath := pflag.StringP("config", "c", "", "YAML configuration file (built-in defaults if omitted)")
	logFile := pflag.StringP("log-file", "o", "", "Output log file path (default fusor_<timestamp>.dat)")
	sim := pflag.Bool("sim", false, "Simulate the serial ADC instead of opening a real tty port (the fast-ADC and camera are always simulated; see DESIGN.md)")
	help := pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s acquires, fuses, and serves fusor telemetry.\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]...\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	logger := log.New(os.Stderr)
	logger.SetReportTimestamp(true)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Error("failed to load config", "path", *configPath, "err", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	outPath := *logFile
	if outPath == "" {
		outPath = defaultLogFilename(time.Now())
	}

	ls, err := logstore.Create(outPath, time.Now().Unix())
	if err != nil {
		logger.Error("failed to create log file", "path", outPath, "err", err)
		os.Exit(1)
	}
	defer ls.Close()
	rec := logstore.NewRecorder(ls)

	rings := fuse.Rings{
		Voltage:    ring.New(ringCapacity, ringWindow),
		Current:    ring.New(ringCapacity, ringWindow),
		PressureD2: ring.New(ringCapacity, ringWindow),
		PressureN2: ring.New(ringCapacity, ringWindow),
		He3:        ring.New(ringCapacity, ringWindow),
	}
	for _, r := range []*ring.SampleRing{rings.Voltage, rings.Current, rings.PressureD2, rings.PressureN2, rings.He3} {
		r.SetOkay(true)
	}

	// The fast-ADC USB bulk transfer and the V4L2 camera stream have no
	// real-hardware implementation in this module (libusb/V4L2 SDK
	// integration is out of scope per spec.md's Non-goals); only the
	// simulated collaborators are wired, regardless of -sim. -sim
	// additionally swaps the serial ADC — the one seam this module does
	// implement for real, via pkg/term — to a simulated Port.
	detector := pulse.NewDetector(fastadc.FrequencyHz+1, logger)
	fast := fastadc.New(simulate.NewFastADCDevice(), detector, logger)
	fast.SetTraceRing(rings.He3)

	cam := camera.New(simulate.NewCameraDevice())

	var serialPort serialadc.Port
	if *sim {
		serialPort = simulate.NewSerialPort(cfg.SerialScanlist)
	} else {
		devicePath := discoverSerialDevice(cfg.SerialDeviceGlob, logger)
		p, err := serialadc.Open(devicePath)
		if err != nil {
			logger.Error("failed to open serial device", "path", devicePath, "err", err)
			os.Exit(1)
		}
		serialPort = p
	}

	channelRings := map[int]*ring.SampleRing{
		cfg.VoltageChannel: rings.Voltage,
		cfg.CurrentChannel: rings.Current,
		cfg.PressureD2Chan: rings.PressureD2,
		cfg.PressureN2Chan: rings.PressureN2,
	}
	serial := serialadc.New(serialPort, cfg.SerialScanlist, cfg.ScanHz, channelRings, logger)

	netServer, err := netio.NewServer(cfg.ListenAddr, logger)
	if err != nil {
		logger.Error("failed to listen", "addr", cfg.ListenAddr, "err", err)
		os.Exit(1)
	}

	cpm := pulse.NewCpmWindow()
	fuser := fuse.New(cfg, rings, cpm, cam, logger, netServer, &recorderSink{rec: rec, logger: logger})

	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	if err := serial.Init(ctx); err != nil {
		logger.Error("serial adc init failed", "err", err)
		os.Exit(1)
	}
	if err := fast.Start(ctx); err != nil {
		logger.Error("fast adc start failed", "err", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := netServer.Serve(); err != nil {
			logger.Error("netio serve exited", "err", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := serial.Run(ctx); err != nil {
			logger.Error("serial adc lost sync", "err", err)
		}
	}()
	go func() {
		defer wg.Done()
		serial.Monitor(ctx)
	}()

	runFusionLoop(ctx, cam, detector, cpm, fuser, logger)

	fast.Stop()
	netServer.Close()
	wg.Wait()
	logger.Info("fusor-server: shut down cleanly")
}

// runFusionLoop drives the once-per-second cadence off the camera
// acquirer's grab, per spec.md §4.6: each new wall-clock second closes
// out the pulse detector's window, feeds the CPM moving-average windows,
// and ticks the Fuser with whatever camera frame (if any) is fresh.
func runFusionLoop(ctx context.Context, cam *camera.Acquirer, detector *pulse.Detector, cpm *pulse.CpmWindow, fuser *fuse.Fuser, logger *log.Logger) {
	var lastSecond int64 = -1
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		buf, warnings, grabErr := cam.GetBuff(ctx)
		for _, w := range warnings {
			logger.Warn(w)
		}
		if ctx.Err() != nil {
			return
		}

		now := time.Now().Unix()
		if now == lastSecond {
			continue
		}
		lastSecond = now

		cpm.Push(detector.EndSecond())

		if grabErr != nil {
			if !errors.Is(grabErr, camera.ErrNotResponding) {
				logger.Warn("camera grab failed", "err", grabErr)
			}
			fuser.Tick(now, nil)
			continue
		}
		if !camera.Fresh(buf, time.Now()) {
			fuser.Tick(now, nil)
			continue
		}
		fuser.Tick(now, &buf)
	}
}

// recorderSink adapts logstore.Recorder to fuse.Sink. A *logstore.FatalError
// from Write is a programming-invariant violation per spec.md §7: log and
// terminate the process rather than attempt to continue recording.
type recorderSink struct {
	rec    *logstore.Recorder
	logger *log.Logger
}

func (s *recorderSink) Emit(p1 wire.Part1, p2 wire.Part2) {
	err := s.rec.Write(p1, p2)
	if err == nil {
		return
	}
	var fatal *logstore.FatalError
	if errors.As(err, &fatal) {
		s.logger.Error("logstore: fatal, terminating", "kind", fatal.Kind, "file", fatal.File, "state", fatal.State)
		os.Exit(1)
	}
	s.logger.Error("logstore: write failed", "err", err)
}

// discoverSerialDevice resolves the DATAQ tty device node by udev property
// match (vendor-specific ID_SERIAL tag), falling back to cfg's configured
// glob path if discovery turns up nothing — discovery failures are
// logged, not fatal, since the configured path may already be correct.
func discoverSerialDevice(fallback string, logger *log.Logger) string {
	u := udev.Udev{}
	e := u.NewEnumerate()
	if err := e.AddMatchSubsystem("tty"); err != nil {
		logger.Warn("udev: match subsystem failed, using configured path", "err", err)
		return fallback
	}
	if err := e.AddMatchProperty("ID_SERIAL", "DATAQ*"); err != nil {
		logger.Warn("udev: match property failed, using configured path", "err", err)
		return fallback
	}
	devices, err := e.Devices()
	if err != nil || len(devices) == 0 {
		return fallback
	}
	return devices[0].Devnode()
}
