// Package fuse implements Fuser: the one-second cadence gatherer that
// assembles Part1/Part2 records from the fast-ADC pulse detector, the
// serial ADC sample rings, the pressure interpolation, and the latched
// camera frame.
//
// Grounded on original_source/get_data.c's server_thread (the per-second
// record-assembly loop, convert_adc_voltage/current, gas interpolation)
// and display.c's gap-filling write policy for the Recorder leg.
package fuse

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/sthaid/proj-fusor-sub000/internal/camera"
	"github.com/sthaid/proj-fusor-sub000/internal/config"
	"github.com/sthaid/proj-fusor-sub000/internal/pulse"
	"github.com/sthaid/proj-fusor-sub000/internal/ring"
	"github.com/sthaid/proj-fusor-sub000/internal/sentinel"
	"github.com/sthaid/proj-fusor-sub000/internal/wire"
)

// Sink receives one completed record per second: emitted to every
// connected network client and to the Recorder, per spec.md §4.6 step 6.
type Sink interface {
	Emit(p1 wire.Part1, p2 wire.Part2)
}

// Fuser assembles one record per second from its collaborators.
type Fuser struct {
	cfg        config.Config
	voltage    *ring.SampleRing
	current    *ring.SampleRing
	pressureD2 *ring.SampleRing
	pressureN2 *ring.SampleRing
	he3        *ring.SampleRing
	cpm        *pulse.CpmWindow
	cam        *camera.Acquirer
	sinks      []Sink
	logger     *log.Logger

	lastTime int64
	haveLast bool
}

// Rings bundles the SampleRings Fuser reads from, one per physical
// channel.
type Rings struct {
	Voltage    *ring.SampleRing
	Current    *ring.SampleRing
	PressureD2 *ring.SampleRing
	PressureN2 *ring.SampleRing
	He3        *ring.SampleRing
}

// New constructs a Fuser over the given configuration, sample rings, CPM
// window, camera acquirer, and output sinks.
func New(cfg config.Config, rings Rings, cpm *pulse.CpmWindow, cam *camera.Acquirer, logger *log.Logger, sinks ...Sink) *Fuser {
	return &Fuser{
		cfg:        cfg,
		voltage:    rings.Voltage,
		current:    rings.Current,
		pressureD2: rings.PressureD2,
		pressureN2: rings.PressureN2,
		he3:        rings.He3,
		cpm:        cpm,
		cam:        cam,
		sinks:      sinks,
		logger:     logger,
	}
}

// Tick runs one pass of the Fuser for wall-clock second now, given the
// latched camera buffer (if any). Per spec.md §4.6:
//  1. if now == lastTime, the tick is discarded (camera paced faster than
//     1 Hz);
//  2. otherwise assert now == lastTime+1, logging (not failing) on a gap;
//  3. assemble and emit Part1/Part2.
func (f *Fuser) Tick(now int64, cam *camera.Buffer) {
	if f.haveLast && now == f.lastTime {
		return
	}
	if f.haveLast && now != f.lastTime+1 {
		if f.logger != nil {
			f.logger.Warn("fuse: time gap observed", "last", f.lastTime, "now", now)
		}
	}
	f.lastTime = now
	f.haveLast = true

	p1 := f.assemblePart1(now)
	p2 := f.assemblePart2(cam)
	p1.SetValid(wire.ValidJpeg, cam != nil)
	p1.DataPart2Length = uint32(p2.EncodedLen())

	for _, s := range f.sinks {
		s.Emit(p1, p2)
	}
}

func (f *Fuser) assemblePart1(now int64) wire.Part1 {
	var p1 wire.Part1
	p1.Magic = wire.MagicPart1
	p1.Time = now

	if st, err := f.voltage.Stats(); err == nil {
		p1.VoltageMeanKV = sentinel.Real(float32(config.ConvertVoltageKV(st.Mean / 1000)))
		p1.VoltageMinKV = sentinel.Real(float32(config.ConvertVoltageKV(float64(st.Min) / 1000)))
		p1.VoltageMaxKV = sentinel.Real(float32(config.ConvertVoltageKV(float64(st.Max) / 1000)))
		p1.SetValid(wire.ValidVoltage, true)
	} else {
		p1.VoltageMeanKV = sentinel.Of(sentinel.NoValue)
		p1.VoltageMinKV = sentinel.Of(sentinel.NoValue)
		p1.VoltageMaxKV = sentinel.Of(sentinel.NoValue)
	}

	if st, err := f.current.Stats(); err == nil {
		p1.CurrentMA = sentinel.Real(float32(config.ConvertCurrentMA(st.Mean / 1000)))
		p1.SetValid(wire.ValidCurrent, true)
	} else {
		p1.CurrentMA = sentinel.Of(sentinel.NoValue)
	}

	validPressure := true
	if st, err := f.pressureD2.Stats(); err == nil {
		p1.PressureD2MT = f.cfg.Gas.D2.Interpolate(st.Mean / 1000)
	} else {
		p1.PressureD2MT = sentinel.Of(sentinel.NoValue)
		validPressure = false
	}
	if st, err := f.pressureN2.Stats(); err == nil {
		p1.PressureN2MT = f.cfg.Gas.N2.Interpolate(st.Mean / 1000)
	} else {
		p1.PressureN2MT = sentinel.Of(sentinel.NoValue)
		validPressure = false
	}
	p1.SetValid(wire.ValidPressure, validPressure)

	if f.cpm != nil {
		snap := f.cpm.Snapshot()
		for wi := 0; wi < wire.NumWindows; wi++ {
			scale := float32(60) / float32(pulse.Windows[wi])
			for ch := 0; ch < wire.MaxChannel; ch++ {
				p1.CpmSec[wi][ch] = float32(snap[wi][ch]) * scale
			}
		}
		p1.SetValid(wire.ValidHe3, true)
	}

	return p1
}

func (f *Fuser) assemblePart2(cam *camera.Buffer) wire.Part2 {
	var p2 wire.Part2
	p2.Magic = wire.MagicPart2

	copyTail(f.voltage, p2.VoltageTrace[:])
	copyTail(f.current, p2.CurrentTrace[:])
	copyTail(f.pressureD2, p2.PressureTrace[:])
	copyTail(f.he3, p2.He3Trace[:])

	if cam != nil {
		p2.JPEG = cam.JPEG
	}
	return p2
}

func copyTail(r *ring.SampleRing, dst []int16) {
	if r == nil {
		return
	}
	tail, err := r.Tail(len(dst))
	if err != nil {
		return
	}
	copy(dst, tail)
}

// ErrGapAssertion documents the class of error spec.md §4.6 step 3
// describes ("log a gap but proceed"): Tick never returns it, but
// Recorder (see internal/logstore) treats the analogous violation as
// fatal once it is in steady state, per spec.md §4.7.
var ErrGapAssertion = fmt.Errorf("fuse: time is not last_time+1")
