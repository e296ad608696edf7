// Package pulse implements PulseDetector: per-second scintillator pulse
// detection against an adaptive baseline, channel bucketing by height, and
// moving-average CPM windows over {1, 10, 60, 600, 3600} seconds.
//
// Grounded on original_source/mccdaq_test/test.c's pulse-finding loop
// (baseline = min of first 1000 samples, threshold = baseline+8,
// in-a-pulse scan, channel = height / ((4096-threshold)/MAX_CHANNEL)).
package pulse

import (
	"github.com/charmbracelet/log"
)

// MaxChannel is the number of height-bucketed counting channels.
const MaxChannel = 8

// baselineSamples is how many leading samples of each one-second buffer
// establish the adaptive baseline before scanning begins.
const baselineSamples = 1000

// tailGuard: scanning stops before the buffer's last tailGuard samples
// unless a pulse is already open, so a pulse never gets split across a
// one-second buffer boundary.
const tailGuard = 10

// Windows are the CPM moving-average window lengths, in seconds.
var Windows = [5]int{1, 10, 60, 600, 3600}

// Counts is a snapshot of per-channel pulse counts accumulated over some
// interval.
type Counts [MaxChannel]uint64

// Detector accumulates one second's worth of raw samples, finds pulses in
// it, and bucket-counts them by height. It is not safe for concurrent use
// by more than one producer goroutine; consumers read finished per-second
// Counts from EndSecond's return value.
type Detector struct {
	buf       []int16
	threshold int32
	haveBase  bool
	counts    Counts
	logger    *log.Logger
}

// NewDetector allocates a Detector expecting up to maxSamplesPerSecond
// samples between boundaries (the nominal scan rate, e.g. 500000).
func NewDetector(maxSamplesPerSecond int, logger *log.Logger) *Detector {
	return &Detector{
		buf:    make([]int16, 0, maxSamplesPerSecond),
		logger: logger,
	}
}

// Push appends one ADC sample into the current second's buffer. Samples
// outside [0, 4095] are clamped to 2048 and logged, per spec.md §4.2's
// robustness requirement; this never halts scanning.
func (d *Detector) Push(raw int32) {
	if raw < 0 || raw > 4095 {
		if d.logger != nil {
			d.logger.Warn("pulse: sample out of range, clamping", "raw", raw)
		}
		raw = 2048
	}
	d.buf = append(d.buf, int16(raw))
}

// Scan runs the per-second pulse-finding pass over whatever has been
// pushed so far this second, incrementing d.counts for each closed pulse
// found; a pulse still open at the end of the buffer is not counted. Every
// call scans the buffer from index 0, so calling Scan more than once in a
// second counts the pulses closed by an earlier call again. EndSecond calls
// it once to finalize, then snapshots and resets for the next second.
func (d *Detector) Scan() {
	if !d.haveBase {
		if len(d.buf) < baselineSamples {
			return
		}
		baseline := int32(d.buf[0])
		for _, s := range d.buf[:baselineSamples] {
			if int32(s) < baseline {
				baseline = int32(s)
			}
		}
		d.threshold = baseline + 8
		d.haveBase = true
	}

	n := len(d.buf)
	limit := n - tailGuard
	if limit < 0 {
		limit = 0
	}

	inPulse := false
	start := 0
	i := 0
	for ; i < n; i++ {
		high := int32(d.buf[i]) >= d.threshold
		if !inPulse && high {
			inPulse = true
			start = i
			continue
		}
		if inPulse && !high {
			end := i - 1
			d.closePulse(start, end)
			inPulse = false
		}
		if i >= limit && !inPulse {
			break
		}
	}
	if inPulse {
		// An open pulse is left uncounted; nothing to close yet. A later
		// Scan call starts again from index 0.
		return
	}
}

func (d *Detector) closePulse(start, end int) int32 {
	max := int32(d.buf[start])
	for _, s := range d.buf[start : end+1] {
		if int32(s) > max {
			max = int32(s)
		}
	}
	height := max - d.threshold
	if height < 1 {
		height = 1
	}
	bucket := int32(4096-d.threshold) / MaxChannel
	if bucket <= 0 {
		bucket = 1
	}
	channel := height / bucket
	if channel >= MaxChannel {
		channel = MaxChannel - 1
	}
	d.counts[channel]++
	return channel
}

// EndSecond snapshots the accumulated counts, then resets the buffer and
// latched threshold for the next one-second interval.
func (d *Detector) EndSecond() Counts {
	d.Scan()
	snapshot := d.counts
	d.counts = Counts{}
	d.buf = d.buf[:0]
	d.haveBase = false
	d.threshold = 0
	return snapshot
}

// CpmWindow maintains moving counts over the five window lengths in
// Windows, one ring per window, fed one Counts snapshot per second.
type CpmWindow struct {
	rings [len(Windows)]*bucketRing
}

type bucketRing struct {
	buckets []Counts
	idx     int
	filled  int
	total   Counts
}

func newBucketRing(size int) *bucketRing {
	return &bucketRing{buckets: make([]Counts, size)}
}

func (b *bucketRing) push(c Counts) {
	if b.filled == len(b.buckets) {
		old := b.buckets[b.idx]
		for ch := 0; ch < MaxChannel; ch++ {
			b.total[ch] -= old[ch]
		}
	} else {
		b.filled++
	}
	b.buckets[b.idx] = c
	for ch := 0; ch < MaxChannel; ch++ {
		b.total[ch] += c[ch]
	}
	b.idx++
	if b.idx == len(b.buckets) {
		b.idx = 0
	}
}

// NewCpmWindow allocates a CpmWindow with one ring per entry in Windows.
func NewCpmWindow() *CpmWindow {
	cw := &CpmWindow{}
	for i, w := range Windows {
		cw.rings[i] = newBucketRing(w)
	}
	return cw
}

// Push feeds one second's Counts into every window's ring.
func (cw *CpmWindow) Push(c Counts) {
	for _, r := range cw.rings {
		r.push(c)
	}
}

// Snapshot returns, for each of the five Windows entries in order, the
// current moving total per channel over that window's span.
func (cw *CpmWindow) Snapshot() [len(Windows)]Counts {
	var out [len(Windows)]Counts
	for i, r := range cw.rings {
		out[i] = r.total
	}
	return out
}
