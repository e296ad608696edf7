// Package display implements DisplayDriver: the LIVE/PLAYBACK mode state
// machine, cursor stepping, and the renderer's wait-for-change blocking
// condition. The GUI rendering toolkit itself is out of scope; Renderer is
// the seam a real one would implement.
//
// Grounded on original_source/display.c's display_handler (the event
// switch driving file_idx_global/mode transitions) and its render-wait
// loop (the usleep(1000)-paced condition that breaks out to redraw).
package display

import "time"

// Mode is the display's LIVE/PLAYBACK state, per spec.md §4.9.
type Mode int

const (
	Live Mode = iota
	Playback
)

func (m Mode) String() string {
	if m == Live {
		return "LIVE"
	}
	return "PLAYBACK"
}

// Step names a cursor-stepping granularity, selected by arrow-key
// modifier per spec.md §4.9.
type Step int

const (
	StepSecond     Step = 1
	StepTenSeconds Step = 10
	StepMinute     Step = 60
)

// MaxSource reports the current number of valid Part1 slots, i.e.
// LogStore.Max(), so DisplayDriver can clamp the cursor and pin LIVE
// playback to the newest slot.
type MaxSource interface {
	Max() uint32
}

// Driver holds DisplayDriver's cursor/mode state. It is pure: all input
// arrives via method calls, and it owns no I/O.
type Driver struct {
	src MaxSource

	mode              Mode
	fileIdx           int
	initiallyLiveMode bool

	lostConnection bool
	fileError      bool
	timeError      bool
	screenshotMsg  bool

	lastRenderedIdx int
	lastRenderedMax uint32
}

// New constructs a Driver. If startInLive is true the driver begins in
// LIVE mode and pins the cursor to the newest slot whenever Max advances;
// otherwise it starts in PLAYBACK at slot 0, per spec.md §4.9 and
// display.c's `initially_live_mode = (mode == LIVE)` captured at startup.
func New(src MaxSource, startInLive bool) *Driver {
	d := &Driver{
		src:               src,
		initiallyLiveMode: startInLive,
	}
	if startInLive {
		d.mode = Live
		d.fileIdx = d.lastIdx()
	} else {
		d.mode = Playback
		d.fileIdx = 0
	}
	d.lastRenderedIdx = -1
	return d
}

func (d *Driver) lastIdx() int {
	max := int(d.src.Max())
	if max <= 0 {
		return 0
	}
	return max - 1
}

// Mode reports the driver's current mode.
func (d *Driver) Mode() Mode { return d.mode }

// FileIdx reports the cursor's current slot index.
func (d *Driver) FileIdx() int { return d.fileIdx }

// Tick re-pins the cursor to the newest slot when in LIVE mode, called
// once per render-loop iteration as `max` may have advanced.
func (d *Driver) Tick() {
	if d.mode == Live {
		d.fileIdx = d.lastIdx()
	}
}

// MoveLeft steps the cursor backward by step seconds (clamped at 0) and
// switches to PLAYBACK, per spec.md §4.9.
func (d *Driver) MoveLeft(step Step) {
	x := d.fileIdx - int(step)
	if x < 0 {
		x = 0
	}
	d.fileIdx = x
	d.mode = Playback
}

// MoveRight steps the cursor forward by step seconds. If the step would
// run past the newest slot, it clamps there and re-enters LIVE if this
// session started in LIVE mode; otherwise it stays in PLAYBACK.
func (d *Driver) MoveRight(step Step) {
	last := d.lastIdx()
	x := d.fileIdx + int(step)
	if x >= last+1 {
		d.fileIdx = last
		d.mode = d.modeAtRightEdge()
	} else {
		d.fileIdx = x
		d.mode = Playback
	}
}

func (d *Driver) modeAtRightEdge() Mode {
	if d.initiallyLiveMode {
		return Live
	}
	return Playback
}

// Home moves the cursor to the first slot and switches to PLAYBACK.
func (d *Driver) Home() {
	d.fileIdx = 0
	d.mode = Playback
}

// End moves the cursor to the newest slot, re-entering LIVE if this
// session started in LIVE mode.
func (d *Driver) End() {
	d.fileIdx = d.lastIdx()
	d.mode = d.modeAtRightEdge()
}

// SetLostConnection, SetFileError, SetTimeError, and SetScreenshotMsg
// update the banner-condition flags the render-wait loop watches for a
// state change, per spec.md §7's terminal-state banners.
func (d *Driver) SetLostConnection(v bool) { d.lostConnection = v }
func (d *Driver) SetFileError(v bool)      { d.fileError = v }
func (d *Driver) SetTimeError(v bool)      { d.timeError = v }
func (d *Driver) SetScreenshotMsg(v bool)  { d.screenshotMsg = v }

// LostConnection, FileError, TimeError, and ScreenshotMsg report the
// banner-condition flags' current values, for a renderer to decide which
// banner (if any) to display.
func (d *Driver) LostConnection() bool { return d.lostConnection }
func (d *Driver) FileError() bool      { return d.fileError }
func (d *Driver) TimeError() bool      { return d.timeError }
func (d *Driver) ScreenshotMsg() bool  { return d.screenshotMsg }

// bannerState is a comparable snapshot of the banner flags, used to
// detect a "message-state change" for the render-wait condition.
type bannerState struct {
	lostConnection bool
	fileError      bool
	timeError      bool
	screenshotMsg  bool
}

func (d *Driver) banner() bannerState {
	return bannerState{d.lostConnection, d.fileError, d.timeError, d.screenshotMsg}
}

// CurrentBanner returns the driver's present banner snapshot, for a caller
// outside this package to seed the first ShouldRender call with a valid
// "previous" token (bannerState itself is unexported, so this is the only
// way to obtain one before the first render).
func (d *Driver) CurrentBanner() bannerState {
	return d.banner()
}

// ShouldRender reports whether the renderer should redraw now, per
// spec.md §4.9's blocking condition: quit, a banner state change, the
// event backlog drained with the cursor having moved, or max having
// advanced — the latter on its own, not gated on the backlog, so LIVE
// mode keeps tracking new records while input is still queued.
// eventsPending is the number of unprocessed input events still queued;
// quit signals program exit.
func (d *Driver) ShouldRender(quit bool, eventsPending int, lastBanner bannerState) (bool, bannerState) {
	banner := d.banner()
	max := d.src.Max()

	render := quit ||
		banner != lastBanner ||
		(eventsPending == 0 && d.fileIdx != d.lastRenderedIdx) ||
		max != d.lastRenderedMax

	if render {
		d.lastRenderedIdx = d.fileIdx
		d.lastRenderedMax = max
	}
	return render, banner
}

// WaitForRender blocks, polling at pollInterval, until ShouldRender
// reports true or quit becomes true, mirroring display.c's usleep(1000)
// poll loop. pendingEvents is called on every iteration to get the
// current input backlog size.
func WaitForRender(d *Driver, pendingEvents func() int, isQuit func() bool, pollInterval time.Duration) {
	banner := d.banner()
	for {
		should, newBanner := d.ShouldRender(isQuit(), pendingEvents(), banner)
		if should {
			return
		}
		banner = newBanner
		time.Sleep(pollInterval)
	}
}
