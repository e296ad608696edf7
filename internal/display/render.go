package display

import (
	"fmt"
	"io"

	"github.com/sthaid/proj-fusor-sub000/internal/wire"
)

// RecordSource supplies the record at a cursor index, the seam
// logstore.LogStore fills for a Renderer.
type RecordSource interface {
	ReadPart1(idx int) (wire.Part1, error)
	ReadPart2(idx int, p1 wire.Part1) (wire.Part2, error)
}

// TextRenderer is a minimal text-mode stand-in for the GUI rendering
// toolkit spec.md's Non-goals put out of scope: it prints the record at
// the driver's current cursor as one labelled line, substituting a short
// sentinel label in place of a number exactly as
// original_source/display.c's val2str does (FAULTY/OVPRES/NOVAL), via
// sentinel.Value's own Stringer.
type TextRenderer struct {
	out io.Writer
	src RecordSource
}

// NewTextRenderer constructs a TextRenderer writing to out, reading
// records from src.
func NewTextRenderer(out io.Writer, src RecordSource) *TextRenderer {
	return &TextRenderer{out: out, src: src}
}

// Render prints the record at d's current cursor.
func (r *TextRenderer) Render(d *Driver) {
	idx := d.FileIdx()
	p1, err := r.src.ReadPart1(idx)
	if err != nil {
		fmt.Fprintf(r.out, "[%s] idx=%d <no data>\n", d.Mode(), idx)
		return
	}
	fmt.Fprintf(r.out,
		"[%s] idx=%d t=%d  kV(mean/min/max)=%s/%s/%s  mA=%s  D2=%s mTorr  N2=%s mTorr  cpm1s[0]=%.0f  cpm10s[0]=%.0f\n",
		d.Mode(), idx, p1.Time,
		p1.VoltageMeanKV, p1.VoltageMinKV, p1.VoltageMaxKV,
		p1.CurrentMA, p1.PressureD2MT, p1.PressureN2MT,
		p1.CpmSec[0][0], p1.CpmSec[1][0])
}

// RenderBanner prints the current terminal-state banner line, per
// spec.md §7's LOST_CONN/FILE_ERROR/TIME_ERROR/SCREENSHOT user-visible
// banners, if any is set.
func (r *TextRenderer) RenderBanner(lostConnection, fileError, timeError, screenshotMsg bool) {
	switch {
	case timeError:
		fmt.Fprintln(r.out, "*** TIME_ERROR: server/local clock skew exceeds tolerance ***")
	case fileError:
		fmt.Fprintln(r.out, "*** FILE_ERROR ***")
	case lostConnection:
		fmt.Fprintln(r.out, "*** LOST_CONN: reconnecting... ***")
	case screenshotMsg:
		fmt.Fprintln(r.out, "*** SCREENSHOT saved ***")
	}
}
