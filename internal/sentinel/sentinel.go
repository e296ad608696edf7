// Package sentinel represents measurements that may be real values or one
// of a small set of reserved error codes, using the same encoding the wire
// and log-file formats use: a reserved range of large positive floats stand
// in for {FAULTY, OVPRES, NOVAL} so that on-disk and on-wire records stay a
// single float32 per field.
package sentinel

import "fmt"

// Kind distinguishes a real measurement from one of the reserved error codes.
type Kind int

const (
	OK Kind = iota
	Faulty
	OverPressure
	NoValue
)

// Reserved encoding range, ported from original_source/common.h's
// ERROR_FIRST..ERROR_LAST. Any float32 in [errFirst, errLast] is a sentinel,
// never a real measurement.
const (
	errFaulty       float32 = 1000000
	errOverPressure float32 = 1000001
	errNoValue      float32 = 1000002

	errFirst = errFaulty
	errLast  = errNoValue
)

// Value is a measurement that is either a real float32 or a sentinel Kind.
type Value struct {
	f    float32
	kind Kind
}

// Real wraps a genuine measurement.
func Real(f float32) Value {
	if f >= errFirst && f <= errLast {
		// A real measurement can never legitimately fall in the reserved
		// range; treat it as corrupt input rather than letting it silently
		// masquerade as a sentinel.
		return Value{kind: NoValue}
	}
	return Value{f: f, kind: OK}
}

// Of constructs one of the error sentinels. Of(OK) panics; use Real instead.
func Of(k Kind) Value {
	if k == OK {
		panic("sentinel.Of(OK): use Real instead")
	}
	return Value{kind: k}
}

// Decode interprets a raw float32 read off the wire or the log file,
// recovering whichever sentinel it encodes, or a real value otherwise.
func Decode(f float32) Value {
	switch f {
	case errFaulty:
		return Value{kind: Faulty}
	case errOverPressure:
		return Value{kind: OverPressure}
	case errNoValue:
		return Value{kind: NoValue}
	default:
		return Value{f: f, kind: OK}
	}
}

// Encode returns the wire/log-file float32 representation: the real value
// itself, or the reserved sentinel constant for its Kind.
func (v Value) Encode() float32 {
	switch v.kind {
	case Faulty:
		return errFaulty
	case OverPressure:
		return errOverPressure
	case NoValue:
		return errNoValue
	default:
		return v.f
	}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsError() bool { return v.kind != OK }

// Float returns the real measurement and true, or (0, false) for a sentinel.
func (v Value) Float() (float32, bool) {
	if v.kind != OK {
		return 0, false
	}
	return v.f, true
}

// String renders a real value with %.3f, or the short label a renderer
// would substitute for a sentinel: FAULTY, OVPRES, NOVAL.
func (v Value) String() string {
	switch v.kind {
	case Faulty:
		return "FAULTY"
	case OverPressure:
		return "OVPRES"
	case NoValue:
		return "NOVAL"
	case OK:
		return fmt.Sprintf("%.3f", v.f)
	default:
		return "????"
	}
}
