package display

// Key identifies one decoded keyboard event that matters to DisplayDriver's
// state machine, per spec.md §6.4's event table. Keys that only affect the
// GUI rendering toolkit (graph selection, x/y scale, about, screenshot) are
// out of scope for Driver's own transitions and are reported as KeyOther so
// a caller can still log or act on them without this package knowing about
// a renderer.
type Key int

const (
	KeyNone Key = iota
	KeyQuit
	KeyLeft
	KeyRight
	KeyHome
	KeyEnd
	KeyOther
)

// Mod is an arrow-key modifier selecting the cursor's stepping granularity,
// per spec.md §4.9 ("1 s per arrow, 10 s per ctrl-arrow, 60 s per
// alt-arrow").
type Mod int

const (
	ModNone Mod = iota
	ModCtrl
	ModAlt
)

// Step returns the cursor-stepping granularity an arrow key with this
// modifier should use.
func (m Mod) Step() Step {
	switch m {
	case ModCtrl:
		return StepTenSeconds
	case ModAlt:
		return StepMinute
	default:
		return StepSecond
	}
}

// DecodeKey parses one raw byte sequence read from a terminal in raw mode
// into a Key/Mod pair. It recognizes bare ESC (quit), unmodified xterm
// arrow/home/end sequences (ESC [ A/B/C/D/H/F), and the modified form
// xterm emits for Ctrl/Alt-arrow (ESC [ 1 ; <mod> <letter>), per
// original_source/display.c's display_handler SDL_EVENT_KEY_* switch,
// re-expressed for a raw tty byte stream since the SDL event layer itself
// is out of scope.
func DecodeKey(buf []byte) (Key, Mod) {
	if len(buf) == 0 {
		return KeyNone, ModNone
	}
	if buf[0] != 0x1b {
		return KeyOther, ModNone
	}
	if len(buf) == 1 {
		return KeyQuit, ModNone
	}
	if buf[1] != '[' {
		return KeyOther, ModNone
	}
	if len(buf) == 3 {
		switch buf[2] {
		case 'D':
			return KeyLeft, ModNone
		case 'C':
			return KeyRight, ModNone
		case 'H':
			return KeyHome, ModNone
		case 'F':
			return KeyEnd, ModNone
		}
		return KeyOther, ModNone
	}
	if len(buf) == 6 && buf[2] == '1' && buf[3] == ';' {
		var mod Mod
		switch buf[4] {
		case '5':
			mod = ModCtrl
		case '3':
			mod = ModAlt
		default:
			return KeyOther, ModNone
		}
		switch buf[5] {
		case 'D':
			return KeyLeft, mod
		case 'C':
			return KeyRight, mod
		case 'H':
			return KeyHome, mod
		case 'F':
			return KeyEnd, mod
		}
	}
	return KeyOther, ModNone
}

// Dispatch applies one decoded key to the driver's mode/cursor state, per
// spec.md §4.9's transition table, and reports whether the key should
// terminate the display loop (KeyQuit).
func (d *Driver) Dispatch(k Key, m Mod) (quit bool) {
	switch k {
	case KeyQuit:
		return true
	case KeyLeft:
		d.MoveLeft(m.Step())
	case KeyRight:
		d.MoveRight(m.Step())
	case KeyHome:
		d.Home()
	case KeyEnd:
		d.End()
	}
	return false
}
