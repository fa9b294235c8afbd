package input

import "unicode/utf8"

// Named X keysyms. Browser KeyboardEvent.key names are accepted alongside
// the X names.
var namedKeysyms = map[string]uint32{
	"BackSpace": 0xff08,
	"Backspace": 0xff08,
	"Tab":       0xff09,
	"Return":    0xff0d,
	"Enter":     0xff0d,
	"Escape":    0xff1b,
	"Delete":    0xffff,
	"Insert":    0xff63,
	"space":     0x0020,
	" ":         0x0020,

	"Home":       0xff50,
	"End":        0xff57,
	"Left":       0xff51,
	"ArrowLeft":  0xff51,
	"Up":         0xff52,
	"ArrowUp":    0xff52,
	"Right":      0xff53,
	"ArrowRight": 0xff53,
	"Down":       0xff54,
	"ArrowDown":  0xff54,
	"Prior":      0xff55,
	"PageUp":     0xff55,
	"Next":       0xff56,
	"PageDown":   0xff56,

	"Shift_L":   0xffe1,
	"Shift":     0xffe1,
	"Shift_R":   0xffe2,
	"Control_L": 0xffe3,
	"Control":   0xffe3,
	"Control_R": 0xffe4,
	"Caps_Lock": 0xffe5,
	"CapsLock":  0xffe5,
	"Meta_L":    0xffe7,
	"Alt_L":     0xffe9,
	"Alt":       0xffe9,
	"Alt_R":     0xffea,
	"Super_L":   0xffeb,
	"Meta":      0xffeb,
	"OS":        0xffeb,

	"F1":  0xffbe,
	"F2":  0xffbf,
	"F3":  0xffc0,
	"F4":  0xffc1,
	"F5":  0xffc2,
	"F6":  0xffc3,
	"F7":  0xffc4,
	"F8":  0xffc5,
	"F9":  0xffc6,
	"F10": 0xffc7,
	"F11": 0xffc8,
	"F12": 0xffc9,
}

const keysymShiftL = 0xffe1

// KeysymForName resolves a key name to an X keysym. Single characters map
// through KeysymForRune.
func KeysymForName(name string) (uint32, bool) {
	if sym, ok := namedKeysyms[name]; ok {
		return sym, true
	}
	if utf8.RuneCountInString(name) == 1 {
		r, _ := utf8.DecodeRuneInString(name)
		return KeysymForRune(r), true
	}
	return 0, false
}

// KeysymForRune returns the keysym for a character. Latin-1 keysyms equal
// their code point; everything else uses the Unicode keysym range.
func KeysymForRune(r rune) uint32 {
	switch r {
	case '\n', '\r':
		return namedKeysyms["Return"]
	case '\t':
		return namedKeysyms["Tab"]
	case '\b':
		return namedKeysyms["BackSpace"]
	}
	if (r >= 0x20 && r <= 0x7e) || (r >= 0xa0 && r <= 0xff) {
		return uint32(r)
	}
	return 0x01000000 | uint32(r)
}
