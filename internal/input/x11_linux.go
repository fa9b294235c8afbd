//go:build linux

package input

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	"github.com/jezek/xgb/xtest"
)

func init() {
	Register("x11", newX11Injector)
}

type keyInfo struct {
	code  xproto.Keycode
	shift bool
}

// x11Injector synthesizes input through the XTEST extension.
type x11Injector struct {
	mu     sync.Mutex
	conn   *xgb.Conn
	root   xproto.Window
	width  int
	height int
	keys   map[uint32]keyInfo
	logger *slog.Logger
}

func newX11Injector(logger *slog.Logger) (Injector, error) {
	return &x11Injector{logger: logger}, nil
}

// Initialize connects to the X server and loads the keyboard mapping.
// Calling it again after success is a no-op.
func (x *x11Injector) Initialize() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.conn != nil {
		return nil
	}

	conn, err := xgb.NewConn()
	if err != nil {
		return fmt.Errorf("%w: connect to X server: %w", ErrUnavailable, err)
	}
	if err := xtest.Init(conn); err != nil {
		conn.Close()
		return fmt.Errorf("%w: XTEST extension: %w", ErrUnavailable, err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)
	keys, err := loadKeymap(conn, setup)
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: keyboard mapping: %w", ErrUnavailable, err)
	}

	x.conn = conn
	x.root = screen.Root
	x.width = int(screen.WidthInPixels)
	x.height = int(screen.HeightInPixels)
	x.keys = keys
	x.logger.Info("X11 input injector ready", "width", x.width, "height", x.height, "keysyms", len(x.keys))
	return nil
}

// loadKeymap builds a keysym -> keycode table from the first two columns
// of the server keyboard mapping (plain and shifted).
func loadKeymap(conn *xgb.Conn, setup *xproto.SetupInfo) (map[uint32]keyInfo, error) {
	first := setup.MinKeycode
	count := byte(setup.MaxKeycode - setup.MinKeycode + 1)
	reply, err := xproto.GetKeyboardMapping(conn, first, count).Reply()
	if err != nil {
		return nil, err
	}

	per := int(reply.KeysymsPerKeycode)
	keys := make(map[uint32]keyInfo)
	for i := 0; i < int(count); i++ {
		code := xproto.Keycode(int(first) + i)
		for col := 0; col < per && col < 2; col++ {
			sym := uint32(reply.Keysyms[i*per+col])
			if sym == 0 {
				continue
			}
			if _, exists := keys[sym]; !exists {
				keys[sym] = keyInfo{code: code, shift: col == 1}
			}
		}
	}
	return keys, nil
}

func (x *x11Injector) Inject(e Event) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.conn == nil {
		return fmt.Errorf("%w: not initialized", ErrUnavailable)
	}

	switch e.Kind {
	case KindPointerMove:
		px := clampInt(int(e.X), 0, x.width-1)
		py := clampInt(int(e.Y), 0, x.height-1)
		return x.fake(xproto.MotionNotify, 0, int16(px), int16(py))

	case KindPointerButton:
		if e.Button < ButtonLeft || e.Button > ButtonRight {
			return fmt.Errorf("%w: button %d", ErrUnsupported, e.Button)
		}
		return x.fake(buttonEventType(e.Pressed), byte(e.Button), 0, 0)

	case KindPointerWheel:
		if err := x.scroll(e.DeltaY, 5, 4); err != nil {
			return err
		}
		return x.scroll(e.DeltaX, 7, 6)

	case KindKey:
		info, ok := x.keys[e.Key]
		if !ok {
			return fmt.Errorf("%w: no keycode for keysym 0x%x", ErrUnsupported, e.Key)
		}
		return x.fake(keyEventType(e.Pressed), byte(info.code), 0, 0)

	case KindText:
		return x.typeText(e.Text)
	}
	return fmt.Errorf("%w: %s", ErrUnsupported, e.Kind)
}

// scroll presses the wheel button once per notch. X11 maps wheel motion
// onto buttons 4/5 (vertical) and 6/7 (horizontal).
func (x *x11Injector) scroll(delta float64, positive, negative byte) error {
	if delta == 0 {
		return nil
	}
	button := positive
	if delta < 0 {
		button = negative
	}
	steps := int(math.Round(math.Abs(delta)))
	if steps < 1 {
		steps = 1
	}
	for i := 0; i < steps; i++ {
		if err := x.fake(xproto.ButtonPress, button, 0, 0); err != nil {
			return err
		}
		if err := x.fake(xproto.ButtonRelease, button, 0, 0); err != nil {
			return err
		}
	}
	return nil
}

// typeText emits a press/release per character. Characters without a
// keycode are skipped and reported after the rest were typed.
func (x *x11Injector) typeText(text string) error {
	shift, hasShift := x.keys[keysymShiftL]
	var missing []rune

	for _, r := range text {
		info, ok := x.keys[KeysymForRune(r)]
		if !ok {
			missing = append(missing, r)
			continue
		}
		needShift := info.shift && hasShift
		if needShift {
			if err := x.fake(xproto.KeyPress, byte(shift.code), 0, 0); err != nil {
				return err
			}
		}
		if err := x.fake(xproto.KeyPress, byte(info.code), 0, 0); err != nil {
			return err
		}
		if err := x.fake(xproto.KeyRelease, byte(info.code), 0, 0); err != nil {
			return err
		}
		if needShift {
			if err := x.fake(xproto.KeyRelease, byte(shift.code), 0, 0); err != nil {
				return err
			}
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: no keycode for %q", ErrUnsupported, string(missing))
	}
	return nil
}

func (x *x11Injector) fake(eventType, detail byte, px, py int16) error {
	return xtest.FakeInputChecked(x.conn, eventType, detail, 0, x.root, px, py, 0).Check()
}

func (x *x11Injector) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.conn != nil {
		x.conn.Close()
		x.conn = nil
	}
	return nil
}

func buttonEventType(pressed bool) byte {
	if pressed {
		return xproto.ButtonPress
	}
	return xproto.ButtonRelease
}

func keyEventType(pressed bool) byte {
	if pressed {
		return xproto.KeyPress
	}
	return xproto.KeyRelease
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
