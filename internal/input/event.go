// Package input routes viewer input events to the local input stack.
package input

import (
	"fmt"

	"github.com/smazurov/deskstream/internal/media"
)

// Kind tags an Event variant.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindPointerMove
	KindPointerButton
	KindPointerWheel
	KindKey
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindPointerMove:
		return "pointer-move"
	case KindPointerButton:
		return "pointer-button"
	case KindPointerWheel:
		return "pointer-wheel"
	case KindKey:
		return "key"
	case KindText:
		return "text"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// IsPointer reports whether k carries pointer input.
func (k Kind) IsPointer() bool {
	return k == KindPointerMove || k == KindPointerButton || k == KindPointerWheel
}

// Pointer buttons use X11 numbering.
const (
	ButtonLeft   = 1
	ButtonMiddle = 2
	ButtonRight  = 3
)

// Event is one input action from the viewer. Only the fields relevant to
// Kind are meaningful.
type Event struct {
	Kind Kind

	// Pointer position. Normalized coordinates lie in [0,1]; otherwise they
	// are pixels in the viewer's coordinate space.
	X, Y       float64
	Normalized bool

	Button  int
	Pressed bool

	// Wheel movement in notches. Positive DeltaY scrolls down.
	DeltaX, DeltaY float64

	// Key is an X keysym.
	Key uint32

	Text string

	// Received is the monotonic receipt time, see media.Now.
	Received int64
}

// PointerMove builds a move event.
func PointerMove(x, y float64, normalized bool) Event {
	return Event{Kind: KindPointerMove, X: x, Y: y, Normalized: normalized, Received: media.Now()}
}

// PointerButton builds a button press or release.
func PointerButton(button int, pressed bool) Event {
	return Event{Kind: KindPointerButton, Button: button, Pressed: pressed, Received: media.Now()}
}

// PointerWheel builds a vertical wheel event.
func PointerWheel(delta float64) Event {
	return Event{Kind: KindPointerWheel, DeltaY: delta, Received: media.Now()}
}

// Key builds a key press or release for an X keysym.
func Key(keysym uint32, pressed bool) Event {
	return Event{Kind: KindKey, Key: keysym, Pressed: pressed, Received: media.Now()}
}

// Text builds a text entry event.
func Text(s string) Event {
	return Event{Kind: KindText, Text: s, Received: media.Now()}
}
