package input

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/smazurov/deskstream/internal/media"
)

var ErrMalformed = errors.New("malformed input message")

// WireMessage is the viewer-side encoding of an input event. The same
// shape travels as JSON text or CBOR binary on the input data channel.
//
// Button uses browser numbering (0 left, 1 middle, 2 right). Coordinates
// are normalized unless normalized is explicitly false.
type WireMessage struct {
	Type       string  `json:"type" cbor:"type"`
	Action     string  `json:"action,omitempty" cbor:"action,omitempty"`
	X          float64 `json:"x,omitempty" cbor:"x,omitempty"`
	Y          float64 `json:"y,omitempty" cbor:"y,omitempty"`
	Normalized *bool   `json:"normalized,omitempty" cbor:"normalized,omitempty"`
	Button     int     `json:"button,omitempty" cbor:"button,omitempty"`
	Pressed    bool    `json:"pressed,omitempty" cbor:"pressed,omitempty"`
	DeltaX     float64 `json:"dx,omitempty" cbor:"dx,omitempty"`
	DeltaY     float64 `json:"dy,omitempty" cbor:"dy,omitempty"`
	Key        string  `json:"key,omitempty" cbor:"key,omitempty"`
	Keysym     uint32  `json:"keysym,omitempty" cbor:"keysym,omitempty"`
	Text       string  `json:"text,omitempty" cbor:"text,omitempty"`
	Width      int     `json:"width,omitempty" cbor:"width,omitempty"`
	Height     int     `json:"height,omitempty" cbor:"height,omitempty"`
}

// Message is a decoded viewer message: either an input event or a
// viewport size announcement.
type Message struct {
	Event    Event
	Viewport *Size
}

var cborDec cbor.DecMode

func init() {
	var err error
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("input: CBOR decoder initialization failed: " + err.Error())
	}
}

// DecodeJSON decodes a text message.
func DecodeJSON(data []byte) (Message, error) {
	var w WireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return w.Message()
}

// DecodeCBOR decodes a binary message.
func DecodeCBOR(data []byte) (Message, error) {
	var w WireMessage
	if err := cborDec.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return w.Message()
}

// EncodeCBOR encodes w for a binary channel.
func EncodeCBOR(w WireMessage) ([]byte, error) {
	return cbor.Marshal(w)
}

// Message converts the wire form to a Message. Unrecognized types produce
// a KindUnknown event rather than an error so the router can count them.
func (w WireMessage) Message() (Message, error) {
	now := media.Now()
	normalized := w.Normalized == nil || *w.Normalized
	ev := Event{Received: now}

	switch strings.ToLower(w.Type) {
	case "move", "pointer-move":
		ev.Kind = KindPointerMove
		ev.X, ev.Y, ev.Normalized = w.X, w.Y, normalized
	case "button", "pointer-button":
		ev.Kind = KindPointerButton
		ev.Button, ev.Pressed = w.Button+1, w.Pressed
	case "wheel", "pointer-wheel":
		ev.Kind = KindPointerWheel
		ev.DeltaX, ev.DeltaY = w.DeltaX, w.DeltaY
	case "key":
		sym, err := w.keysym()
		if err != nil {
			return Message{}, err
		}
		ev.Kind, ev.Key, ev.Pressed = KindKey, sym, w.Pressed
	case "text":
		ev.Kind, ev.Text = KindText, w.Text
	case "mouse":
		// legacy viewer format: action is move, down or up
		switch w.Action {
		case "move":
			ev.Kind = KindPointerMove
			ev.X, ev.Y, ev.Normalized = w.X, w.Y, normalized
		case "down", "up":
			ev.Kind = KindPointerButton
			ev.Button, ev.Pressed = w.Button+1, w.Action == "down"
		case "wheel":
			ev.Kind = KindPointerWheel
			ev.DeltaX, ev.DeltaY = w.DeltaX, w.DeltaY
		}
	case "keyboard":
		sym, err := w.keysym()
		if err != nil {
			return Message{}, err
		}
		ev.Kind, ev.Key, ev.Pressed = KindKey, sym, w.Action == "down"
	case "resolution", "viewport":
		size := Size{Width: w.Width, Height: w.Height}
		if !size.Valid() {
			return Message{}, fmt.Errorf("%w: viewport %dx%d", ErrMalformed, w.Width, w.Height)
		}
		return Message{Viewport: &size}, nil
	}

	return Message{Event: ev}, nil
}

func (w WireMessage) keysym() (uint32, error) {
	if w.Keysym != 0 {
		return w.Keysym, nil
	}
	if sym, ok := KeysymForName(w.Key); ok {
		return sym, nil
	}
	return 0, fmt.Errorf("%w: unknown key %q", ErrMalformed, w.Key)
}
