package session

import (
	"errors"
	"fmt"

	"github.com/smazurov/deskstream/internal/capture"
	"github.com/smazurov/deskstream/internal/encoders"
	"github.com/smazurov/deskstream/internal/input"
	"github.com/smazurov/deskstream/internal/transport"
)

var (
	// ErrInit marks a failed Initialize. The concrete value is *InitError.
	ErrInit = errors.New("session initialization failed")
	// ErrTransient marks a per-frame or per-event stage failure.
	ErrTransient         = errors.New("transient stage error")
	ErrInvalidState      = errors.New("invalid session state")
	ErrInvalidParameters = errors.New("invalid streaming parameters")
)

// Stage names the component an InitError came from.
type Stage string

const (
	StageCapture   Stage = "capture"
	StageEncoder   Stage = "encoder"
	StageTransport Stage = "transport"
	StageInput     Stage = "input"
)

// InitError is returned when a component fails to initialize.
type InitError struct {
	Stage Stage
	Err   error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("%s initialization failed: %v", e.Stage, e.Err)
}

func (e *InitError) Unwrap() []error {
	return []error{ErrInit, e.Err}
}

// ErrorKind classifies errors crossing the session boundary.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindInit
	KindTransient
	KindInvalidState
	KindInvalidParameters
	KindOther
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInit:
		return "init"
	case KindTransient:
		return "transient"
	case KindInvalidState:
		return "invalid_state"
	case KindInvalidParameters:
		return "invalid_parameters"
	default:
		return "other"
	}
}

// Kind classifies err by the component sentinels it wraps.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInit),
		errors.Is(err, capture.ErrInit),
		errors.Is(err, encoders.ErrInit):
		return KindInit
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrInvalidParameters):
		return KindInvalidParameters
	case errors.Is(err, ErrTransient),
		errors.Is(err, capture.ErrCapture),
		errors.Is(err, encoders.ErrEncode),
		errors.Is(err, transport.ErrTransport),
		errors.Is(err, transport.ErrNotConnected),
		errors.Is(err, transport.ErrSendTimeout),
		errors.Is(err, transport.ErrSendBusy),
		errors.Is(err, input.ErrInject):
		return KindTransient
	default:
		return KindOther
	}
}
