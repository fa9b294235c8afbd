package session

import (
	"errors"
	"log/slog"

	"github.com/smazurov/deskstream/internal/capture"
	"github.com/smazurov/deskstream/internal/encoders"
	"github.com/smazurov/deskstream/internal/input"
	"github.com/smazurov/deskstream/internal/transport"
)

// Backends names the registered backend for each stage. Empty names take
// the platform default.
type Backends struct {
	Capture   string
	Encoder   string
	Transport string
	Input     string

	CaptureOptions   capture.Options
	TransportOptions transport.Options
}

func (b Backends) withDefaults() Backends {
	if b.Capture == "" {
		b.Capture = capture.Default()
	}
	if b.Encoder == "" {
		b.Encoder = encoders.Default()
	}
	if b.Transport == "" {
		b.Transport = transport.Default()
	}
	if b.Input == "" {
		b.Input = input.Default()
	}
	return b
}

// Open builds every backend from its registry and wires them into a new
// Orchestrator. Construction failures are InitErrors. Backends that attach
// to the display or input stack do so in Orchestrator.Initialize.
func Open(b Backends, opts Options) (*Orchestrator, error) {
	b = b.withDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if b.CaptureOptions.Logger == nil {
		b.CaptureOptions.Logger = logger.With("backend", b.Capture)
	}
	if b.TransportOptions.Logger == nil {
		b.TransportOptions.Logger = logger.With("backend", b.Transport)
	}

	creg, err := capture.Lookup(b.Capture)
	if err != nil {
		return nil, &InitError{Stage: StageCapture, Err: err}
	}
	ereg, err := encoders.Lookup(b.Encoder)
	if err != nil {
		return nil, &InitError{Stage: StageEncoder, Err: err}
	}

	var c Components
	var cleanup []func() error
	release := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			_ = cleanup[i]()
		}
	}

	c.Capture, err = creg.Factory(b.CaptureOptions)
	if err != nil {
		return nil, &InitError{Stage: StageCapture, Err: errors.Join(capture.ErrInit, err)}
	}
	c.CaptureHardware = creg.Hardware
	cleanup = append(cleanup, c.Capture.Shutdown)

	c.Encoder, err = ereg.Factory(logger)
	if err != nil {
		release()
		return nil, &InitError{Stage: StageEncoder, Err: errors.Join(encoders.ErrInit, err)}
	}
	c.EncoderIntraOnly = ereg.IntraOnly
	cleanup = append(cleanup, c.Encoder.Close)

	b.TransportOptions.Codec = ereg.Codec
	c.Transport, err = transport.New(b.Transport, b.TransportOptions)
	if err != nil {
		release()
		return nil, &InitError{Stage: StageTransport, Err: err}
	}
	cleanup = append(cleanup, c.Transport.Disconnect)

	c.Injector, err = input.New(b.Input, logger)
	if err != nil {
		release()
		return nil, &InitError{Stage: StageInput, Err: err}
	}

	return New(c, opts), nil
}
