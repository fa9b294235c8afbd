package input

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Recorder receives routing outcomes. *stats.Aggregator satisfies it.
type Recorder interface {
	InputPointer()
	InputKeyboard()
	InputDropped()
	InputError()
}

// Router resolves event coordinates and hands events to an Injector.
// Route may be called from any goroutine; the mapping is swapped
// atomically so a concurrent SetMapping is never observed half-applied.
type Router struct {
	injector Injector
	recorder Recorder
	mapping  atomic.Pointer[Mapping]
	logger   *slog.Logger
}

// NewRouter creates a router with an inactive mapping.
func NewRouter(injector Injector, recorder Recorder, logger *slog.Logger) *Router {
	r := &Router{injector: injector, recorder: recorder, logger: logger}
	r.mapping.Store(&Mapping{})
	return r
}

// SetMapping replaces the active mapping.
func (r *Router) SetMapping(source, target Size) {
	r.mapping.Store(&Mapping{Source: source, Target: target})
	r.logger.Debug("Coordinate mapping updated",
		"source", fmt.Sprintf("%dx%d", source.Width, source.Height),
		"target", fmt.Sprintf("%dx%d", target.Width, target.Height))
}

// SetSource replaces only the viewer side of the mapping, keeping the
// current target.
func (r *Router) SetSource(source Size) {
	for {
		old := r.mapping.Load()
		next := &Mapping{Source: source, Target: old.Target}
		if r.mapping.CompareAndSwap(old, next) {
			return
		}
	}
}

// ClearMapping makes coordinates pass through unscaled.
func (r *Router) ClearMapping() {
	r.mapping.Store(&Mapping{})
}

// Mapping returns the active mapping.
func (r *Router) Mapping() Mapping {
	return *r.mapping.Load()
}

// Resolve returns e with pointer coordinates mapped to screen pixels.
func (r *Router) Resolve(e Event) Event {
	if e.Kind != KindPointerMove {
		return e
	}
	m := r.mapping.Load()
	if !m.Active() {
		return e
	}
	if e.Normalized {
		e.X, e.Y = m.ApplyNormalized(e.X, e.Y)
	} else {
		e.X, e.Y = m.Apply(e.X, e.Y)
	}
	e.Normalized = false
	return e
}

// Route resolves and injects e. Unknown kinds are dropped and counted.
// Injection failures are counted and returned wrapped in ErrInject.
func (r *Router) Route(e Event) error {
	switch e.Kind {
	case KindPointerMove, KindPointerButton, KindPointerWheel, KindKey, KindText:
	default:
		r.recorder.InputDropped()
		r.logger.Debug("Dropping unsupported input event", "kind", e.Kind.String())
		return nil
	}

	resolved := r.Resolve(e)
	if err := r.injector.Inject(resolved); err != nil {
		r.recorder.InputError()
		return fmt.Errorf("%w: %s: %w", ErrInject, e.Kind, err)
	}

	if e.Kind.IsPointer() {
		r.recorder.InputPointer()
	} else {
		r.recorder.InputKeyboard()
	}
	return nil
}

// Close releases the injection backend.
func (r *Router) Close() error {
	return r.injector.Close()
}
