package input

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
)

var (
	// ErrInject wraps any failure reported by an injection backend.
	ErrInject = errors.New("input injection failed")
	// ErrUnsupported is returned by backends for event kinds they cannot deliver.
	ErrUnsupported = errors.New("unsupported input event")
	// ErrUnavailable is returned when a backend cannot attach to the local input stack.
	ErrUnavailable = errors.New("input backend unavailable")
	// ErrUnknownBackend is returned by New for unregistered names.
	ErrUnknownBackend = errors.New("unknown input backend")
)

// Injector delivers resolved events to the local input stack. Coordinates
// passed to Inject are already in screen pixels.
type Injector interface {
	Inject(e Event) error
	Close() error
}

// Initializer is implemented by backends that attach to the input stack
// after construction. The session calls it once during initialization,
// before any event is injected.
type Initializer interface {
	Initialize() error
}

// Factory creates an Injector. Factories must not block on the local
// input stack; attaching to it belongs in Initialize.
type Factory func(logger *slog.Logger) (Injector, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available under name.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New creates the named backend.
func New(name string, logger *slog.Logger) (Injector, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return factory(logger)
}

// Names lists registered backends.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns the preferred backend for the running platform.
func Default() string {
	if runtime.GOOS == "linux" {
		return "x11"
	}
	return "none"
}

func init() {
	Register("none", func(logger *slog.Logger) (Injector, error) {
		return &nopInjector{logger: logger}, nil
	})
}

// nopInjector accepts every event and discards it.
type nopInjector struct {
	logger *slog.Logger
}

func (n *nopInjector) Inject(e Event) error {
	n.logger.Debug("Discarding input event", "kind", e.Kind.String(), "x", e.X, "y", e.Y)
	return nil
}

func (n *nopInjector) Close() error { return nil }
