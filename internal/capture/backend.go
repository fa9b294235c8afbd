// Package capture drives a platform screen-capture backend on a fixed
// cadence and publishes frames into a latest-wins buffer.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sort"
	"sync"

	"github.com/smazurov/deskstream/internal/media"
)

var (
	// ErrInit marks a failed Initialize (capture init error).
	ErrInit = errors.New("capture initialization failed")
	// ErrUnavailable is returned by backends that cannot reach a display.
	ErrUnavailable = errors.New("capture backend unavailable")
	// ErrCapture wraps a failed single-frame capture.
	ErrCapture           = errors.New("frame capture failed")
	ErrNotInitialized    = errors.New("capture source not initialized")
	ErrInvalidRegion     = errors.New("invalid capture region")
	ErrUnknownBackend    = errors.New("unknown capture backend")
	ErrRegionUnsupported = errors.New("capture backend does not support regions")
)

// Backend pulls pixels from the platform. CaptureOneFrame must return
// promptly once ctx is cancelled.
type Backend interface {
	Initialize() (width, height int, err error)
	CaptureOneFrame(ctx context.Context) (*media.Frame, error)
	Shutdown() error
}

// RegionSetter is implemented by backends that can capture a sub-rectangle
// of the display. The rectangle is relative to the display origin.
type RegionSetter interface {
	SetRegion(rect image.Rectangle) error
}

// Monitor describes one attached display.
type Monitor struct {
	Index   int  `json:"index"`
	X       int  `json:"x"`
	Y       int  `json:"y"`
	Width   int  `json:"width"`
	Height  int  `json:"height"`
	Primary bool `json:"primary"`
}

// MonitorLister is implemented by backends that can enumerate displays.
type MonitorLister interface {
	Monitors() []Monitor
}

// Options configures backend construction.
type Options struct {
	Display int
	Width   int
	Height  int
	Logger  *slog.Logger
}

// Registration describes a backend in the registry.
type Registration struct {
	Factory     func(Options) (Backend, error)
	Hardware    bool
	Description string
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Registration{}
)

// Register makes a backend available under name.
func Register(name string, reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = reg
}

// Lookup returns the registration for name.
func Lookup(name string) (Registration, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[name]
	if !ok {
		return Registration{}, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return reg, nil
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
	return "screenshot"
}
