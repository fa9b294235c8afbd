// Package transport carries encoded payloads to a remote viewer and
// receives input events from it.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/smazurov/deskstream/internal/input"
	"github.com/smazurov/deskstream/internal/media"
)

var (
	ErrTransport    = errors.New("transport error")
	ErrNotConnected = errors.New("transport not connected")
	ErrSendTimeout  = errors.New("send timed out")
	ErrSendBusy     = errors.New("previous send still in flight")
	// ErrDropped is returned by backends that skip a payload on purpose,
	// for example under backpressure. Sessions count it as a drop.
	ErrDropped        = errors.New("payload dropped")
	ErrUnknownBackend = errors.New("unknown transport backend")
)

// ConnectionState is reported by backends through the state callback.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Backend is a signaling + media implementation. Callbacks may be invoked
// from any goroutine owned by the backend.
type Backend interface {
	Connect(ctx context.Context, endpoint string) error
	Send(p media.Payload) error
	OnInboundEvent(fn func(input.Event))
	OnConnectionState(fn func(ConnectionState))
	Disconnect() error
}

// ViewportNotifier is implemented by backends that learn the viewer's
// display size.
type ViewportNotifier interface {
	OnViewport(fn func(input.Size))
}

// KeyframeNotifier is implemented by backends that relay receiver keyframe
// requests (PLI/FIR).
type KeyframeNotifier interface {
	OnKeyframeRequest(fn func())
}

// Options configures backend construction.
type Options struct {
	DeviceID   string
	ICEServers []string
	Codec      string // codec of the payloads that will be sent
	Input      bool   // advertise input support

	// StatsInterval is how often backends that report to the signaling
	// server send frame statistics. Zero disables the reports.
	StatsInterval time.Duration
	Logger        *slog.Logger
}

// Factory builds a backend.
type Factory func(opts Options) (Backend, error)

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

// New builds the named backend.
func New(name string, opts Options) (Backend, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return factory(opts)
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

// Default returns the preferred backend.
func Default() string {
	return "webrtc"
}
