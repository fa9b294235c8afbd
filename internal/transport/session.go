package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/deskstream/internal/input"
	"github.com/smazurov/deskstream/internal/media"
)

const (
	DefaultQueueSize   = 256
	DefaultSendTimeout = 100 * time.Millisecond

	stopTimeout = 2 * time.Second
)

// Recorder receives transport outcomes. *stats.Aggregator satisfies it.
type Recorder interface {
	TransportFrame(p media.Payload)
	TransportDrop()
	TransportError()
	SetConnected(connected bool)
	InputDropped()
}

// SessionOptions tunes the session wrapper.
type SessionOptions struct {
	QueueSize   int
	SendTimeout time.Duration
}

// Session wraps a Backend. Inbound events are queued and handed to the
// input handler from a single dispatcher goroutine, never from the
// backend's own callback.
type Session struct {
	backend     Backend
	recorder    Recorder
	logger      *slog.Logger
	sendTimeout time.Duration
	inbound     chan input.Event

	state   atomic.Int32
	sending atomic.Bool

	handlerMu sync.RWMutex
	onInput   func(input.Event)
	onState   func(ConnectionState)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession wraps backend and registers the session's callbacks with it.
func NewSession(backend Backend, recorder Recorder, opts SessionOptions, logger *slog.Logger) *Session {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	s := &Session{
		backend:     backend,
		recorder:    recorder,
		logger:      logger,
		sendTimeout: opts.SendTimeout,
		inbound:     make(chan input.Event, opts.QueueSize),
	}
	backend.OnInboundEvent(s.enqueue)
	backend.OnConnectionState(s.handleState)
	return s
}

// OnInput sets the handler for inbound events.
func (s *Session) OnInput(fn func(input.Event)) {
	s.handlerMu.Lock()
	s.onInput = fn
	s.handlerMu.Unlock()
}

// OnState sets the handler for connection state changes.
func (s *Session) OnState(fn func(ConnectionState)) {
	s.handlerMu.Lock()
	s.onState = fn
	s.handlerMu.Unlock()
}

// OnViewport registers fn when the backend reports viewer sizes. It
// reports whether the backend supports it.
func (s *Session) OnViewport(fn func(input.Size)) bool {
	vn, ok := s.backend.(ViewportNotifier)
	if ok {
		vn.OnViewport(fn)
	}
	return ok
}

// OnKeyframeRequest registers fn when the backend relays keyframe
// requests. It reports whether the backend supports it.
func (s *Session) OnKeyframeRequest(fn func()) bool {
	kn, ok := s.backend.(KeyframeNotifier)
	if ok {
		kn.OnKeyframeRequest(fn)
	}
	return ok
}

// Connect starts the dispatcher and issues the connection attempt. The
// outcome arrives through the state callback.
func (s *Session) Connect(ctx context.Context, endpoint string) error {
	s.startDispatcher()
	s.setState(StateConnecting)

	if err := s.backend.Connect(ctx, endpoint); err != nil {
		s.setState(StateDisconnected)
		s.stopDispatcher()
		return fmt.Errorf("%w: connect %s: %w", ErrTransport, endpoint, err)
	}
	return nil
}

// SendFrame hands p to the backend. It fails fast when not connected and
// never blocks past the send timeout.
func (s *Session) SendFrame(p media.Payload) error {
	if s.State() != StateConnected {
		s.recorder.TransportDrop()
		return fmt.Errorf("%w: %w", ErrTransport, ErrNotConnected)
	}
	if !s.sending.CompareAndSwap(false, true) {
		s.recorder.TransportDrop()
		return fmt.Errorf("%w: %w", ErrTransport, ErrSendBusy)
	}

	result := make(chan error, 1)
	go func() {
		defer s.sending.Store(false)
		result <- s.backend.Send(p)
	}()

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()

	select {
	case err := <-result:
		if errors.Is(err, ErrDropped) {
			s.recorder.TransportDrop()
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
		if err != nil {
			s.recorder.TransportError()
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
		s.recorder.TransportFrame(p)
		return nil
	case <-timer.C:
		s.recorder.TransportDrop()
		return fmt.Errorf("%w: %w", ErrTransport, ErrSendTimeout)
	}
}

// Disconnect tears down the backend connection. Calling it more than once
// is safe.
func (s *Session) Disconnect() error {
	s.stopDispatcher()
	err := s.backend.Disconnect()
	s.setState(StateDisconnected)
	if err != nil {
		return fmt.Errorf("%w: disconnect: %w", ErrTransport, err)
	}
	return nil
}

// State returns the last reported connection state.
func (s *Session) State() ConnectionState {
	return ConnectionState(s.state.Load())
}

// Connected reports whether the viewer is connected.
func (s *Session) Connected() bool {
	return s.State() == StateConnected
}

func (s *Session) enqueue(e input.Event) {
	select {
	case s.inbound <- e:
	default:
		s.recorder.InputDropped()
	}
}

func (s *Session) handleState(state ConnectionState) {
	if s.setState(state) {
		s.logger.Info("Transport state changed", "state", state.String())
	}
	s.handlerMu.RLock()
	fn := s.onState
	s.handlerMu.RUnlock()
	if fn != nil {
		fn(state)
	}
}

// setState reports whether the state changed.
func (s *Session) setState(state ConnectionState) bool {
	prev := ConnectionState(s.state.Swap(int32(state)))
	s.recorder.SetConnected(state == StateConnected)
	return prev != state
}

func (s *Session) startDispatcher() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.dispatch(ctx, s.done)
}

func (s *Session) stopDispatcher() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		s.logger.Warn("Input dispatcher did not stop in time")
	}
}

func (s *Session) dispatch(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-s.inbound:
			s.handlerMu.RLock()
			fn := s.onInput
			s.handlerMu.RUnlock()
			if fn != nil {
				fn(e)
			}
		}
	}
}
