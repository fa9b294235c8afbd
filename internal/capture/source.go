package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/deskstream/internal/cadence"
	"github.com/smazurov/deskstream/internal/media"
)

const stopTimeout = 5 * time.Second

var ErrStopTimeout = errors.New("capture loop did not stop in time")

// Publisher receives captured frames. *framebuffer.Buffer satisfies it.
type Publisher interface {
	Publish(frame *media.Frame)
}

// Recorder receives capture outcomes. *stats.Aggregator satisfies it.
type Recorder interface {
	CaptureFrame(f *media.Frame)
	CaptureError()
}

// Source owns the capture goroutine.
type Source struct {
	backend  Backend
	hardware bool
	out      Publisher
	recorder Recorder
	logger   *slog.Logger
	fps      atomic.Int64

	mu          sync.Mutex
	initialized bool
	width       int
	height      int
	region      image.Rectangle
	ticker      *cadence.Ticker
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewSource wraps backend. hardware is the backend's static acceleration
// flag from its registration.
func NewSource(backend Backend, hardware bool, out Publisher, recorder Recorder, fps int, logger *slog.Logger) *Source {
	s := &Source{
		backend:  backend,
		hardware: hardware,
		out:      out,
		recorder: recorder,
		logger:   logger,
	}
	s.fps.Store(int64(fps))
	return s
}

// Initialize queries the display geometry.
func (s *Source) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	width, height, err := s.backend.Initialize()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInit, err)
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: backend reported %dx%d", ErrInit, width, height)
	}

	s.width, s.height = width, height
	s.region = image.Rect(0, 0, width, height)
	s.initialized = true
	s.logger.Info("Capture initialized", "width", width, "height", height, "hardware", s.hardware)
	return nil
}

// Start launches the capture goroutine. Calling Start while running is a
// no-op.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	if s.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.ticker = cadence.FromRate(int(s.fps.Load()))
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx, s.ticker, s.done)
	s.logger.Debug("Capture loop started", "fps", s.fps.Load())
	return nil
}

// Stop cancels the capture goroutine and waits for it to exit.
func (s *Source) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done, s.ticker = nil, nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		s.logger.Debug("Capture loop stopped")
		return nil
	case <-time.After(stopTimeout):
		return ErrStopTimeout
	}
}

// Running reports whether the capture goroutine is active.
func (s *Source) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Source) run(ctx context.Context, ticker *cadence.Ticker, done chan struct{}) {
	defer close(done)

	var failures int
	for ticker.Wait(ctx) {
		frame, err := s.backend.CaptureOneFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.recorder.CaptureError()
			failures++
			// first failure and then every 100th, to keep a broken
			// backend from flooding the log
			if failures%100 == 1 {
				s.logger.Warn("Frame capture failed", "error", err, "consecutive", failures)
			}
			continue
		}
		failures = 0
		s.out.Publish(frame)
		s.recorder.CaptureFrame(frame)
	}
}

// SetTargetFPS changes the capture rate, effective from the next tick.
func (s *Source) SetTargetFPS(fps int) {
	s.fps.Store(int64(fps))
	s.mu.Lock()
	if s.ticker != nil {
		s.ticker.SetRate(fps)
	}
	s.mu.Unlock()
}

// TargetFPS returns the configured capture rate.
func (s *Source) TargetFPS() int {
	return int(s.fps.Load())
}

// Resolution returns the display geometry found at Initialize.
func (s *Source) Resolution() (width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// Region returns the active capture rectangle relative to the display.
func (s *Source) Region() image.Rectangle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.region
}

// SetCaptureRegion restricts capture to rect, relative to the display
// origin. The change applies to the next captured frame.
func (s *Source) SetCaptureRegion(rect image.Rectangle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	setter, ok := s.backend.(RegionSetter)
	if !ok {
		return ErrRegionUnsupported
	}
	full := image.Rect(0, 0, s.width, s.height)
	if rect.Empty() || !rect.In(full) {
		return fmt.Errorf("%w: %v outside %v", ErrInvalidRegion, rect, full)
	}
	if err := setter.SetRegion(rect); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRegion, err)
	}
	s.region = rect
	s.logger.Info("Capture region set", "region", rect.String())
	return nil
}

// Monitors lists attached displays when the backend can enumerate them.
func (s *Source) Monitors() []Monitor {
	if lister, ok := s.backend.(MonitorLister); ok {
		return lister.Monitors()
	}
	w, h := s.Resolution()
	if w == 0 {
		return nil
	}
	return []Monitor{{Index: 0, Width: w, Height: h, Primary: true}}
}

// IsHardwareAccelerated reports the backend's static capability flag.
func (s *Source) IsHardwareAccelerated() bool {
	return s.hardware
}

// Shutdown stops the loop and releases the backend.
func (s *Source) Shutdown() error {
	stopErr := s.Stop()

	s.mu.Lock()
	s.initialized = false
	s.mu.Unlock()

	return errors.Join(stopErr, s.backend.Shutdown())
}
