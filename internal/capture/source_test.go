package capture

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/deskstream/internal/framebuffer"
	"github.com/smazurov/deskstream/internal/media"
	"github.com/smazurov/deskstream/internal/stats"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBackend struct {
	width, height int
	initErr       error
	failEvery     int

	calls    atomic.Int64
	shutdown atomic.Bool
}

func (f *fakeBackend) Initialize() (int, int, error) {
	if f.initErr != nil {
		return 0, 0, f.initErr
	}
	return f.width, f.height, nil
}

func (f *fakeBackend) CaptureOneFrame(ctx context.Context) (*media.Frame, error) {
	n := f.calls.Add(1)
	if f.failEvery > 0 && n%int64(f.failEvery) == 0 {
		return nil, errors.New("transient")
	}
	return &media.Frame{
		Data:      make([]byte, f.width*f.height*4),
		Width:     f.width,
		Height:    f.height,
		Stride:    f.width * 4,
		Timestamp: n,
		Format:    media.PixelFormatBGRA,
	}, nil
}

func (f *fakeBackend) Shutdown() error {
	f.shutdown.Store(true)
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not met in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestInitializeFailureIsInitError(t *testing.T) {
	backend := &fakeBackend{initErr: ErrUnavailable}
	s := NewSource(backend, false, framebuffer.New(), stats.New(), 30, testLogger())

	err := s.Initialize()
	if !errors.Is(err, ErrInit) || !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrInit wrapping ErrUnavailable, got %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Start after failed init: got %v", err)
	}
}

func TestInitializeRejectsEmptyGeometry(t *testing.T) {
	s := NewSource(&fakeBackend{}, false, framebuffer.New(), stats.New(), 30, testLogger())
	if err := s.Initialize(); !errors.Is(err, ErrInit) {
		t.Fatalf("expected ErrInit, got %v", err)
	}
}

func TestCaptureLoopPublishes(t *testing.T) {
	backend := &fakeBackend{width: 1920, height: 1080}
	buf := framebuffer.New()
	agg := stats.New()
	s := NewSource(backend, true, buf, agg, 200, testLogger())

	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if w, h := s.Resolution(); w != 1920 || h != 1080 {
		t.Fatalf("Resolution = %dx%d", w, h)
	}
	if !s.IsHardwareAccelerated() {
		t.Error("expected hardware flag from registration")
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("second Start should be a no-op, got %v", err)
	}

	waitFor(t, func() bool { return agg.Snapshot().Capture.Frames >= 3 })

	snap := agg.Snapshot()
	if snap.Capture.Width != 1920 || snap.Capture.Height != 1080 {
		t.Errorf("capture stats resolution = %dx%d", snap.Capture.Width, snap.Capture.Height)
	}
	if _, ok := buf.TakeLatest(); !ok {
		t.Error("expected a frame in the buffer")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Running() {
		t.Error("source still running after Stop")
	}

	after := backend.calls.Load()
	time.Sleep(30 * time.Millisecond)
	if backend.calls.Load() != after {
		t.Error("backend called after Stop returned")
	}
}

func TestCaptureErrorsCountedLoopContinues(t *testing.T) {
	backend := &fakeBackend{width: 4, height: 4, failEvery: 2}
	agg := stats.New()
	s := NewSource(backend, false, framebuffer.New(), agg, 500, testLogger())
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	waitFor(t, func() bool {
		snap := agg.Snapshot()
		return snap.Capture.Errors >= 2 && snap.Capture.Frames >= 2
	})
}

func TestStopIdempotent(t *testing.T) {
	s := NewSource(&fakeBackend{width: 2, height: 2}, false, framebuffer.New(), stats.New(), 30, testLogger())
	if err := s.Stop(); err != nil {
		t.Errorf("Stop before Start: %v", err)
	}
	_ = s.Initialize()
	_ = s.Start()
	if err := s.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestSetTargetFPSWhileRunning(t *testing.T) {
	backend := &fakeBackend{width: 2, height: 2}
	s := NewSource(backend, false, framebuffer.New(), stats.New(), 1, testLogger())
	_ = s.Initialize()
	_ = s.Start()
	defer s.Stop()

	s.SetTargetFPS(500)
	if s.TargetFPS() != 500 {
		t.Errorf("TargetFPS = %d", s.TargetFPS())
	}
	// at 1 fps the second frame would take a second
	waitFor(t, func() bool { return backend.calls.Load() >= 5 })
}

func TestSetCaptureRegion(t *testing.T) {
	backend, _ := newSyntheticBackend(Options{Width: 640, Height: 480})
	s := NewSource(backend, false, framebuffer.New(), stats.New(), 30, testLogger())

	if err := s.SetCaptureRegion(image.Rect(0, 0, 10, 10)); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		rect    image.Rectangle
		wantErr bool
	}{
		{"inside", image.Rect(100, 100, 420, 340), false},
		{"full", image.Rect(0, 0, 640, 480), false},
		{"empty", image.Rect(10, 10, 10, 10), true},
		{"outside", image.Rect(600, 400, 700, 500), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.SetCaptureRegion(tt.rect)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SetCaptureRegion(%v) error = %v", tt.rect, err)
			}
			if err != nil && !errors.Is(err, ErrInvalidRegion) {
				t.Errorf("expected ErrInvalidRegion, got %v", err)
			}
		})
	}

	_ = s.SetCaptureRegion(image.Rect(100, 100, 420, 340))
	frame, err := backend.CaptureOneFrame(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if frame.Width != 320 || frame.Height != 240 {
		t.Errorf("region frame = %dx%d, want 320x240", frame.Width, frame.Height)
	}
	if err := frame.Validate(); err != nil {
		t.Errorf("synthetic frame invalid: %v", err)
	}
}

func TestRegionUnsupported(t *testing.T) {
	s := NewSource(&fakeBackend{width: 10, height: 10}, false, framebuffer.New(), stats.New(), 30, testLogger())
	_ = s.Initialize()
	if err := s.SetCaptureRegion(image.Rect(0, 0, 5, 5)); !errors.Is(err, ErrRegionUnsupported) {
		t.Errorf("expected ErrRegionUnsupported, got %v", err)
	}
	if m := s.Monitors(); len(m) != 1 || m[0].Width != 10 {
		t.Errorf("fallback monitors = %+v", m)
	}
}

func TestShutdownReleasesBackend(t *testing.T) {
	backend := &fakeBackend{width: 2, height: 2}
	s := NewSource(backend, false, framebuffer.New(), stats.New(), 30, testLogger())
	_ = s.Initialize()
	_ = s.Start()

	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !backend.shutdown.Load() {
		t.Error("backend not shut down")
	}
	if err := s.Start(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Start after Shutdown: %v", err)
	}
}

func TestRegistry(t *testing.T) {
	names := Names()
	for _, want := range []string{"screenshot", "synthetic"} {
		if !slices.Contains(names, want) {
			t.Errorf("backend %q not registered (have %v)", want, names)
		}
	}
	if _, err := Lookup("nope"); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("expected ErrUnknownBackend, got %v", err)
	}
}
