package session

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/deskstream/internal/encoders"
	"github.com/smazurov/deskstream/internal/events"
	"github.com/smazurov/deskstream/internal/input"
	"github.com/smazurov/deskstream/internal/media"
	"github.com/smazurov/deskstream/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCapture struct {
	width, height int
	initErr       error
	data          []byte

	mu       sync.Mutex
	rect     image.Rectangle
	calls    atomic.Int64
	shutdown atomic.Bool
}

func newFakeCapture(w, h int) *fakeCapture {
	return &fakeCapture{width: w, height: h, data: make([]byte, w*h*4)}
}

func (f *fakeCapture) Initialize() (int, int, error) {
	if f.initErr != nil {
		return 0, 0, f.initErr
	}
	f.mu.Lock()
	f.rect = image.Rect(0, 0, f.width, f.height)
	f.mu.Unlock()
	return f.width, f.height, nil
}

func (f *fakeCapture) CaptureOneFrame(ctx context.Context) (*media.Frame, error) {
	f.calls.Add(1)
	f.mu.Lock()
	w, h := f.rect.Dx(), f.rect.Dy()
	f.mu.Unlock()
	return &media.Frame{
		Data:      f.data[:w*h*4],
		Width:     w,
		Height:    h,
		Stride:    w * 4,
		Timestamp: media.Now(),
		Format:    media.PixelFormatBGRA,
	}, nil
}

func (f *fakeCapture) SetRegion(rect image.Rectangle) error {
	f.mu.Lock()
	f.rect = rect
	f.mu.Unlock()
	return nil
}

func (f *fakeCapture) Shutdown() error {
	f.shutdown.Store(true)
	return nil
}

type fakeEncoder struct {
	initErr error
	// block, when set, holds Encode until closed
	block   chan struct{}
	entered atomic.Bool

	mu        sync.Mutex
	cfg       Parameters
	width     int
	height    int
	frames    map[*media.Frame]int
	bitrates  []int
	keyframes int
	closed    bool
}

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{frames: map[*media.Frame]int{}}
}

func (e *fakeEncoder) Initialize(cfg encoders.Config) error {
	if e.initErr != nil {
		return e.initErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = Parameters{FPS: cfg.FPS, Bitrate: cfg.Bitrate, Quality: cfg.Quality}
	e.width, e.height = cfg.Width, cfg.Height
	return nil
}

func (e *fakeEncoder) Encode(frame *media.Frame) ([]byte, error) {
	if e.block != nil {
		e.entered.Store(true)
		<-e.block
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frames[frame]++
	e.bitrates = append(e.bitrates, e.cfg.Bitrate)
	return []byte{1, 2, 3}, nil
}

func (e *fakeEncoder) SetBitrate(bps int) {
	e.mu.Lock()
	e.cfg.Bitrate = bps
	e.mu.Unlock()
}

func (e *fakeEncoder) SetFPS(fps int) {
	e.mu.Lock()
	e.cfg.FPS = fps
	e.mu.Unlock()
}

func (e *fakeEncoder) SetQuality(q int) {
	e.mu.Lock()
	e.cfg.Quality = q
	e.mu.Unlock()
}

func (e *fakeEncoder) Codec() string { return "fake" }

func (e *fakeEncoder) RequestKeyframe() {
	e.mu.Lock()
	e.keyframes++
	e.mu.Unlock()
}

func (e *fakeEncoder) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

func (e *fakeEncoder) snapshot() (Parameters, int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg, e.width, e.height
}

func (e *fakeEncoder) duplicateFrames() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	dups := 0
	for _, n := range e.frames {
		if n > 1 {
			dups++
		}
	}
	return dups
}

// fakeTransport reports Connected as soon as Connect is called.
type fakeTransport struct {
	connectErr error

	mu         sync.Mutex
	onEvent    func(input.Event)
	onState    func(transport.ConnectionState)
	onViewport func(input.Size)
	onKeyframe func()
	connected  bool
	connects   int
	disconnect int
	sent       int
}

func (f *fakeTransport) Connect(ctx context.Context, endpoint string) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connects++
	onState := f.onState
	f.mu.Unlock()
	f.setConnected(true, onState)
	return nil
}

func (f *fakeTransport) setConnected(connected bool, onState func(transport.ConnectionState)) {
	f.mu.Lock()
	f.connected = connected
	f.mu.Unlock()
	if onState == nil {
		return
	}
	if connected {
		onState(transport.StateConnected)
	} else {
		onState(transport.StateDisconnected)
	}
}

func (f *fakeTransport) drop() {
	f.mu.Lock()
	onState := f.onState
	f.mu.Unlock()
	f.setConnected(false, onState)
}

func (f *fakeTransport) Send(p media.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return transport.ErrNotConnected
	}
	f.sent++
	return nil
}

func (f *fakeTransport) OnInboundEvent(fn func(input.Event)) {
	f.mu.Lock()
	f.onEvent = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnConnectionState(fn func(transport.ConnectionState)) {
	f.mu.Lock()
	f.onState = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnViewport(fn func(input.Size)) {
	f.mu.Lock()
	f.onViewport = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnKeyframeRequest(fn func()) {
	f.mu.Lock()
	f.onKeyframe = fn
	f.mu.Unlock()
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	f.disconnect++
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) counts() (connects, sent int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.sent
}

type fakeInjector struct {
	initErr error

	mu        sync.Mutex
	events    []input.Event
	initCalls int
	closed    bool
}

func (f *fakeInjector) Initialize() error {
	f.mu.Lock()
	f.initCalls++
	f.mu.Unlock()
	return f.initErr
}

func (f *fakeInjector) Inject(e input.Event) error {
	f.mu.Lock()
	f.events = append(f.events, e)
	f.mu.Unlock()
	return nil
}

func (f *fakeInjector) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeInjector) last() (input.Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return input.Event{}, false
	}
	return f.events[len(f.events)-1], true
}

type harness struct {
	capture   *fakeCapture
	encoder   *fakeEncoder
	transport *fakeTransport
	injector  *fakeInjector
	bus       *events.Bus
	o         *Orchestrator
}

func newHarness(t *testing.T, w, h int) *harness {
	t.Helper()
	hs := &harness{
		capture:   newFakeCapture(w, h),
		encoder:   newFakeEncoder(),
		transport: &fakeTransport{},
		injector:  &fakeInjector{},
		bus:       events.New(),
	}
	hs.o = New(Components{
		Capture:   hs.capture,
		Encoder:   hs.encoder,
		Transport: hs.transport,
		Injector:  hs.injector,
	}, Options{
		Parameters: Parameters{FPS: 100},
		Bus:        hs.bus,
		Logger:     testLogger(),
	})
	t.Cleanup(func() { _ = hs.o.Shutdown() })
	return hs
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestInitializeDefaults(t *testing.T) {
	hs := newHarness(t, 1920, 1080)

	if err := hs.o.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := hs.o.State(); got != StateReady {
		t.Fatalf("state = %s, want ready", got)
	}

	cfg, w, h := hs.encoder.snapshot()
	if w != 1920 || h != 1080 {
		t.Errorf("encoder size = %dx%d", w, h)
	}
	if cfg.FPS != 100 || cfg.Bitrate != DefaultBitrate || cfg.Quality != DefaultQuality {
		t.Errorf("encoder config = %+v", cfg)
	}

	m := hs.o.Mapping()
	want := input.Size{Width: 1920, Height: 1080}
	if m.Source != want || m.Target != want {
		t.Errorf("mapping = %+v, want capture to capture", m)
	}
}

func TestInitializeCaptureFailure(t *testing.T) {
	hs := newHarness(t, 1920, 1080)
	hs.capture.initErr = errors.New("no display")

	err := hs.o.Initialize()
	if !errors.Is(err, ErrInit) {
		t.Fatalf("expected ErrInit, got %v", err)
	}
	var initErr *InitError
	if !errors.As(err, &initErr) || initErr.Stage != StageCapture {
		t.Errorf("expected capture InitError, got %v", err)
	}
	if Kind(err) != KindInit {
		t.Errorf("Kind = %s", Kind(err))
	}
	if hs.o.State() != StateFailed {
		t.Errorf("state = %s, want failed", hs.o.State())
	}

	// no retry in place
	if err := hs.o.Initialize(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Initialize: expected ErrInvalidState, got %v", err)
	}
	if err := hs.o.StartStreaming(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("StartStreaming after failure: expected ErrInvalidState, got %v", err)
	}
}

func TestInitializeEncoderFailure(t *testing.T) {
	hs := newHarness(t, 640, 480)
	hs.encoder.initErr = errors.New("no codec")

	err := hs.o.Initialize()
	var initErr *InitError
	if !errors.As(err, &initErr) || initErr.Stage != StageEncoder {
		t.Fatalf("expected encoder InitError, got %v", err)
	}
	if !errors.Is(err, encoders.ErrInit) {
		t.Errorf("expected wrapped encoders.ErrInit, got %v", err)
	}
	if hs.o.State() != StateFailed {
		t.Errorf("state = %s, want failed", hs.o.State())
	}
}

func TestInitializeInputFailure(t *testing.T) {
	hs := newHarness(t, 640, 480)
	hs.injector.initErr = input.ErrUnavailable

	err := hs.o.Initialize()
	var initErr *InitError
	if !errors.As(err, &initErr) || initErr.Stage != StageInput {
		t.Fatalf("expected input InitError, got %v", err)
	}
	if !errors.Is(err, input.ErrUnavailable) || Kind(err) != KindInit {
		t.Errorf("expected init kind wrapping ErrUnavailable, got %v (%s)", err, Kind(err))
	}
	if hs.o.State() != StateFailed {
		t.Errorf("state = %s, want failed", hs.o.State())
	}
}

func TestOpenDefersInputAttach(t *testing.T) {
	inj := &fakeInjector{initErr: input.ErrUnavailable}
	input.Register("session-test-lazy", func(*slog.Logger) (input.Injector, error) {
		return inj, nil
	})
	transport.Register("session-test-loopback", func(transport.Options) (transport.Backend, error) {
		return &fakeTransport{}, nil
	})

	o, err := Open(Backends{
		Capture:   "synthetic",
		Encoder:   "jpeg",
		Transport: "session-test-loopback",
		Input:     "session-test-lazy",
	}, Options{Logger: testLogger()})
	if err != nil {
		t.Fatalf("Open should not attach to the input stack: %v", err)
	}
	t.Cleanup(func() { _ = o.Shutdown() })
	if inj.initCalls != 0 {
		t.Fatalf("Initialize called %d times during Open", inj.initCalls)
	}

	err = o.Initialize()
	var initErr *InitError
	if !errors.As(err, &initErr) || initErr.Stage != StageInput {
		t.Fatalf("expected input InitError, got %v", err)
	}
	if o.State() != StateFailed {
		t.Errorf("state = %s, want failed", o.State())
	}
	if inj.initCalls != 1 {
		t.Errorf("Initialize called %d times, want 1", inj.initCalls)
	}
}

func TestStartStopStreaming(t *testing.T) {
	hs := newHarness(t, 320, 240)
	if err := hs.o.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if err := hs.o.StartStreaming(context.Background()); err != nil {
		t.Fatalf("StartStreaming: %v", err)
	}
	if hs.o.State() != StateStreaming {
		t.Fatalf("state = %s, want streaming", hs.o.State())
	}

	waitFor(t, "frames sent", func() bool {
		_, sent := hs.transport.counts()
		return sent >= 3
	})

	if err := hs.o.StopStreaming(); err != nil {
		t.Fatalf("StopStreaming: %v", err)
	}
	if hs.o.State() != StateReady {
		t.Errorf("state = %s, want ready", hs.o.State())
	}

	calls := hs.capture.calls.Load()
	time.Sleep(50 * time.Millisecond)
	if hs.capture.calls.Load() != calls {
		t.Error("capture kept running after StopStreaming")
	}

	s := hs.o.GetStats()
	if s.Capture.Width != 320 || s.Capture.Height != 240 {
		t.Errorf("capture stats size = %dx%d", s.Capture.Width, s.Capture.Height)
	}
	if s.Transport.Frames == 0 || s.Encode.Frames < s.Transport.Frames {
		t.Errorf("unexpected counters encode=%d transport=%d", s.Encode.Frames, s.Transport.Frames)
	}
}

func TestStopInReadyIsNoop(t *testing.T) {
	hs := newHarness(t, 320, 240)
	if err := hs.o.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	for range 2 {
		if err := hs.o.StopStreaming(); err != nil {
			t.Fatalf("StopStreaming in ready: %v", err)
		}
	}
	if hs.o.State() != StateReady {
		t.Errorf("state = %s", hs.o.State())
	}
	if hs.transport.disconnect != 0 {
		t.Error("StopStreaming in ready touched the transport")
	}
}

func TestStopFromIdleRejected(t *testing.T) {
	hs := newHarness(t, 320, 240)
	if err := hs.o.StopStreaming(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("StopStreaming from idle: expected ErrInvalidState, got %v", err)
	}
}

func TestStopTimeoutFails(t *testing.T) {
	prev := stopTimeout
	stopTimeout = 50 * time.Millisecond
	t.Cleanup(func() { stopTimeout = prev })

	hs := newHarness(t, 320, 240)
	hs.encoder.block = make(chan struct{})
	t.Cleanup(func() { close(hs.encoder.block) })

	if err := hs.o.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := hs.o.StartStreaming(context.Background()); err != nil {
		t.Fatalf("StartStreaming: %v", err)
	}
	waitFor(t, "encoder blocked", hs.encoder.entered.Load)

	if err := hs.o.StopStreaming(); !errors.Is(err, errStopTimeout) {
		t.Fatalf("expected errStopTimeout, got %v", err)
	}
	if hs.o.State() != StateFailed {
		t.Fatalf("state = %s, want failed", hs.o.State())
	}
	if err := hs.o.StartStreaming(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("StartStreaming after stuck stop: expected ErrInvalidState, got %v", err)
	}
}

func TestDoubleStartSinglePipeline(t *testing.T) {
	hs := newHarness(t, 320, 240)
	if err := hs.o.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	for range 2 {
		if err := hs.o.StartStreaming(context.Background()); err != nil {
			t.Fatalf("StartStreaming: %v", err)
		}
	}

	waitFor(t, "frames sent", func() bool {
		_, sent := hs.transport.counts()
		return sent >= 10
	})

	if connects, _ := hs.transport.counts(); connects != 1 {
		t.Errorf("transport connected %d times", connects)
	}
	// a second pipeline would encode the same latest frame twice
	if dups := hs.encoder.duplicateFrames(); dups != 0 {
		t.Errorf("%d frames encoded more than once", dups)
	}
}

func TestStartBeforeInitialize(t *testing.T) {
	hs := newHarness(t, 320, 240)
	if err := hs.o.StartStreaming(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
	if Kind(hs.o.StartStreaming(context.Background())) != KindInvalidState {
		t.Error("expected invalid state kind")
	}
}

func TestStartRollsBackCapture(t *testing.T) {
	hs := newHarness(t, 320, 240)
	hs.transport.connectErr = errors.New("server unreachable")
	if err := hs.o.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	err := hs.o.StartStreaming(context.Background())
	if !errors.Is(err, transport.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if hs.o.State() != StateReady {
		t.Errorf("state = %s, want ready", hs.o.State())
	}
	if hs.o.capture.Running() {
		t.Error("capture still running after failed start")
	}

	// the session can still start once the transport recovers
	hs.transport.connectErr = nil
	if err := hs.o.StartStreaming(context.Background()); err != nil {
		t.Fatalf("StartStreaming after recovery: %v", err)
	}
}

func TestDisconnectMidStream(t *testing.T) {
	hs := newHarness(t, 320, 240)
	if err := hs.o.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := hs.o.StartStreaming(context.Background()); err != nil {
		t.Fatalf("StartStreaming: %v", err)
	}
	waitFor(t, "first send", func() bool {
		return hs.o.GetStats().Transport.Frames > 0
	})

	hs.transport.drop()
	waitFor(t, "disconnect observed", func() bool {
		return !hs.o.GetStats().Transport.Connected
	})

	before := hs.o.GetStats()
	waitFor(t, "drops counted", func() bool {
		return hs.o.GetStats().Transport.Dropped > before.Transport.Dropped+2
	})

	after := hs.o.GetStats()
	if after.State != StateStreaming.String() {
		t.Errorf("state = %s, want streaming", after.State)
	}
	if after.Capture.Frames <= before.Capture.Frames {
		t.Error("capture stopped publishing after disconnect")
	}
}

func TestSetStreamingParametersValidation(t *testing.T) {
	hs := newHarness(t, 320, 240)
	if err := hs.o.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	tests := []struct {
		name string
		p    Parameters
		ok   bool
	}{
		{"defaults", DefaultParameters(), true},
		{"min fps", Parameters{FPS: 1, Bitrate: 1, Quality: 0}, true},
		{"max fps", Parameters{FPS: 120, Bitrate: 1, Quality: 100}, true},
		{"zero fps", Parameters{FPS: 0, Bitrate: 1, Quality: 50}, false},
		{"fps too high", Parameters{FPS: 121, Bitrate: 1, Quality: 50}, false},
		{"zero bitrate", Parameters{FPS: 30, Bitrate: 0, Quality: 50}, false},
		{"negative quality", Parameters{FPS: 30, Bitrate: 1, Quality: -1}, false},
		{"quality too high", Parameters{FPS: 30, Bitrate: 1, Quality: 101}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := hs.o.SetStreamingParameters(tt.p)
			if tt.ok && err != nil {
				t.Errorf("unexpected error %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidParameters) {
				t.Errorf("expected ErrInvalidParameters, got %v", err)
			}
		})
	}
}

func TestSetStreamingParametersWhileStreaming(t *testing.T) {
	hs := newHarness(t, 320, 240)
	changes := make(chan events.StreamingParametersChangedEvent, 1)
	unsub := hs.bus.Subscribe(func(e events.StreamingParametersChangedEvent) { changes <- e })
	defer unsub()

	if err := hs.o.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := hs.o.StartStreaming(context.Background()); err != nil {
		t.Fatalf("StartStreaming: %v", err)
	}

	p := Parameters{FPS: 60, Bitrate: 2_000_000, Quality: 55}
	if err := hs.o.SetStreamingParameters(p); err != nil {
		t.Fatalf("SetStreamingParameters: %v", err)
	}

	waitFor(t, "new bitrate applied", func() bool {
		cfg, _, _ := hs.encoder.snapshot()
		return cfg == p
	})
	if hs.o.capture.TargetFPS() != 60 {
		t.Errorf("capture fps = %d", hs.o.capture.TargetFPS())
	}
	if hs.o.GetStats().Encode.Bitrate != 2_000_000 {
		t.Errorf("stats bitrate = %d", hs.o.GetStats().Encode.Bitrate)
	}

	select {
	case e := <-changes:
		if e.FPS != 60 || e.Bitrate != 2_000_000 || e.Quality != 55 {
			t.Errorf("unexpected event %+v", e)
		}
	case <-time.After(time.Second):
		t.Error("no parameters event")
	}
}

func TestInputMappedToCapture(t *testing.T) {
	hs := newHarness(t, 1920, 1080)
	if err := hs.o.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := hs.o.StartStreaming(context.Background()); err != nil {
		t.Fatalf("StartStreaming: %v", err)
	}

	hs.transport.mu.Lock()
	onViewport, onEvent := hs.transport.onViewport, hs.transport.onEvent
	hs.transport.mu.Unlock()

	onViewport(input.Size{Width: 1, Height: 1})
	onEvent(input.PointerMove(0.5, 0.5, false))

	waitFor(t, "event injected", func() bool {
		_, ok := hs.injector.last()
		return ok
	})
	e, _ := hs.injector.last()
	if e.X != 960 || e.Y != 540 {
		t.Errorf("injected at (%v, %v), want (960, 540)", e.X, e.Y)
	}
}

func TestSetCaptureRegion(t *testing.T) {
	hs := newHarness(t, 1920, 1080)
	if err := hs.o.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	region := Region{X: 100, Y: 50, Width: 640, Height: 480}
	if err := hs.o.SetCaptureRegion(region); err != nil {
		t.Fatalf("SetCaptureRegion: %v", err)
	}
	if got := hs.o.Region(); got != region {
		t.Errorf("Region = %+v", got)
	}
	if _, w, h := hs.encoder.snapshot(); w != 640 || h != 480 {
		t.Errorf("encoder size = %dx%d", w, h)
	}

	hs.o.routeInput(input.PointerMove(0.5, 0.5, true))
	e, ok := hs.injector.last()
	if !ok {
		t.Fatal("no event injected")
	}
	if e.X != 420 || e.Y != 290 {
		t.Errorf("injected at (%v, %v), want (420, 290)", e.X, e.Y)
	}

	if err := hs.o.SetCaptureRegion(Region{X: 1800, Y: 0, Width: 640, Height: 480}); !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("out of bounds region: expected ErrInvalidParameters, got %v", err)
	}

	if err := hs.o.StartStreaming(context.Background()); err != nil {
		t.Fatalf("StartStreaming: %v", err)
	}
	if err := hs.o.SetCaptureRegion(region); !errors.Is(err, ErrInvalidState) {
		t.Errorf("region while streaming: expected ErrInvalidState, got %v", err)
	}
}

func TestKeyframeRequestForwarded(t *testing.T) {
	hs := newHarness(t, 320, 240)
	requests := make(chan events.KeyframeRequestedEvent, 1)
	unsub := hs.bus.Subscribe(func(e events.KeyframeRequestedEvent) { requests <- e })
	defer unsub()

	if err := hs.o.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	hs.transport.mu.Lock()
	onKeyframe := hs.transport.onKeyframe
	hs.transport.mu.Unlock()
	onKeyframe()

	hs.encoder.mu.Lock()
	keyframes := hs.encoder.keyframes
	hs.encoder.mu.Unlock()
	if keyframes != 1 {
		t.Errorf("encoder saw %d keyframe requests", keyframes)
	}

	select {
	case e := <-requests:
		if !e.Delivered {
			t.Error("expected delivered request")
		}
	case <-time.After(time.Second):
		t.Error("no keyframe event")
	}
}

func TestStateEventsPublished(t *testing.T) {
	hs := newHarness(t, 320, 240)
	states := make(chan events.SessionStateChangedEvent, 16)
	unsub := hs.bus.Subscribe(func(e events.SessionStateChangedEvent) { states <- e })
	defer unsub()

	if err := hs.o.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	want := []string{"initializing", "ready"}
	for _, w := range want {
		select {
		case e := <-states:
			if e.State != w {
				t.Errorf("state event %q, want %q", e.State, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing %q event", w)
		}
	}
}

func TestShutdownFromStreaming(t *testing.T) {
	hs := newHarness(t, 320, 240)
	if err := hs.o.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := hs.o.StartStreaming(context.Background()); err != nil {
		t.Fatalf("StartStreaming: %v", err)
	}

	if err := hs.o.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if hs.o.State() != StateIdle {
		t.Errorf("state = %s, want idle", hs.o.State())
	}
	if !hs.capture.shutdown.Load() {
		t.Error("capture backend not shut down")
	}
	hs.encoder.mu.Lock()
	closed := hs.encoder.closed
	hs.encoder.mu.Unlock()
	if !closed {
		t.Error("encoder not closed")
	}
	if !hs.injector.closed {
		t.Error("injector not closed")
	}

	if err := hs.o.Shutdown(); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	if err := hs.o.Initialize(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Initialize after Shutdown: expected ErrInvalidState, got %v", err)
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{&InitError{Stage: StageCapture, Err: errors.New("x")}, KindInit},
		{encoders.ErrEncode, KindTransient},
		{transport.ErrNotConnected, KindTransient},
		{input.ErrInject, KindTransient},
		{ErrInvalidState, KindInvalidState},
		{ErrInvalidParameters, KindInvalidParameters},
		{errors.New("other"), KindOther},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
