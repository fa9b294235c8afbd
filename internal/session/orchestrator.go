// Package session coordinates capture, encode, transport and input routing
// under a single lifecycle state machine.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/deskstream/internal/cadence"
	"github.com/smazurov/deskstream/internal/capture"
	"github.com/smazurov/deskstream/internal/encoders"
	"github.com/smazurov/deskstream/internal/events"
	"github.com/smazurov/deskstream/internal/framebuffer"
	"github.com/smazurov/deskstream/internal/input"
	"github.com/smazurov/deskstream/internal/media"
	"github.com/smazurov/deskstream/internal/stats"
	"github.com/smazurov/deskstream/internal/transport"
)

var stopTimeout = 5 * time.Second

var errStopTimeout = errors.New("pipeline did not stop in time")

// Components are the backends an Orchestrator drives. It takes ownership
// of all of them.
type Components struct {
	Capture          capture.Backend
	CaptureHardware  bool
	Encoder          encoders.Backend
	EncoderIntraOnly bool
	Transport        transport.Backend
	Injector         input.Injector
}

// Options configures an Orchestrator. Zero parameter fields take defaults.
type Options struct {
	Endpoint   string
	Parameters Parameters
	// StatsInterval enables periodic StatsReportEvent publishing.
	StatsInterval time.Duration
	Transport     transport.SessionOptions
	Bus           *events.Bus
	Logger        *slog.Logger
}

// Stats is the GetStats result.
type Stats struct {
	State      string            `json:"state" example:"streaming"`
	Streaming  bool              `json:"streaming"`
	Codec      string            `json:"codec" example:"jpeg"`
	Parameters Parameters        `json:"parameters"`
	Region     Region            `json:"region"`
	Buffer     framebuffer.Stats `json:"buffer"`
	stats.Snapshot
}

// Region is a capture rectangle in display pixels.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect converts r to an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

func regionOf(rect image.Rectangle) Region {
	return Region{X: rect.Min.X, Y: rect.Min.Y, Width: rect.Dx(), Height: rect.Dy()}
}

// Orchestrator owns one capture/encode/transport pipeline.
//
// Lifecycle calls are serialized by a busy flag under mu rather than a
// second lock; mu itself is never held while calling into a component.
type Orchestrator struct {
	logger    *slog.Logger
	bus       *events.Bus
	stats     *stats.Aggregator
	buffer    *framebuffer.Buffer
	capture   *capture.Source
	encoder   *encoders.Pipeline
	transport *transport.Session
	backend   transport.Backend
	router    *input.Router
	injector  *offsetInjector

	statsInterval time.Duration

	mu       sync.Mutex
	idle     *sync.Cond
	busy     bool
	closed   bool
	state    State
	params   Parameters
	endpoint string
	viewport input.Size
	ticker   *cadence.Ticker
	cancel   context.CancelFunc
	done     chan struct{}

	reportCancel context.CancelFunc
	reportDone   chan struct{}
}

// New wires c into an idle Orchestrator.
func New(c Components, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	params := opts.Parameters.withDefaults()

	agg := stats.New()
	buffer := framebuffer.New()
	injector := newOffsetInjector(c.Injector)

	o := &Orchestrator{
		logger:        logger,
		bus:           opts.Bus,
		stats:         agg,
		buffer:        buffer,
		capture:       capture.NewSource(c.Capture, c.CaptureHardware, buffer, agg, params.FPS, logger.With("stage", "capture")),
		encoder:       encoders.NewPipeline(c.Encoder, c.EncoderIntraOnly, agg, logger.With("stage", "encode")),
		transport:     transport.NewSession(c.Transport, agg, opts.Transport, logger.With("stage", "transport")),
		backend:       c.Transport,
		router:        input.NewRouter(injector, agg, logger.With("stage", "input")),
		injector:      injector,
		statsInterval: opts.StatsInterval,
		state:         StateIdle,
		params:        params,
		endpoint:      opts.Endpoint,
	}
	o.idle = sync.NewCond(&o.mu)
	return o
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Parameters returns the current streaming parameters.
func (o *Orchestrator) Parameters() Parameters {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.params
}

// Endpoint returns the transport endpoint used by StartStreaming.
func (o *Orchestrator) Endpoint() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.endpoint
}

// SetEndpoint changes the transport endpoint for the next StartStreaming.
func (o *Orchestrator) SetEndpoint(endpoint string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateStreaming || o.state == StateStopping {
		return fmt.Errorf("%w: cannot change endpoint while %s", ErrInvalidState, o.state)
	}
	o.endpoint = endpoint
	return nil
}

// begin marks a lifecycle operation in progress. With wait it blocks until
// the running one finishes; otherwise it fails fast.
func (o *Orchestrator) begin(wait bool) (State, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for o.busy {
		if !wait {
			return o.state, fmt.Errorf("%w: lifecycle operation in progress", ErrInvalidState)
		}
		o.idle.Wait()
	}
	if o.closed {
		return o.state, fmt.Errorf("%w: session is shut down", ErrInvalidState)
	}
	o.busy = true
	return o.state, nil
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.busy = false
	o.mu.Unlock()
	o.idle.Broadcast()
}

func (o *Orchestrator) transition(to State, cause error) {
	o.mu.Lock()
	from := o.state
	o.state = to
	o.mu.Unlock()

	if from == to {
		return
	}
	o.logger.Info("Session state changed", "from", from.String(), "to", to.String())

	ev := events.SessionStateChangedEvent{
		State:     to.String(),
		Previous:  from.String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	o.publish(ev)
}

func (o *Orchestrator) publish(ev events.Event) {
	if o.bus != nil {
		o.bus.Publish(ev)
	}
}

// Initialize brings every component up and moves Idle to Ready. Any
// failure leaves the session Failed; a new Orchestrator is needed to retry.
func (o *Orchestrator) Initialize() error {
	state, err := o.begin(false)
	if err != nil {
		return err
	}
	defer o.end()
	if state != StateIdle {
		return fmt.Errorf("%w: initialize from %s", ErrInvalidState, state)
	}

	o.transition(StateInitializing, nil)

	if err := o.capture.Initialize(); err != nil {
		return o.fail(&InitError{Stage: StageCapture, Err: err})
	}
	width, height := o.capture.Resolution()

	params := o.Parameters()
	o.encoder.SetQuality(params.Quality)
	if err := o.encoder.Initialize(width, height, params.FPS, params.Bitrate); err != nil {
		return o.fail(&InitError{Stage: StageEncoder, Err: err})
	}

	if lazy, ok := o.injector.Injector.(input.Initializer); ok {
		if err := lazy.Initialize(); err != nil {
			return o.fail(&InitError{Stage: StageInput, Err: err})
		}
	}

	screen := input.Size{Width: width, Height: height}
	o.router.SetMapping(screen, screen)

	o.transport.OnInput(o.routeInput)
	o.transport.OnState(o.connectionChanged)
	if !o.transport.OnViewport(o.viewportChanged) {
		o.logger.Debug("Transport does not report viewer size")
	}
	if !o.transport.OnKeyframeRequest(o.keyframeRequested) {
		o.logger.Debug("Transport does not forward keyframe requests")
	}

	o.startReporter()
	o.transition(StateReady, nil)
	o.logger.Info("Session initialized",
		"width", width,
		"height", height,
		"codec", o.encoder.Codec(),
		"fps", params.FPS,
		"bitrate", params.Bitrate,
		"quality", params.Quality)
	return nil
}

func (o *Orchestrator) fail(err *InitError) error {
	o.logger.Error("Session initialization failed", "stage", string(err.Stage), "error", err.Err)
	o.transition(StateFailed, err)
	return err
}

// StartStreaming starts capture, connects the transport and launches the
// pipeline goroutine. It is a no-op while already streaming. If either
// capture or transport fails the other is rolled back and the session
// stays Ready.
func (o *Orchestrator) StartStreaming(ctx context.Context) error {
	state, err := o.begin(false)
	if err != nil {
		return err
	}
	defer o.end()

	switch state {
	case StateStreaming:
		return nil
	case StateReady:
	default:
		return fmt.Errorf("%w: start streaming from %s", ErrInvalidState, state)
	}

	o.buffer.Reset()
	if err := o.capture.Start(); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	if err := o.transport.Connect(ctx, o.Endpoint()); err != nil {
		if stopErr := o.capture.Stop(); stopErr != nil {
			o.logger.Warn("Capture rollback failed", "error", stopErr)
		}
		return fmt.Errorf("connect transport: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	o.mu.Lock()
	ticker := cadence.FromRate(o.params.FPS)
	o.ticker, o.cancel, o.done = ticker, cancel, done
	o.mu.Unlock()

	go o.runPipeline(runCtx, ticker, done)

	o.transition(StateStreaming, nil)
	return nil
}

// runPipeline encodes and sends the latest frame on each tick. A frame
// already sent is not sent again.
func (o *Orchestrator) runPipeline(ctx context.Context, ticker *cadence.Ticker, done chan struct{}) {
	defer close(done)

	var (
		last         *media.Frame
		encodeErrors int
	)
	for ticker.Wait(ctx) {
		frame, ok := o.buffer.TakeLatest()
		if !ok || frame == last {
			continue
		}
		last = frame

		payload, err := o.encoder.EncodeFrame(frame)
		if err != nil {
			encodeErrors++
			if encodeErrors%100 == 1 {
				o.logger.Warn("Frame encode failed", "error", err, "consecutive", encodeErrors)
			}
			continue
		}
		encodeErrors = 0

		// send failures are counted by the transport session
		if err := o.transport.SendFrame(payload); err != nil {
			o.logger.Debug("Frame not sent", "seq", payload.Sequence, "kind", Kind(err).String(), "error", err)
		}
	}
}

// StopStreaming stops the pipeline, capture and transport and returns to
// Ready. It is a no-op when Ready.
func (o *Orchestrator) StopStreaming() error {
	state, err := o.begin(true)
	if err != nil {
		return err
	}
	defer o.end()

	switch state {
	case StateReady:
		return nil
	case StateStreaming:
	default:
		return fmt.Errorf("%w: stop streaming from %s", ErrInvalidState, state)
	}
	return o.stop()
}

// stop runs Streaming -> Stopping -> Ready. A pipeline that outlives
// stopTimeout may still be using the encoder, so the session ends Failed
// instead. The caller holds the busy flag.
func (o *Orchestrator) stop() error {
	o.transition(StateStopping, nil)

	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.ticker, o.cancel, o.done = nil, nil, nil
	o.mu.Unlock()

	var errs []error
	stuck := false
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-time.After(stopTimeout):
			stuck = true
			errs = append(errs, errStopTimeout)
		}
	}
	if err := o.capture.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop capture: %w", err))
	}
	if err := o.transport.Disconnect(); err != nil {
		errs = append(errs, fmt.Errorf("disconnect transport: %w", err))
	}

	if stuck {
		o.logger.Error("Pipeline did not stop, session needs a restart", "timeout", stopTimeout)
		o.transition(StateFailed, errStopTimeout)
		return errors.Join(errs...)
	}
	o.transition(StateReady, nil)
	return errors.Join(errs...)
}

// SetStreamingParameters validates p and applies it to the encoder (from
// its next frame), the capture rate and the pipeline cadence.
func (o *Orchestrator) SetStreamingParameters(p Parameters) error {
	if err := p.Validate(); err != nil {
		return err
	}

	o.mu.Lock()
	if o.closed || o.state == StateFailed {
		state := o.state
		o.mu.Unlock()
		return fmt.Errorf("%w: set parameters in %s", ErrInvalidState, state)
	}
	o.params = p
	ticker := o.ticker
	o.mu.Unlock()

	o.encoder.SetBitrate(p.Bitrate)
	o.encoder.SetFPS(p.FPS)
	o.encoder.SetQuality(p.Quality)
	o.capture.SetTargetFPS(p.FPS)
	if ticker != nil {
		ticker.SetRate(p.FPS)
	}

	o.logger.Info("Streaming parameters updated", "fps", p.FPS, "bitrate", p.Bitrate, "quality", p.Quality)
	o.publish(events.StreamingParametersChangedEvent{
		FPS:       p.FPS,
		Bitrate:   p.Bitrate,
		Quality:   p.Quality,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return nil
}

// SetCaptureRegion restricts capture to region and reconfigures the
// encoder and input mapping for its size. Only allowed while Ready. On
// encoder failure the previous region is restored.
func (o *Orchestrator) SetCaptureRegion(region Region) error {
	state, err := o.begin(false)
	if err != nil {
		return err
	}
	defer o.end()
	if state != StateReady {
		return fmt.Errorf("%w: set capture region in %s", ErrInvalidState, state)
	}

	rect := region.Rect()
	prev := o.capture.Region()
	if err := o.capture.SetCaptureRegion(rect); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}

	params := o.Parameters()
	if err := o.encoder.Initialize(rect.Dx(), rect.Dy(), params.FPS, params.Bitrate); err != nil {
		if restoreErr := o.capture.SetCaptureRegion(prev); restoreErr != nil {
			o.logger.Error("Failed to restore capture region", "error", restoreErr)
		}
		if restoreErr := o.encoder.Initialize(prev.Dx(), prev.Dy(), params.FPS, params.Bitrate); restoreErr != nil {
			o.logger.Error("Failed to restore encoder", "error", restoreErr)
		}
		return &InitError{Stage: StageEncoder, Err: err}
	}

	o.applyMapping(rect)
	return nil
}

// applyMapping points the router at rect, keeping the viewer size if one
// was announced.
func (o *Orchestrator) applyMapping(rect image.Rectangle) {
	target := input.Size{Width: rect.Dx(), Height: rect.Dy()}

	o.mu.Lock()
	source := o.viewport
	o.mu.Unlock()
	if !source.Valid() {
		source = target
	}

	o.router.SetMapping(source, target)
	o.injector.setOffset(rect.Min)
}

// Region returns the active capture region.
func (o *Orchestrator) Region() Region {
	return regionOf(o.capture.Region())
}

// Monitors lists the displays the capture backend can see.
func (o *Orchestrator) Monitors() []capture.Monitor {
	return o.capture.Monitors()
}

// Mapping returns the active input coordinate mapping.
func (o *Orchestrator) Mapping() input.Mapping {
	return o.router.Mapping()
}

// GetStats returns a snapshot of every stage.
func (o *Orchestrator) GetStats() Stats {
	o.mu.Lock()
	state, params := o.state, o.params
	o.mu.Unlock()

	return Stats{
		State:      state.String(),
		Streaming:  state == StateStreaming,
		Codec:      o.encoder.Codec(),
		Parameters: params,
		Region:     o.Region(),
		Buffer:     o.buffer.Stats(),
		Snapshot:   o.stats.Snapshot(),
	}
}

// TransportBackend returns the transport backend so callers can mount
// backend-specific endpoints.
func (o *Orchestrator) TransportBackend() transport.Backend {
	return o.backend
}

// Aggregator exposes the stats aggregator for metric export.
func (o *Orchestrator) Aggregator() *stats.Aggregator {
	return o.stats
}

// Shutdown stops streaming if needed and releases every component. The
// Orchestrator ends Idle and rejects further lifecycle calls. Calling
// Shutdown again is a no-op.
func (o *Orchestrator) Shutdown() error {
	o.mu.Lock()
	for o.busy {
		o.idle.Wait()
	}
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.busy = true
	state := o.state
	o.mu.Unlock()

	var errs []error
	if state == StateStreaming {
		errs = append(errs, o.stop())
	}
	o.stopReporter()

	errs = append(errs,
		o.capture.Shutdown(),
		o.encoder.Close(),
		o.transport.Disconnect(),
		o.router.Close(),
	)

	o.transition(StateIdle, nil)

	o.mu.Lock()
	o.closed = true
	o.busy = false
	o.mu.Unlock()
	o.idle.Broadcast()

	o.logger.Info("Session shut down")
	return errors.Join(errs...)
}

func (o *Orchestrator) routeInput(e input.Event) {
	if err := o.router.Route(e); err != nil {
		o.logger.Debug("Input event not injected", "kind", e.Kind.String(), "error", err)
	}
}

func (o *Orchestrator) connectionChanged(state transport.ConnectionState) {
	o.logger.Info("Transport connection state", "state", state.String())
	o.publish(events.ConnectionStateChangedEvent{
		State:     state.String(),
		Connected: state == transport.StateConnected,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if state == transport.StateConnected {
		// new viewers need a decodable starting point
		o.encoder.RequestKeyframe()
	}
}

func (o *Orchestrator) viewportChanged(size input.Size) {
	o.mu.Lock()
	o.viewport = size
	o.mu.Unlock()

	o.router.SetSource(size)
	o.logger.Debug("Viewer size changed", "width", size.Width, "height", size.Height)
}

func (o *Orchestrator) keyframeRequested() {
	delivered := o.encoder.RequestKeyframe()
	o.publish(events.KeyframeRequestedEvent{
		Delivered: delivered,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (o *Orchestrator) startReporter() {
	if o.statsInterval <= 0 || o.bus == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	o.reportCancel, o.reportDone = cancel, done

	go func() {
		defer close(done)
		ticker := cadence.New(o.statsInterval)
		ticker.Wait(ctx) // first tick is immediate
		for ticker.Wait(ctx) {
			s := o.GetStats()
			o.publish(events.StatsReportEvent{
				State:     s.State,
				Stats:     s.Snapshot,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
		}
	}()
}

func (o *Orchestrator) stopReporter() {
	if o.reportCancel == nil {
		return
	}
	o.reportCancel()
	<-o.reportDone
	o.reportCancel, o.reportDone = nil, nil
}
