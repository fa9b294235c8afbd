package encoders

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/smazurov/deskstream/internal/media"
)

// Recorder receives encode outcomes. *stats.Aggregator satisfies it.
type Recorder interface {
	EncodeFrame(p media.Payload)
	EncodeError()
	SetBitrate(bps int)
}

type pending struct {
	bitrate, fps, quality *int
}

// Pipeline wraps a Backend with sequencing, error classification and
// deferred settings. Settings changed while a frame is encoding apply to
// the next frame.
type Pipeline struct {
	backend   Backend
	intraOnly bool
	recorder  Recorder
	logger    *slog.Logger

	mu          sync.Mutex // serializes backend access
	cfg         Config
	initialized bool
	seq         uint64

	pendingMu sync.Mutex
	pending   pending
	quality   int // requested before Initialize
}

// NewPipeline wraps backend. intraOnly marks codecs whose every payload is a
// keyframe.
func NewPipeline(backend Backend, intraOnly bool, recorder Recorder, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		backend:   backend,
		intraOnly: intraOnly,
		recorder:  recorder,
		logger:    logger,
		quality:   DefaultQuality,
	}
}

// Initialize configures the backend for frames of the given size. It is
// also the way to change resolution.
func (p *Pipeline) Initialize(width, height, fps, bitrate int) error {
	p.pendingMu.Lock()
	quality := p.quality
	if p.pending.quality != nil {
		quality = *p.pending.quality
	}
	p.pending = pending{}
	p.pendingMu.Unlock()

	cfg := Config{
		Width:   width,
		Height:  height,
		FPS:     fps,
		Bitrate: bitrate,
		Quality: ClampQuality(quality),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.backend.Initialize(cfg); err != nil {
		p.initialized = false
		return fmt.Errorf("%w: %s: %w", ErrInit, p.backend.Codec(), err)
	}
	p.cfg = cfg
	p.initialized = true
	p.recorder.SetBitrate(bitrate)
	p.logger.Info("Encoder initialized",
		"codec", p.backend.Codec(),
		"width", width,
		"height", height,
		"fps", fps,
		"bitrate", bitrate,
		"quality", cfg.Quality)
	return nil
}

// EncodeFrame applies pending settings, then encodes frame.
func (p *Pipeline) EncodeFrame(frame *media.Frame) (media.Payload, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		p.recorder.EncodeError()
		return media.Payload{}, fmt.Errorf("%w: %w", ErrEncode, ErrNotInitialized)
	}
	if err := frame.Validate(); err != nil {
		p.recorder.EncodeError()
		return media.Payload{}, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	if frame.Width != p.cfg.Width || frame.Height != p.cfg.Height {
		p.recorder.EncodeError()
		return media.Payload{}, fmt.Errorf("%w: %w: got %dx%d, want %dx%d",
			ErrEncode, ErrFormatMismatch, frame.Width, frame.Height, p.cfg.Width, p.cfg.Height)
	}

	p.applyPending()

	data, err := p.backend.Encode(frame)
	if err != nil {
		p.recorder.EncodeError()
		return media.Payload{}, fmt.Errorf("%w: %w", ErrEncode, err)
	}

	p.seq++
	codec := p.backend.Codec()
	payload := media.Payload{
		Data:      data,
		Timestamp: frame.Timestamp,
		Sequence:  p.seq,
		Codec:     codec,
		Keyframe:  p.intraOnly || (codec == media.CodecH264 && media.IsH264Keyframe(data)),
	}
	p.recorder.EncodeFrame(payload)
	return payload, nil
}

// applyPending must be called with p.mu held.
func (p *Pipeline) applyPending() {
	p.pendingMu.Lock()
	next := p.pending
	p.pending = pending{}
	p.pendingMu.Unlock()

	if next.bitrate != nil {
		p.cfg.Bitrate = *next.bitrate
		p.backend.SetBitrate(p.cfg.Bitrate)
		p.recorder.SetBitrate(p.cfg.Bitrate)
	}
	if next.fps != nil {
		p.cfg.FPS = *next.fps
		p.backend.SetFPS(p.cfg.FPS)
	}
	if next.quality != nil {
		p.cfg.Quality = *next.quality
		p.backend.SetQuality(p.cfg.Quality)
	}
}

// SetBitrate schedules a bitrate change for the next frame.
func (p *Pipeline) SetBitrate(bps int) {
	p.pendingMu.Lock()
	p.pending.bitrate = &bps
	p.pendingMu.Unlock()
}

// SetFPS schedules a frame rate change for the next frame.
func (p *Pipeline) SetFPS(fps int) {
	p.pendingMu.Lock()
	p.pending.fps = &fps
	p.pendingMu.Unlock()
}

// SetQuality schedules a quality change for the next frame. Values outside
// 0..100 are clamped.
func (p *Pipeline) SetQuality(quality int) {
	quality = ClampQuality(quality)
	p.pendingMu.Lock()
	p.pending.quality = &quality
	p.quality = quality
	p.pendingMu.Unlock()
}

// Settings returns the configuration the backend is currently running with.
func (p *Pipeline) Settings() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Codec returns the backend codec name.
func (p *Pipeline) Codec() string {
	return p.backend.Codec()
}

// RequestKeyframe forwards to backends that support it. It reports whether
// the request was delivered.
func (p *Pipeline) RequestKeyframe() bool {
	if p.intraOnly {
		return true
	}
	kr, ok := p.backend.(KeyframeRequester)
	if !ok {
		return false
	}
	p.mu.Lock()
	kr.RequestKeyframe()
	p.mu.Unlock()
	return true
}

// Close releases the backend.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initialized = false
	return p.backend.Close()
}
