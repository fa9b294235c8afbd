// Package stats keeps lock-free per-stage counters for the streaming
// pipeline and derives rates only when a snapshot is taken.
package stats

import (
	"sync/atomic"
	"time"

	"github.com/smazurov/deskstream/internal/media"
)

type captureCounters struct {
	frames    atomic.Uint64
	bytes     atomic.Uint64
	errors    atomic.Uint64
	width     atomic.Int64
	height    atomic.Int64
	lastFrame atomic.Int64
}

type encodeCounters struct {
	frames    atomic.Uint64
	bytes     atomic.Uint64
	errors    atomic.Uint64
	bitrate   atomic.Int64
	lastFrame atomic.Int64
}

type transportCounters struct {
	frames    atomic.Uint64
	bytes     atomic.Uint64
	dropped   atomic.Uint64
	errors    atomic.Uint64
	connected atomic.Bool
	lastFrame atomic.Int64
}

type inputCounters struct {
	events    atomic.Uint64
	pointer   atomic.Uint64
	keyboard  atomic.Uint64
	dropped   atomic.Uint64
	errors    atomic.Uint64
	lastEvent atomic.Int64
}

// Aggregator collects counters written concurrently by the capture,
// pipeline and transport goroutines. All writers use atomic increments;
// snapshots are eventually consistent, not transactional.
type Aggregator struct {
	started   time.Time
	capture   captureCounters
	encode    encodeCounters
	transport transportCounters
	input     inputCounters
	now       func() time.Time
}

// New creates an aggregator whose rates are measured from now.
func New() *Aggregator {
	return &Aggregator{started: time.Now(), now: time.Now}
}

// CaptureFrame records one captured frame.
func (a *Aggregator) CaptureFrame(f *media.Frame) {
	a.capture.frames.Add(1)
	a.capture.bytes.Add(uint64(f.Size()))
	a.capture.width.Store(int64(f.Width))
	a.capture.height.Store(int64(f.Height))
	a.capture.lastFrame.Store(f.Timestamp)
}

func (a *Aggregator) CaptureError() { a.capture.errors.Add(1) }

// EncodeFrame records one encoded payload.
func (a *Aggregator) EncodeFrame(p media.Payload) {
	a.encode.frames.Add(1)
	a.encode.bytes.Add(uint64(len(p.Data)))
	a.encode.lastFrame.Store(p.Timestamp)
}

func (a *Aggregator) EncodeError() { a.encode.errors.Add(1) }

// SetBitrate records the configured encoder bitrate.
func (a *Aggregator) SetBitrate(bps int) { a.encode.bitrate.Store(int64(bps)) }

// TransportFrame records one payload handed to the transport.
func (a *Aggregator) TransportFrame(p media.Payload) {
	a.transport.frames.Add(1)
	a.transport.bytes.Add(uint64(len(p.Data)))
	a.transport.lastFrame.Store(p.Timestamp)
}

// TransportDrop records a payload discarded because no peer was connected.
func (a *Aggregator) TransportDrop() { a.transport.dropped.Add(1) }

func (a *Aggregator) TransportError() { a.transport.errors.Add(1) }

func (a *Aggregator) SetConnected(connected bool) { a.transport.connected.Store(connected) }

// InputPointer records a routed pointer event.
func (a *Aggregator) InputPointer() {
	a.input.events.Add(1)
	a.input.pointer.Add(1)
	a.input.lastEvent.Store(media.Now())
}

// InputKeyboard records a routed key or text event.
func (a *Aggregator) InputKeyboard() {
	a.input.events.Add(1)
	a.input.keyboard.Add(1)
	a.input.lastEvent.Store(media.Now())
}

// InputDropped records an event that was discarded without injection.
func (a *Aggregator) InputDropped() { a.input.dropped.Add(1) }

func (a *Aggregator) InputError() { a.input.errors.Add(1) }

// Snapshot reads every counter and derives rates over the time elapsed
// since the aggregator was created.
func (a *Aggregator) Snapshot() Snapshot {
	elapsed := a.now().Sub(a.started)
	secs := elapsed.Seconds()

	s := Snapshot{Uptime: elapsed}

	s.Capture = CaptureStats{
		Frames:        a.capture.frames.Load(),
		Bytes:         a.capture.bytes.Load(),
		Errors:        a.capture.errors.Load(),
		Width:         int(a.capture.width.Load()),
		Height:        int(a.capture.height.Load()),
		LastFrameTime: timeOrZero(a.capture.lastFrame.Load()),
	}
	s.Capture.FPS = rate(s.Capture.Frames, secs)

	s.Encode = EncodeStats{
		Frames:        a.encode.frames.Load(),
		Bytes:         a.encode.bytes.Load(),
		Errors:        a.encode.errors.Load(),
		Bitrate:       int(a.encode.bitrate.Load()),
		LastFrameTime: timeOrZero(a.encode.lastFrame.Load()),
	}
	s.Encode.FPS = rate(s.Encode.Frames, secs)
	s.Encode.BitsPerSecond = rate(s.Encode.Bytes*8, secs)

	s.Transport = TransportStats{
		Frames:        a.transport.frames.Load(),
		Bytes:         a.transport.bytes.Load(),
		Dropped:       a.transport.dropped.Load(),
		Errors:        a.transport.errors.Load(),
		Connected:     a.transport.connected.Load(),
		LastFrameTime: timeOrZero(a.transport.lastFrame.Load()),
	}
	s.Transport.FPS = rate(s.Transport.Frames, secs)
	s.Transport.BitsPerSecond = rate(s.Transport.Bytes*8, secs)

	s.Input = InputStats{
		Events:         a.input.events.Load(),
		PointerEvents:  a.input.pointer.Load(),
		KeyboardEvents: a.input.keyboard.Load(),
		Dropped:        a.input.dropped.Load(),
		Errors:         a.input.errors.Load(),
		LastEventTime:  timeOrZero(a.input.lastEvent.Load()),
	}

	return s
}

func rate(count uint64, secs float64) float64 {
	if secs <= 0 {
		return 0
	}
	return float64(count) / secs
}

func timeOrZero(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return media.TimeOf(ts)
}
