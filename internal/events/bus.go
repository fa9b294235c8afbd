package events

import (
	"sync/atomic"

	"github.com/kelindar/event"
)

// Bus carries session, connection, stats and log events between the
// orchestrator and its observers (SSE streams, the stats logger, sd_notify).
type Bus struct {
	dispatcher *event.Dispatcher
	dropped    atomic.Uint64
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish delivers ev to every subscriber of its concrete type. Events of
// an unknown type are ignored.
func (b *Bus) Publish(ev Event) {
	// kelindar/event dispatches on the static type
	switch e := ev.(type) {
	case SessionStateChangedEvent:
		Emit(b, e)
	case ConnectionStateChangedEvent:
		Emit(b, e)
	case StreamingParametersChangedEvent:
		Emit(b, e)
	case StatsReportEvent:
		Emit(b, e)
	case KeyframeRequestedEvent:
		Emit(b, e)
	case LogEntryEvent:
		Emit(b, e)
	}
}

// Emit publishes ev with its static type.
func Emit[T Event](b *Bus, ev T) {
	event.Publish(b.dispatcher, ev)
}

// On registers fn for events of type T and returns the unsubscribe func.
func On[T Event](b *Bus, fn func(T)) func() {
	return event.Subscribe(b.dispatcher, fn)
}

// Subscribe registers a handler whose parameter type selects the events it
// receives, e.g. bus.Subscribe(func(e SessionStateChangedEvent) {...}).
// Unsupported handler types get a no-op unsubscribe.
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(SessionStateChangedEvent):
		return On(b, h)
	case func(ConnectionStateChangedEvent):
		return On(b, h)
	case func(StreamingParametersChangedEvent):
		return On(b, h)
	case func(StatsReportEvent):
		return On(b, h)
	case func(KeyframeRequestedEvent):
		return On(b, h)
	case func(LogEntryEvent):
		return On(b, h)
	default:
		return func() {}
	}
}

// SubscribeToChannel forwards events of type T into ch for select-loop
// consumers such as huma SSE handlers. A full channel drops the event and
// bumps Dropped.
func SubscribeToChannel[T Event](b *Bus, ch chan<- any) func() {
	return On(b, func(e T) {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	})
}

// Dropped reports events discarded by slow channel subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
