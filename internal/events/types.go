package events

import "github.com/smazurov/deskstream/internal/stats"

// Event type constants for kelindar/event.
const (
	TypeSessionStateChanged uint32 = iota + 1
	TypeConnectionStateChanged
	TypeStreamingParametersChanged
	TypeStatsReport
	TypeKeyframeRequested
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// SessionStateChangedEvent is published on every orchestrator transition.
type SessionStateChangedEvent struct {
	State     string `json:"state" example:"streaming" doc:"New session state"`
	Previous  string `json:"previous" example:"ready" doc:"State before the transition"`
	Error     string `json:"error,omitempty" doc:"Failure cause when entering the failed state"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionStateChangedEvent.
func (e SessionStateChangedEvent) Type() uint32 { return TypeSessionStateChanged }

// ConnectionStateChangedEvent reports viewer transport state.
type ConnectionStateChangedEvent struct {
	State     string `json:"state" example:"connected" doc:"Transport connection state"`
	Connected bool   `json:"connected" doc:"Whether media can be sent"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ConnectionStateChangedEvent.
func (e ConnectionStateChangedEvent) Type() uint32 { return TypeConnectionStateChanged }

// StreamingParametersChangedEvent is published after SetStreamingParameters.
type StreamingParametersChangedEvent struct {
	FPS       int    `json:"fps" example:"30" doc:"Target frame rate"`
	Bitrate   int    `json:"bitrate" example:"5000000" doc:"Target bitrate in bits per second"`
	Quality   int    `json:"quality" example:"80" doc:"Encoder quality 0-100"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamingParametersChangedEvent.
func (e StreamingParametersChangedEvent) Type() uint32 { return TypeStreamingParametersChanged }

// StatsReportEvent carries a periodic stats snapshot.
type StatsReportEvent struct {
	State     string         `json:"state" example:"streaming" doc:"Session state at snapshot time"`
	Stats     stats.Snapshot `json:"stats" doc:"Pipeline counters"`
	Timestamp string         `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for StatsReportEvent.
func (e StatsReportEvent) Type() uint32 { return TypeStatsReport }

// KeyframeRequestedEvent is published when the viewer asks for a keyframe.
type KeyframeRequestedEvent struct {
	Delivered bool   `json:"delivered" doc:"Whether the encoder accepted the request"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for KeyframeRequestedEvent.
func (e KeyframeRequestedEvent) Type() uint32 { return TypeKeyframeRequested }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"api" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
