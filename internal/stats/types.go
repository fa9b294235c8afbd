package stats

import "time"

// Snapshot is a point-in-time view of all pipeline counters.
type Snapshot struct {
	Capture   CaptureStats   `json:"capture"`
	Encode    EncodeStats    `json:"encode"`
	Transport TransportStats `json:"transport"`
	Input     InputStats     `json:"input"`
	Uptime    time.Duration  `json:"uptime_ns"`
}

// CaptureStats describes the capture stage.
type CaptureStats struct {
	Frames        uint64    `json:"frames" doc:"Frames captured"`
	Bytes         uint64    `json:"bytes" doc:"Raw bytes captured"`
	Errors        uint64    `json:"errors" doc:"Failed capture attempts"`
	Width         int       `json:"width" doc:"Width of the last captured frame"`
	Height        int       `json:"height" doc:"Height of the last captured frame"`
	FPS           float64   `json:"fps"`
	LastFrameTime time.Time `json:"last_frame_time"`
}

// EncodeStats describes the encode stage.
type EncodeStats struct {
	Frames        uint64    `json:"frames" doc:"Frames encoded"`
	Bytes         uint64    `json:"bytes" doc:"Encoded bytes produced"`
	Errors        uint64    `json:"errors" doc:"Frames rejected by the encoder"`
	Bitrate       int       `json:"bitrate" doc:"Configured target bitrate in bits per second"`
	FPS           float64   `json:"fps"`
	BitsPerSecond float64   `json:"bits_per_second" doc:"Measured output bitrate"`
	LastFrameTime time.Time `json:"last_frame_time"`
}

// TransportStats describes the send stage.
type TransportStats struct {
	Frames        uint64    `json:"frames" doc:"Payloads sent"`
	Bytes         uint64    `json:"bytes" doc:"Payload bytes sent"`
	Dropped       uint64    `json:"dropped" doc:"Payloads dropped while disconnected"`
	Errors        uint64    `json:"errors" doc:"Failed sends"`
	Connected     bool      `json:"connected"`
	FPS           float64   `json:"fps"`
	BitsPerSecond float64   `json:"bits_per_second"`
	LastFrameTime time.Time `json:"last_frame_time"`
}

// InputStats describes the inbound input path.
type InputStats struct {
	Events         uint64    `json:"events" doc:"Events injected"`
	PointerEvents  uint64    `json:"pointer_events"`
	KeyboardEvents uint64    `json:"keyboard_events"`
	Dropped        uint64    `json:"dropped" doc:"Unsupported or undeliverable events"`
	Errors         uint64    `json:"errors" doc:"Injection failures"`
	LastEventTime  time.Time `json:"last_event_time"`
}
