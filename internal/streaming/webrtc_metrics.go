package streaming

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Outbound media, labelled by path ("track" or "datachannel").
	webrtcPacketsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deskstream",
		Subsystem: "webrtc",
		Name:      "packets_sent_total",
		Help:      "RTP packets sent to the viewer",
	}, []string{"path"})

	webrtcBytesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deskstream",
		Subsystem: "webrtc",
		Name:      "bytes_sent_total",
		Help:      "Bytes sent to the viewer",
	}, []string{"path"})

	webrtcFramesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "deskstream",
		Subsystem: "webrtc",
		Name:      "frames_skipped_total",
		Help:      "Frames skipped because the frames data channel was backed up",
	})

	// RTCP counters.
	webrtcRTCPPackets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "deskstream",
		Subsystem: "webrtc",
		Name:      "rtcp_packets_total",
		Help:      "Total RTCP packets received from the viewer",
	})

	webrtcNACKsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "deskstream",
		Subsystem: "webrtc",
		Name:      "nacks_received_total",
		Help:      "Total NACK requests received (indicates packet loss)",
	})

	webrtcPLIsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "deskstream",
		Subsystem: "webrtc",
		Name:      "plis_received_total",
		Help:      "Total PLI (Picture Loss Indication) requests received",
	})

	webrtcFIRsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "deskstream",
		Subsystem: "webrtc",
		Name:      "firs_received_total",
		Help:      "Total FIR (Full Intra Request) requests received",
	})

	// Inbound input messages, labelled by encoding ("json" or "cbor").
	webrtcInputMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deskstream",
		Subsystem: "webrtc",
		Name:      "input_messages_total",
		Help:      "Input data channel messages received",
	}, []string{"encoding"})

	webrtcInputMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "deskstream",
		Subsystem: "webrtc",
		Name:      "input_malformed_total",
		Help:      "Input messages that failed to decode",
	})

	webrtcSignalingMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deskstream",
		Subsystem: "webrtc",
		Name:      "signaling_messages_total",
		Help:      "Signaling messages received, by type",
	}, []string{"type"})

	// Connection gauges.
	webrtcActivePeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "deskstream",
		Subsystem: "webrtc",
		Name:      "active_peers",
		Help:      "Number of currently active WebRTC peer connections",
	})
)

// IncrementRTCPPackets records one RTCP packet received.
func IncrementRTCPPackets() {
	webrtcRTCPPackets.Inc()
}

// IncrementNACKs records NACK requests received.
func IncrementNACKs(count int) {
	webrtcNACKsReceived.Add(float64(count))
}

// IncrementPLIs records a PLI request received.
func IncrementPLIs() {
	webrtcPLIsReceived.Inc()
}

// IncrementFIRs records a FIR request received.
func IncrementFIRs() {
	webrtcFIRsReceived.Inc()
}

// IncrementPacketsSent records one packet of size bytes sent on path.
func IncrementPacketsSent(path string, bytes int) {
	webrtcPacketsSent.WithLabelValues(path).Inc()
	webrtcBytesSent.WithLabelValues(path).Add(float64(bytes))
}

// IncrementFramesSkipped records a frame dropped under backpressure.
func IncrementFramesSkipped() {
	webrtcFramesSkipped.Inc()
}

// IncrementInputMessages records an input message in the given encoding.
func IncrementInputMessages(encoding string) {
	webrtcInputMessages.WithLabelValues(encoding).Inc()
}

// IncrementInputMalformed records an undecodable input message.
func IncrementInputMalformed() {
	webrtcInputMalformed.Inc()
}

// IncrementSignalingMessages records a signaling message of msgType.
func IncrementSignalingMessages(msgType string) {
	webrtcSignalingMessages.WithLabelValues(msgType).Inc()
}

// SetActivePeers sets the current number of active peers.
func SetActivePeers(count int) {
	webrtcActivePeers.Set(float64(count))
}
