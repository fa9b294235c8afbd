package streaming

import (
	"encoding/json"
	"errors"
	"fmt"

	pion "github.com/pion/webrtc/v4"
)

// Signaling message types.
const (
	msgRegister       = "register"
	msgOffer          = "webrtc-offer"
	msgAnswer         = "webrtc-answer"
	msgICECandidate   = "ice-candidate"
	msgInputEvent     = "input-event"
	msgStartStreaming = "start-streaming"
	msgStopStreaming  = "stop-streaming"
	msgFrameStats     = "frame-stats"
	msgError          = "error"
)

var errBadSignal = errors.New("malformed signaling message")

// envelope is the union of every inbound signaling message.
type envelope struct {
	Type      string          `json:"type"`
	From      string          `json:"from,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
	Message   string          `json:"message,omitempty"`
}

type capabilities struct {
	Video bool `json:"video"`
	Audio bool `json:"audio"`
	Input bool `json:"input"`
}

type registerMessage struct {
	Type         string       `json:"type"`
	Role         string       `json:"role"`
	DeviceID     string       `json:"deviceId"`
	Capabilities capabilities `json:"capabilities"`
}

type answerMessage struct {
	Type   string                  `json:"type"`
	Answer pion.SessionDescription `json:"answer"`
	Target string                  `json:"target,omitempty"`
}

type frameStatsMessage struct {
	Type       string  `json:"type"`
	FrameCount uint64  `json:"frameCount"`
	FPS        float64 `json:"fps"`
	BytesSent  uint64  `json:"bytesSent"`
	Timestamp  int64   `json:"timestamp"` // unix milliseconds
}

// offerSDP accepts either a bare SDP string or a session description object.
func offerSDP(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("%w: offer missing", errBadSignal)
	}
	var sdp string
	if err := json.Unmarshal(raw, &sdp); err == nil {
		return sdp, nil
	}
	var desc pion.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return "", fmt.Errorf("%w: offer: %w", errBadSignal, err)
	}
	if desc.SDP == "" {
		return "", fmt.Errorf("%w: offer has no sdp", errBadSignal)
	}
	return desc.SDP, nil
}

// candidateInit accepts either a bare candidate string or an
// RTCIceCandidateInit object.
func candidateInit(raw json.RawMessage) (pion.ICECandidateInit, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return pion.ICECandidateInit{Candidate: s}, nil
	}
	var init pion.ICECandidateInit
	if err := json.Unmarshal(raw, &init); err != nil {
		return pion.ICECandidateInit{}, fmt.Errorf("%w: candidate: %w", errBadSignal, err)
	}
	return init, nil
}
