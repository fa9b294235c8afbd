package streaming

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// WebRTCOfferInput is the request body for WebRTC signaling.
type WebRTCOfferInput struct {
	RawBody []byte `contentType:"application/sdp" doc:"SDP offer from browser"`
}

// WebRTCAnswerOutput is the response body for WebRTC signaling.
type WebRTCAnswerOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// PeerStatusOutput reports whether a viewer is attached.
type PeerStatusOutput struct {
	Body struct {
		Peers int    `json:"peers" doc:"Number of attached viewers"`
		Codec string `json:"codec" doc:"Codec sent to viewers"`
	}
}

// RegisterWebRTCAPI registers the local WebRTC signaling endpoints. They let
// a viewer on the same network connect without a signaling server.
func RegisterWebRTCAPI(api huma.API, backend *Backend) {
	// POST /api/webrtc - SDP offer in, SDP answer out
	huma.Register(api, huma.Operation{
		OperationID: "webrtc-offer",
		Method:      http.MethodPost,
		Path:        "/api/webrtc",
		Summary:     "WebRTC signaling",
		Description: "Exchange SDP offer/answer for the desktop stream",
		Tags:        []string{"streaming"},
		Security:    []map[string][]string{{"basicAuth": {}}},
	}, func(ctx context.Context, input *WebRTCOfferInput) (*WebRTCAnswerOutput, error) {
		if len(input.RawBody) == 0 {
			return nil, huma.Error400BadRequest("empty SDP offer")
		}
		answer, err := backend.HandleOffer(ctx, string(input.RawBody))
		if errors.Is(err, ErrNotStarted) {
			return nil, huma.Error409Conflict("streaming is not started", err)
		}
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("failed to negotiate connection", err)
		}
		return &WebRTCAnswerOutput{
			ContentType: "application/sdp",
			Body:        []byte(answer),
		}, nil
	})

	// GET /api/webrtc/peers - viewer status
	huma.Register(api, huma.Operation{
		OperationID: "webrtc-peers",
		Method:      http.MethodGet,
		Path:        "/api/webrtc/peers",
		Summary:     "Viewer status",
		Description: "Returns the number of attached WebRTC viewers",
		Tags:        []string{"streaming"},
		Security:    []map[string][]string{{"basicAuth": {}}},
	}, func(ctx context.Context, input *struct{}) (*PeerStatusOutput, error) {
		resp := &PeerStatusOutput{}
		resp.Body.Peers = backend.PeerCount()
		resp.Body.Codec = backend.opts.Codec
		return resp, nil
	})
}
