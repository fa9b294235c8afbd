package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/deskstream/internal/events"
)

// registerSSERoutes registers the session event stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time session, connection, parameter and stats events",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"session-state":      events.SessionStateChangedEvent{},
		"connection-state":   events.ConnectionStateChangedEvent{},
		"parameters-changed": events.StreamingParametersChangedEvent{},
		"stats":              events.StatsReportEvent{},
		"keyframe-requested": events.KeyframeRequestedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.SessionStateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ConnectionStateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.StreamingParametersChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.StatsReportEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.KeyframeRequestedEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// Current state first so a fresh client does not wait for a transition.
		state := s.session.State().String()
		if err := send.Data(events.SessionStateChangedEvent{
			State:     state,
			Previous:  state,
			Timestamp: time.Now().Format(time.RFC3339),
		}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
