package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/deskstream/internal/api/models"
)

func (s *Server) sessionData() models.SessionData {
	return models.SessionData{
		State:      s.session.State().String(),
		Endpoint:   s.session.Endpoint(),
		Parameters: s.session.Parameters(),
		Region:     s.session.Region(),
	}
}

func (s *Server) registerSessionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/api/session",
		Summary:     "Session",
		Description: "Current lifecycle state and streaming parameters",
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, _ *struct{}) (*models.SessionResponse, error) {
		return &models.SessionResponse{Body: s.sessionData()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "start-session",
		Method:      http.MethodPost,
		Path:        "/api/session/start",
		Summary:     "Start streaming",
		Description: "Start capture and connect the transport. A no-op while already streaming.",
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{401, 409, 500, 503},
	}, func(ctx context.Context, input *models.StartRequest) (*models.SessionResponse, error) {
		if input.Body != nil && input.Body.Endpoint != "" {
			if err := s.session.SetEndpoint(input.Body.Endpoint); err != nil {
				return nil, sessionError("Failed to set endpoint", err)
			}
		}
		if err := s.session.StartStreaming(ctx); err != nil {
			return nil, sessionError("Failed to start streaming", err)
		}
		return &models.SessionResponse{Body: s.sessionData()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-session",
		Method:      http.MethodPost,
		Path:        "/api/session/stop",
		Summary:     "Stop streaming",
		Description: "Stop the pipeline and disconnect. A no-op when Ready; other non-streaming states return 409.",
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{401, 409, 500},
	}, func(ctx context.Context, _ *struct{}) (*models.SessionResponse, error) {
		if err := s.session.StopStreaming(); err != nil {
			return nil, sessionError("Failed to stop streaming", err)
		}
		return &models.SessionResponse{Body: s.sessionData()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-parameters",
		Method:      http.MethodPut,
		Path:        "/api/session/parameters",
		Summary:     "Set streaming parameters",
		Description: "Change fps, bitrate and quality. Applies to the running stream.",
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{401, 409, 422},
	}, func(ctx context.Context, input *models.ParametersRequest) (*models.SessionResponse, error) {
		if err := s.session.SetStreamingParameters(input.Body); err != nil {
			return nil, sessionError("Failed to set streaming parameters", err)
		}
		return &models.SessionResponse{Body: s.sessionData()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-region",
		Method:      http.MethodPut,
		Path:        "/api/session/region",
		Summary:     "Set capture region",
		Description: "Capture a sub-rectangle of the display. Only allowed while not streaming.",
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{401, 409, 422, 500},
	}, func(ctx context.Context, input *models.RegionRequest) (*models.SessionResponse, error) {
		if err := s.session.SetCaptureRegion(input.Body); err != nil {
			return nil, sessionError("Failed to set capture region", err)
		}
		return &models.SessionResponse{Body: s.sessionData()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-stats",
		Method:      http.MethodGet,
		Path:        "/api/stats",
		Summary:     "Stats",
		Description: "Aggregated capture, encode, transport and input statistics",
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, _ *struct{}) (*models.StatsResponse, error) {
		return &models.StatsResponse{Body: s.session.GetStats()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-monitors",
		Method:      http.MethodGet,
		Path:        "/api/monitors",
		Summary:     "Monitors",
		Description: "Displays the capture backend can see",
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, _ *struct{}) (*models.MonitorsResponse, error) {
		monitors := s.session.Monitors()
		return &models.MonitorsResponse{
			Body: models.MonitorsData{Monitors: monitors, Count: len(monitors)},
		}, nil
	})
}
