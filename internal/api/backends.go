package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/deskstream/internal/api/models"
	"github.com/smazurov/deskstream/internal/capture"
	"github.com/smazurov/deskstream/internal/encoders"
	"github.com/smazurov/deskstream/internal/input"
	"github.com/smazurov/deskstream/internal/transport"
)

func (s *Server) registerBackendRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-backends",
		Method:      http.MethodGet,
		Path:        "/api/backends",
		Summary:     "Backends",
		Description: "Registered backends per stage, the platform defaults and the ones in use",
		Tags:        []string{"system"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, _ *struct{}) (*models.BackendsResponse, error) {
		active := s.options.Backends
		return &models.BackendsResponse{
			Body: models.BackendsData{
				Capture:   models.BackendGroup{Registered: capture.Names(), Default: capture.Default(), Active: active.Capture},
				Encoder:   models.BackendGroup{Registered: encoders.Names(), Default: encoders.Default(), Active: active.Encoder},
				Transport: models.BackendGroup{Registered: transport.Names(), Default: transport.Default(), Active: active.Transport},
				Input:     models.BackendGroup{Registered: input.Names(), Default: input.Default(), Active: active.Input},
				Codecs:    encoders.SupportedCodecs(),
			},
		}, nil
	})
}
