package api

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/deskstream/internal/session"
)

// sessionError maps session errors onto HTTP status codes.
func sessionError(msg string, err error) error {
	var initErr *session.InitError
	switch {
	case errors.As(err, &initErr):
		return huma.Error500InternalServerError(msg+": "+string(initErr.Stage)+" initialization failed", err)
	case errors.Is(err, session.ErrInvalidParameters):
		return huma.Error422UnprocessableEntity(msg, err)
	case errors.Is(err, session.ErrInvalidState):
		return huma.Error409Conflict(msg, err)
	case session.Kind(err) == session.KindTransient:
		return huma.Error503ServiceUnavailable(msg, err)
	default:
		return huma.Error500InternalServerError(msg, err)
	}
}
