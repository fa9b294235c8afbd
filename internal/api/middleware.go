package api

import (
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/deskstream/internal/logging"
)

// quietOperations are polled often and logged at debug on success.
var quietOperations = map[string]bool{
	"health-check": true,
	"get-stats":    true,
	"get-logs":     true,
	"webrtc-peers": true,
}

// HTTPLoggingMiddleware logs HTTP requests with a level derived from the
// status code.
func HTTPLoggingMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	logger := logging.GetLogger("http")

	attrs := []slog.Attr{
		slog.String("method", ctx.Method()),
		slog.String("path", ctx.URL().Path),
		slog.String("remote_addr", ctx.RemoteAddr()),
	}
	if query := ctx.URL().RawQuery; query != "" {
		attrs = append(attrs, slog.String("query", query))
	}
	if ua := ctx.Header("User-Agent"); ua != "" {
		attrs = append(attrs, slog.String("user_agent", ua))
	}
	var opID string
	if op := ctx.Operation(); op != nil {
		opID = op.OperationID
		attrs = append(attrs, slog.String("operation", opID))
	}

	next(ctx)

	status := ctx.Status()
	attrs = append(attrs,
		slog.Int("status", status),
		slog.Duration("duration", time.Since(start)),
	)

	level := slog.LevelInfo
	switch {
	case status >= 500:
		level = slog.LevelError
	case status >= 400:
		level = slog.LevelWarn
	case ctx.Method() == "OPTIONS", quietOperations[opID]:
		level = slog.LevelDebug
	}
	logger.LogAttrs(ctx.Context(), level, "HTTP request completed", attrs...)
}
