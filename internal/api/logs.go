package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/deskstream/internal/api/models"
	"github.com/smazurov/deskstream/internal/events"
	"github.com/smazurov/deskstream/internal/logging"
)

var levelRank = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

func logEvent(entry logging.LogEntry) events.LogEntryEvent {
	return events.LogEntryEvent{
		Seq:        entry.Seq,
		Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
		Level:      entry.Level,
		Module:     entry.Module,
		Message:    entry.Message,
		Attributes: entry.Attributes,
	}
}

// PublishLogs forwards every new log entry to bus as a LogEntryEvent.
func PublishLogs(bus *events.Bus) {
	logging.SetLogCallback(func(entry logging.LogEntry) {
		bus.Publish(logEvent(entry))
	})
}

func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Recent logs",
		Description: "Entries from the in-memory log buffer, oldest first",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *models.LogsRequest) (*models.LogsResponse, error) {
		entries := logging.GetBuffer().ReadSince(input.Since)

		if minRank, ok := levelRank[input.Level]; ok {
			filtered := entries[:0]
			for _, e := range entries {
				if levelRank[e.Level] >= minRank {
					filtered = append(filtered, e)
				}
			}
			entries = filtered
		}
		if input.Limit > 0 && len(entries) > input.Limit {
			entries = entries[len(entries)-input.Limit:]
		}
		if entries == nil {
			entries = []logging.LogEntry{}
		}

		return &models.LogsResponse{
			Body: models.LogsData{Entries: entries, Count: len(entries)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-log-levels",
		Method:      http.MethodGet,
		Path:        "/api/logs/levels",
		Summary:     "Log levels",
		Description: "Effective log level per module",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, _ *struct{}) (*models.LogLevelsResponse, error) {
		resp := &models.LogLevelsResponse{}
		resp.Body.Levels = logging.Levels()
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-log-level",
		Method:      http.MethodPut,
		Path:        "/api/logs/levels",
		Summary:     "Set log level",
		Description: "Change the level of one module, or the global level",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401, 422},
	}, func(ctx context.Context, input *models.LogLevelRequest) (*models.LogLevelsResponse, error) {
		if err := logging.SetLevel(input.Body.Module, input.Body.Level); err != nil {
			return nil, huma.Error422UnprocessableEntity("Invalid log level", err)
		}
		s.logger.Info("Log level changed", "target", input.Body.Module, "level", input.Body.Level)
		resp := &models.LogLevelsResponse{}
		resp.Body.Levels = logging.Levels()
		return resp, nil
	})

	sse.Register(s.api, huma.Operation{
		OperationID: "logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/logs/stream",
		Summary:     "Log Stream",
		Description: "Sends buffered logs first, then streams new entries",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"message": events.LogEntryEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		// Subscribe before replaying so nothing logged in between is lost.
		eventCh := make(chan any, 100)
		unsubscribe := events.SubscribeToChannel[events.LogEntryEvent](s.eventBus, eventCh)
		defer unsubscribe()

		var lastSeq uint64
		for _, entry := range logging.GetBuffer().ReadAll() {
			if err := send.Data(logEvent(entry)); err != nil {
				return
			}
			lastSeq = entry.Seq
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if e, ok := event.(events.LogEntryEvent); ok && e.Seq <= lastSeq {
					continue
				}
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
