// Package models holds the request and response bodies of the control API.
package models

import (
	"github.com/smazurov/deskstream/internal/capture"
	"github.com/smazurov/deskstream/internal/logging"
	"github.com/smazurov/deskstream/internal/session"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit SHA"`
	BuildDate string `json:"build_date" example:"2026-01-15 14:30" doc:"Build timestamp"`
	Modified  bool   `json:"modified" doc:"Built from a dirty working tree"`
	GoVersion string `json:"go_version" example:"go1.24.0" doc:"Go compiler version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Compiler used"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Session models
type SessionData struct {
	State      string             `json:"state" example:"ready" enum:"idle,initializing,ready,streaming,stopping,failed" doc:"Lifecycle state"`
	Endpoint   string             `json:"endpoint" example:"wss://signal.example.com/ws" doc:"Signaling endpoint, empty for local-only"`
	Parameters session.Parameters `json:"parameters" doc:"Current streaming parameters"`
	Region     session.Region     `json:"region" doc:"Captured region in display pixels"`
}

type SessionResponse struct {
	Body SessionData
}

type StartRequest struct {
	Body *struct {
		Endpoint string `json:"endpoint,omitempty" doc:"Override the signaling endpoint for this and later sessions"`
	} `required:"false"`
}

type ParametersRequest struct {
	Body session.Parameters
}

type RegionRequest struct {
	Body session.Region
}

// Stats models
type StatsResponse struct {
	Body session.Stats
}

// Monitor models
type MonitorsData struct {
	Monitors []capture.Monitor `json:"monitors" doc:"Attached displays, empty when the backend cannot enumerate them"`
	Count    int               `json:"count" example:"1" doc:"Number of monitors"`
}

type MonitorsResponse struct {
	Body MonitorsData
}

// Backend models
type BackendGroup struct {
	Registered []string `json:"registered" doc:"Backends compiled into this build"`
	Default    string   `json:"default" doc:"Backend chosen when none is configured"`
	Active     string   `json:"active,omitempty" doc:"Backend the running session uses"`
}

type BackendsData struct {
	Capture   BackendGroup `json:"capture"`
	Encoder   BackendGroup `json:"encoder"`
	Transport BackendGroup `json:"transport"`
	Input     BackendGroup `json:"input"`
	Codecs    []string     `json:"codecs" doc:"Codecs the registered encoders produce"`
}

type BackendsResponse struct {
	Body BackendsData
}

// Log models
type LogsRequest struct {
	Since uint64 `query:"since" doc:"Only return entries with a greater sequence number"`
	Limit int    `query:"limit" minimum:"0" maximum:"10000" default:"200" doc:"Maximum number of entries, newest kept"`
	Level string `query:"level" enum:"debug,info,warn,error" doc:"Minimum level to include"`
}

type LogsData struct {
	Entries []logging.LogEntry `json:"entries"`
	Count   int                `json:"count"`
}

type LogsResponse struct {
	Body LogsData
}

type LogLevelRequest struct {
	Body struct {
		Module string `json:"module,omitempty" doc:"Module to change, empty for the global level"`
		Level  string `json:"level" enum:"debug,info,warn,error" doc:"New level"`
	}
}

type LogLevelsResponse struct {
	Body struct {
		Levels map[string]string `json:"levels" doc:"Effective level per module, the empty key is the global level"`
	}
}
