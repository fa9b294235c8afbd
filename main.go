package main

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/deskstream/cmd"
	"github.com/smazurov/deskstream/internal/api"
	"github.com/smazurov/deskstream/internal/capture"
	"github.com/smazurov/deskstream/internal/config"
	"github.com/smazurov/deskstream/internal/discovery"
	"github.com/smazurov/deskstream/internal/events"
	"github.com/smazurov/deskstream/internal/logging"
	"github.com/smazurov/deskstream/internal/session"
	"github.com/smazurov/deskstream/internal/stats"
	"github.com/smazurov/deskstream/internal/streaming"
	"github.com/smazurov/deskstream/internal/systemd"
	"github.com/smazurov/deskstream/internal/transport"
	"github.com/smazurov/deskstream/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"deskstream.toml"`

	// Server settings
	Port      string `help:"Control API listen address" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`
	Endpoint  string `help:"Signaling server WebSocket URL, empty for local-only" short:"s" toml:"server.endpoint" env:"SERVER_ENDPOINT"`
	DeviceID  string `help:"Device identifier sent to the signaling server" toml:"server.device_id" env:"DEVICE_ID"`
	Discovery bool   `help:"Advertise the API over mDNS" default:"true" toml:"server.discovery" env:"DISCOVERY"`
	AutoStart bool   `help:"Start streaming as soon as the session is ready" default:"false" toml:"server.auto_start" env:"AUTO_START"`

	// Streaming settings
	FPS           int    `help:"Target frames per second" default:"30" toml:"streaming.fps" env:"FPS"`
	Bitrate       int    `help:"Target bitrate in bits per second" default:"5000000" toml:"streaming.bitrate" env:"BITRATE"`
	Quality       int    `help:"Encoder quality 1-100" default:"80" toml:"streaming.quality" env:"QUALITY"`
	StatsInterval string `help:"Stats report interval, 0 disables" default:"5s" toml:"streaming.stats_interval" env:"STATS_INTERVAL"`

	// Backend settings
	CaptureBackend   string `help:"Capture backend (see backends command)" toml:"backends.capture" env:"CAPTURE_BACKEND"`
	EncoderBackend   string `help:"Encoder backend" toml:"backends.encoder" env:"ENCODER_BACKEND"`
	TransportBackend string `help:"Transport backend" toml:"backends.transport" env:"TRANSPORT_BACKEND"`
	InputBackend     string `help:"Input injection backend" toml:"backends.input" env:"INPUT_BACKEND"`
	Display          int    `help:"Display index to capture" default:"0" toml:"capture.display" env:"CAPTURE_DISPLAY"`
	ICEServers       string `help:"Comma-separated STUN/TURN URLs" default:"stun:stun.l.google.com:19302" toml:"webrtc.ice_servers" env:"ICE_SERVERS"`

	// Auth settings
	AuthUsername string `help:"Basic auth username, auth is off when empty" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" toml:"auth.password" env:"AUTH_PASSWORD"`
	CORSOrigin   string `help:"Allowed CORS origins, comma-separated" default:"*" toml:"auth.cors_origin" env:"CORS_ORIGIN"`

	// Logging settings
	LoggingLevel     string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat    string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingSession   string `help:"Session logging level" toml:"logging.session" env:"LOGGING_SESSION"`
	LoggingCapture   string `help:"Capture logging level" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingStreaming string `help:"WebRTC streaming logging level" toml:"logging.streaming" env:"LOGGING_STREAMING"`
	LoggingAPI       string `help:"API logging level" toml:"logging.api" env:"LOGGING_API"`
}

func (o *Options) loggingConfig() logging.Config {
	cfg := config.LoadLoggingConfig(o.Config)
	cfg.Level = o.LoggingLevel
	cfg.Format = o.LoggingFormat
	for module, level := range map[string]string{
		"session":   o.LoggingSession,
		"capture":   o.LoggingCapture,
		"streaming": o.LoggingStreaming,
		"api":       o.LoggingAPI,
	} {
		if level != "" {
			cfg.Modules[module] = level
		}
	}
	return cfg
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Flags set on the command line win over the file and environment.
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			logging.GetLogger("config").Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(opts.loggingConfig())
		logger := logging.GetLogger("main")

		eventBus := events.New()
		api.PublishLogs(eventBus)

		statsInterval, err := time.ParseDuration(opts.StatsInterval)
		if err != nil {
			logger.Warn("Invalid stats interval, using default", "value", opts.StatsInterval, "error", err)
			statsInterval = 5 * time.Second
		}

		backends := session.Backends{
			Capture:   opts.CaptureBackend,
			Encoder:   opts.EncoderBackend,
			Transport: opts.TransportBackend,
			Input:     opts.InputBackend,
			CaptureOptions: capture.Options{
				Display: opts.Display,
				Logger:  logging.GetLogger("capture"),
			},
			TransportOptions: transport.Options{
				DeviceID:      opts.DeviceID,
				ICEServers:    splitList(opts.ICEServers),
				Input:         true,
				StatsInterval: statsInterval,
				Logger:        logging.GetLogger("streaming"),
			},
		}

		orch, err := session.Open(backends, session.Options{
			Endpoint: opts.Endpoint,
			Parameters: session.Parameters{
				FPS:     opts.FPS,
				Bitrate: opts.Bitrate,
				Quality: config.ClampQuality(opts.Quality),
			},
			StatsInterval: statsInterval,
			Bus:           eventBus,
			Logger:        logging.GetLogger("session"),
		})
		if err != nil {
			logger.Error("Failed to create session", "error", err)
			os.Exit(1)
		}

		apiOpts := &api.Options{
			AuthUsername: opts.AuthUsername,
			AuthPassword: opts.AuthPassword,
			CORSOrigin:   opts.CORSOrigin,
			Session:      orch,
			EventBus:     eventBus,
			Backends:     backends,
		}
		if exporter, expErr := stats.NewExporter(orch.Aggregator()); expErr == nil {
			apiOpts.PrometheusHandler = exporter.Handler()
		} else {
			logger.Warn("Prometheus exporter disabled", "error", expErr)
		}

		server := api.NewServer(apiOpts)
		if webrtc, ok := orch.TransportBackend().(*streaming.Backend); ok {
			streaming.RegisterWebRTCAPI(server.GetAPI(), webrtc)
		}

		notifier := systemd.NewNotifier(logging.GetLogger("systemd"))

		var advertiser *discovery.Advertiser
		if opts.Discovery {
			advertiser, err = discovery.New(discovery.Options{
				Addr: opts.Port,
				Text: map[string]string{
					"version": version.String(),
					"device":  opts.DeviceID,
					"path":    "/api",
				},
				Logger: logging.GetLogger("discovery"),
			})
			if err != nil {
				logger.Warn("mDNS discovery disabled", "error", err)
			}
		}

		var watcher *config.Watcher[config.StreamingConfig]
		if _, statErr := os.Stat(opts.Config); statErr == nil {
			watcher = config.NewConfigWatcher(opts.Config, config.LoadStreamingConfig, logging.GetLogger("config"))
			watcher.OnReload(func(c config.StreamingConfig) {
				if c.IsZero() {
					return
				}
				p := orch.Parameters()
				if c.FPS > 0 {
					p.FPS = c.FPS
				}
				if c.Bitrate > 0 {
					p.Bitrate = c.Bitrate
				}
				if c.Quality > 0 {
					p.Quality = c.Quality
				}
				if setErr := orch.SetStreamingParameters(p); setErr != nil {
					logger.Warn("Reloaded streaming parameters rejected", "error", setErr)
					return
				}
				logger.Info("Streaming parameters reloaded", "fps", p.FPS, "bitrate", p.Bitrate, "quality", p.Quality)
			})
		}

		unsubscribeStatus := eventBus.Subscribe(func(e events.SessionStateChangedEvent) {
			notifier.Status("session %s", e.State)
		})

		statsLogger := logging.GetLogger("stats")
		unsubscribeStats := eventBus.Subscribe(func(e events.StatsReportEvent) {
			if e.State != session.StateStreaming.String() {
				return
			}
			statsLogger.Info("Pipeline stats",
				"capture_fps", e.Stats.Capture.FPS,
				"encode_fps", e.Stats.Encode.FPS,
				"send_fps", e.Stats.Transport.FPS,
				"kbps", int(e.Stats.Transport.BitsPerSecond/1000),
				"dropped", e.Stats.Transport.Dropped,
				"input_events", e.Stats.Input.Events)
		})

		hooks.OnStart(func() {
			if initErr := orch.Initialize(); initErr != nil {
				// The API stays up so the failure is visible over /api/session.
				logger.Error("Session initialization failed", "error", initErr, "kind", session.Kind(initErr).String())
			} else if opts.AutoStart {
				if startErr := orch.StartStreaming(context.Background()); startErr != nil {
					logger.Warn("Auto start failed", "error", startErr)
				}
			}

			if watcher != nil {
				if watchErr := watcher.Start(); watchErr != nil {
					logger.Warn("Config hot reload disabled", "error", watchErr)
				}
			}
			if advertiser != nil {
				if advErr := advertiser.Start(); advErr != nil {
					logger.Warn("mDNS advertisement failed", "error", advErr)
				}
			}

			notifier.Ready()
			notifier.StartWatchdog(context.Background())

			logger.Info("Starting HTTP server", "port", opts.Port, "version", version.String())
			if startErr := server.Start(opts.Port); startErr != nil {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			notifier.Stopping()
			unsubscribeStatus()
			unsubscribeStats()

			if advertiser != nil {
				advertiser.Stop()
			}
			if watcher != nil {
				if stopErr := watcher.Stop(); stopErr != nil {
					logger.Warn("Error stopping config watcher", "error", stopErr)
				}
			}

			// Stop accepting requests before tearing the pipeline down.
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}
			if stopErr := orch.Shutdown(); stopErr != nil && !errors.Is(stopErr, session.ErrInvalidState) {
				logger.Error("Error shutting down session", "error", stopErr)
			}
		})
	})

	cli.Root().Use = "deskstream"
	cli.Root().Version = version.String()
	cli.Root().AddCommand(cmd.CreateBackendsCmd())
	cli.Root().AddCommand(cmd.CreateProbeCmd())

	cli.Run()
}
