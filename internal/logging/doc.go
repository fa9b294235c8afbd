// Package logging provides structured logging with per-module log level configuration.
//
// # Overview
//
// The logging system uses Go's slog package with automatic output routing:
//   - Logs to systemd journal when available (Linux systems with journald)
//   - Logs to stdout when a terminal, pipe, or file is connected
//   - Always keeps the most recent entries in a ring buffer for the HTTP API
//
// # Usage
//
// Initialize the logging system once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"session":   "debug",
//			"streaming": "warn",
//		},
//	})
//
// Get a logger for your module:
//
//	logger := logging.GetLogger("capture")
//	logger.Info("Capture started", "width", 1920, "height", 1080)
//
// Levels can be changed while running:
//
//	_ = logging.SetLevel("encoder", "debug")
//
// # Viewing Logs
//
// When running under systemd:
//
//	journalctl -t deskstream -f
//	journalctl -t deskstream MODULE=session
//	journalctl -t deskstream -p err
//
// # Configuration
//
// Example TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//	buffer_size = 1000
//
//	[logging.modules]
//	streaming = "debug"
package logging
