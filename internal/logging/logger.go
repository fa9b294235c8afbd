package logging

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"strings"
	"sync"
)

const defaultBufferSize = 1000

// Logger is a duck-typed interface satisfied by *slog.Logger.
// Use this interface instead of *slog.Logger to decouple from the concrete type.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

var (
	moduleLoggers   = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	globalConfig    Config
	globalLevelVar  = &slog.LevelVar{}
	isInitialized   bool
	mutex           sync.RWMutex
	logBuffer       = NewRingBuffer(defaultBufferSize)
	logCallback     LogCallback
)

// Config represents logging configuration.
type Config struct {
	Level      string            `toml:"level"`
	Format     string            `toml:"format"`
	Modules    map[string]string `toml:"modules"`
	BufferSize int               `toml:"buffer_size"`
}

// Initialize sets up the logging system. Loggers handed out before the call
// are rebuilt so they pick up the configured format and levels.
func Initialize(config Config) {
	mutex.Lock()
	defer mutex.Unlock()

	globalConfig = config
	isInitialized = true

	size := config.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	logBuffer = NewRingBuffer(size)

	globalLevelVar.Set(levelOr(config.Level, slog.LevelInfo))

	for module, levelVar := range moduleLevelVars {
		levelVar.Set(moduleLevelLocked(module))
		moduleLoggers[module] = slog.New(createHandler(config.Format, levelVar)).With("module", module)
	}

	slog.SetDefault(slog.New(createHandler(config.Format, globalLevelVar)))
}

// GetBuffer returns the log ring buffer for reading historical logs.
func GetBuffer() *RingBuffer {
	mutex.RLock()
	defer mutex.RUnlock()
	return logBuffer
}

// SetLogCallback sets a callback to be called for each new log entry.
// Used for publishing log events to SSE clients.
func SetLogCallback(callback LogCallback) {
	mutex.Lock()
	defer mutex.Unlock()
	logCallback = callback
}

func currentSink() (*RingBuffer, LogCallback) {
	mutex.RLock()
	defer mutex.RUnlock()
	return logBuffer, logCallback
}

// GetLogger returns a logger for the specified module, creating it if needed.
func GetLogger(module string) *slog.Logger {
	mutex.RLock()
	if logger, exists := moduleLoggers[module]; exists {
		mutex.RUnlock()
		return logger
	}
	mutex.RUnlock()

	mutex.Lock()
	defer mutex.Unlock()

	// Double-check in case another goroutine created it
	if logger, exists := moduleLoggers[module]; exists {
		return logger
	}

	levelVar := &slog.LevelVar{}
	levelVar.Set(moduleLevelLocked(module))

	format := "text"
	if isInitialized {
		format = globalConfig.Format
	}

	logger := slog.New(createHandler(format, levelVar)).With("module", module)
	moduleLoggers[module] = logger
	moduleLevelVars[module] = levelVar
	return logger
}

// SetLevel changes a module's level at runtime. An empty module changes the
// global level and every module without an explicit override.
func SetLevel(module, level string) error {
	parsed := parseLevel(level)
	if parsed == nil {
		return fmt.Errorf("unknown log level %q", level)
	}

	mutex.Lock()
	defer mutex.Unlock()

	if module == "" {
		globalConfig.Level = level
		globalLevelVar.Set(*parsed)
		for name, lv := range moduleLevelVars {
			if _, pinned := globalConfig.Modules[name]; !pinned {
				lv.Set(*parsed)
			}
		}
		return nil
	}

	if globalConfig.Modules == nil {
		globalConfig.Modules = make(map[string]string)
	}
	globalConfig.Modules[module] = level
	if lv, ok := moduleLevelVars[module]; ok {
		lv.Set(*parsed)
	}
	return nil
}

// Levels returns the effective level of every known module.
func Levels() map[string]string {
	mutex.RLock()
	defer mutex.RUnlock()

	out := make(map[string]string, len(moduleLevelVars)+1)
	out[""] = levelToString(globalLevelVar.Level())
	for name, lv := range moduleLevelVars {
		out[name] = levelToString(lv.Level())
	}
	return out
}

// Modules returns the configured per-module overrides.
func Modules() map[string]string {
	mutex.RLock()
	defer mutex.RUnlock()
	return maps.Clone(globalConfig.Modules)
}

// moduleLevelLocked resolves the level for module. Callers hold mutex.
func moduleLevelLocked(module string) slog.Level {
	if !isInitialized {
		return slog.LevelInfo
	}
	level := levelOr(globalConfig.Level, slog.LevelInfo)
	if levelStr, exists := globalConfig.Modules[module]; exists {
		level = levelOr(levelStr, level)
	}
	return level
}

// createHandler creates a slog handler with the specified format and level.
// Logs to stdout, journal (when available), and ring buffer for SSE streaming.
func createHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var stdout, journal slog.Handler
	if isStdoutAvailable() {
		if format == "json" {
			stdout = slog.NewJSONHandler(os.Stdout, opts)
		} else {
			stdout = slog.NewTextHandler(os.Stdout, opts)
		}
	}
	if IsJournalAvailable() {
		journal = NewJournalHandler(level)
	}
	return Tee(stdout, journal, NewBufferHandler(level))
}

// isStdoutAvailable checks if stdout is connected to a terminal, pipe, socket, or file.
func isStdoutAvailable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	// /dev/null is a ModeDevice without ModeCharDevice on some systems
	return (mode&os.ModeCharDevice) != 0 || (mode&os.ModeNamedPipe) != 0 || (mode&os.ModeSocket) != 0 || mode.IsRegular()
}

func levelOr(level string, fallback slog.Level) slog.Level {
	if parsed := parseLevel(level); parsed != nil {
		return *parsed
	}
	return fallback
}

// parseLevel converts string level to slog.Level.
func parseLevel(level string) *slog.Level {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil
	}
	return &l
}
