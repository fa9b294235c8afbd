// Package encoders turns captured frames into codec payloads through a
// pluggable backend.
package encoders

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/smazurov/deskstream/internal/media"
)

var (
	ErrInit            = errors.New("encoder initialization failed")
	ErrEncode          = errors.New("encode failed")
	ErrNotInitialized  = errors.New("encoder not initialized")
	ErrUnknownBackend  = errors.New("unknown encoder backend")
	ErrInvalidConfig   = errors.New("invalid encoder config")
	ErrFormatMismatch  = errors.New("frame does not match encoder geometry")
	ErrUnsupportedType = errors.New("unsupported pixel format")
)

const (
	QualityMin = 0
	QualityMax = 100

	DefaultQuality = 80
)

// Config is the encoder configuration applied at Initialize.
type Config struct {
	Width   int `json:"width"`
	Height  int `json:"height"`
	FPS     int `json:"fps"`
	Bitrate int `json:"bitrate"`
	Quality int `json:"quality"`
}

func (c Config) validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidConfig, c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("%w: fps %d", ErrInvalidConfig, c.FPS)
	}
	if c.Bitrate <= 0 {
		return fmt.Errorf("%w: bitrate %d", ErrInvalidConfig, c.Bitrate)
	}
	return nil
}

// ClampQuality limits q to [QualityMin, QualityMax].
func ClampQuality(q int) int {
	return min(max(q, QualityMin), QualityMax)
}

// Backend is a codec implementation. The pipeline serializes all calls, so
// backends need no locking of their own.
type Backend interface {
	Initialize(cfg Config) error
	Encode(frame *media.Frame) ([]byte, error)
	SetBitrate(bps int)
	SetFPS(fps int)
	SetQuality(quality int)
	Codec() string
	Close() error
}

// KeyframeRequester is implemented by inter-frame codecs that can be asked
// to emit an intra frame next.
type KeyframeRequester interface {
	RequestKeyframe()
}

// Registration describes a backend in the registry.
type Registration struct {
	Factory     func(logger *slog.Logger) (Backend, error)
	Codec       string
	Hardware    bool
	IntraOnly   bool // every payload is independently decodable
	Description string
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Registration{}
)

// Register makes a backend available under name.
func Register(name string, reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = reg
}

// Lookup returns the registration for name.
func Lookup(name string) (Registration, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[name]
	if !ok {
		return Registration{}, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return reg, nil
}

// Names lists registered backends.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SupportedCodecs returns the distinct codecs offered by registered backends.
func SupportedCodecs() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	seen := map[string]bool{}
	var codecs []string
	for _, reg := range registry {
		if reg.Codec != "" && !seen[reg.Codec] {
			seen[reg.Codec] = true
			codecs = append(codecs, reg.Codec)
		}
	}
	sort.Strings(codecs)
	return codecs
}

// Default returns the preferred backend.
func Default() string {
	return "jpeg"
}
