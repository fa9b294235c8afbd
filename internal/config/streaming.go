package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// StreamingConfig is the hot-reloadable [streaming] table.
// Zero values mean "keep the current setting".
type StreamingConfig struct {
	FPS     int `toml:"fps" json:"fps"`
	Bitrate int `toml:"bitrate" json:"bitrate"`
	Quality int `toml:"quality" json:"quality"`
}

// IsZero reports whether the table was absent or empty.
func (c StreamingConfig) IsZero() bool {
	return c == StreamingConfig{}
}

// ClampQuality limits q to the JPEG quality range, 0 meaning unset.
func ClampQuality(q int) int {
	switch {
	case q < 0:
		return 0
	case q > 100:
		return 100
	}
	return q
}

// LoadStreamingConfig reads the [streaming] table from path. A missing
// table yields the zero config, a missing file is an error.
func LoadStreamingConfig(path string) (StreamingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return StreamingConfig{}, fmt.Errorf("read %s: %w", path, err)
	}

	var doc struct {
		Streaming StreamingConfig `toml:"streaming"`
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return StreamingConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg := doc.Streaming
	if cfg.FPS < 0 || cfg.Bitrate < 0 {
		return StreamingConfig{}, fmt.Errorf("parse %s: fps and bitrate must not be negative", path)
	}
	cfg.Quality = ClampQuality(cfg.Quality)
	return cfg, nil
}
