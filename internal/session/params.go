package session

import (
	"fmt"

	"github.com/smazurov/deskstream/internal/encoders"
)

const (
	DefaultFPS     = 30
	DefaultBitrate = 5_000_000
	DefaultQuality = encoders.DefaultQuality

	MinFPS = 1
	MaxFPS = 120
)

// Parameters are the runtime-adjustable streaming settings.
type Parameters struct {
	FPS     int `json:"fps" minimum:"1" maximum:"120" doc:"Target frame rate"`
	Bitrate int `json:"bitrate" minimum:"1" doc:"Target bitrate in bits per second"`
	Quality int `json:"quality" minimum:"0" maximum:"100" doc:"Encoder quality"`
}

// DefaultParameters returns 30 fps, 5 Mbit/s, quality 80.
func DefaultParameters() Parameters {
	return Parameters{FPS: DefaultFPS, Bitrate: DefaultBitrate, Quality: DefaultQuality}
}

// Validate checks every field against its range.
func (p Parameters) Validate() error {
	if p.FPS < MinFPS || p.FPS > MaxFPS {
		return fmt.Errorf("%w: fps %d outside %d-%d", ErrInvalidParameters, p.FPS, MinFPS, MaxFPS)
	}
	if p.Bitrate <= 0 {
		return fmt.Errorf("%w: bitrate must be positive, got %d", ErrInvalidParameters, p.Bitrate)
	}
	if p.Quality < encoders.QualityMin || p.Quality > encoders.QualityMax {
		return fmt.Errorf("%w: quality %d outside %d-%d", ErrInvalidParameters, p.Quality, encoders.QualityMin, encoders.QualityMax)
	}
	return nil
}

// withDefaults fills zero fields.
func (p Parameters) withDefaults() Parameters {
	d := DefaultParameters()
	if p.FPS == 0 {
		p.FPS = d.FPS
	}
	if p.Bitrate == 0 {
		p.Bitrate = d.Bitrate
	}
	if p.Quality == 0 {
		p.Quality = d.Quality
	}
	return p
}
