package input

import "math"

// Size is a width and height in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// Mapping scales coordinates from the viewer's space (Source) to the local
// screen (Target). The zero Mapping is inactive.
type Mapping struct {
	Source Size
	Target Size
}

// Active reports whether all four dimensions are set.
func (m Mapping) Active() bool {
	return m.Source.Valid() && m.Target.Valid()
}

// Inverse swaps source and target.
func (m Mapping) Inverse() Mapping {
	return Mapping{Source: m.Target, Target: m.Source}
}

// Apply maps a pixel coordinate from source to target space, clamped to
// [0, target-1]. Inactive mappings return the input unchanged.
func (m Mapping) Apply(x, y float64) (float64, float64) {
	if !m.Active() {
		return x, y
	}
	return scale(x, m.Source.Width, m.Target.Width), scale(y, m.Source.Height, m.Target.Height)
}

// ApplyNormalized maps a [0,1] coordinate onto the target.
func (m Mapping) ApplyNormalized(x, y float64) (float64, float64) {
	if !m.Active() {
		return x, y
	}
	return scale(x, 1, m.Target.Width), scale(y, 1, m.Target.Height)
}

func scale(raw float64, source, target int) float64 {
	v := math.Floor(raw * float64(target) / float64(source))
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if limit := float64(target - 1); v > limit {
		return limit
	}
	return v
}
