package media

import (
	"errors"
	"fmt"
	"time"
)

// PixelFormat identifies the memory layout of a frame buffer.
type PixelFormat uint8

const (
	PixelFormatBGRA PixelFormat = iota + 1
	PixelFormatRGBA
	PixelFormatYUV420
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatBGRA:
		return "bgra"
	case PixelFormatRGBA:
		return "rgba"
	case PixelFormatYUV420:
		return "yuv420"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// BytesPerPixel returns the packed pixel size, or 0 for planar formats.
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case PixelFormatBGRA, PixelFormatRGBA:
		return 4
	default:
		return 0
	}
}

var ErrInvalidFrame = errors.New("invalid frame")

// Frame is one captured image. Frames are treated as immutable once
// published; consumers share the pointer and must not write to Data.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Stride    int
	Timestamp int64 // monotonic microseconds, see Now
	Format    PixelFormat
}

// Validate checks the geometry invariants of the frame.
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil frame", ErrInvalidFrame)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidFrame, f.Width, f.Height)
	}
	if bpp := f.Format.BytesPerPixel(); bpp > 0 && f.Stride < f.Width*bpp {
		return fmt.Errorf("%w: stride %d below row size %d", ErrInvalidFrame, f.Stride, f.Width*bpp)
	}
	if f.Format == PixelFormatYUV420 {
		if f.Stride < f.Width {
			return fmt.Errorf("%w: luma stride %d below width %d", ErrInvalidFrame, f.Stride, f.Width)
		}
		// luma plane plus two quarter-size chroma planes
		need := f.Height*f.Stride + 2*((f.Height+1)/2)*((f.Stride+1)/2)
		if len(f.Data) < need {
			return fmt.Errorf("%w: buffer %d bytes, need %d", ErrInvalidFrame, len(f.Data), need)
		}
		return nil
	}
	if len(f.Data) < f.Height*f.Stride {
		return fmt.Errorf("%w: buffer %d bytes, need %d", ErrInvalidFrame, len(f.Data), f.Height*f.Stride)
	}
	return nil
}

// Size returns the number of bytes the frame occupies.
func (f *Frame) Size() int {
	return len(f.Data)
}

// Time converts the frame timestamp back to wall-clock time.
func (f *Frame) Time() time.Time {
	return TimeOf(f.Timestamp)
}

// Codec names carried on payloads.
const (
	CodecJPEG = "jpeg"
	CodecH264 = "h264"
)

// Payload is the encoded form of a single frame.
type Payload struct {
	Data      []byte
	Timestamp int64 // timestamp of the source frame
	Sequence  uint64
	Codec     string
	Keyframe  bool
}

var epoch = time.Now()

// Now returns the current monotonic timestamp in microseconds.
func Now() int64 {
	return time.Since(epoch).Microseconds()
}

// TimeOf converts a monotonic timestamp to wall-clock time.
func TimeOf(ts int64) time.Time {
	return epoch.Add(time.Duration(ts) * time.Microsecond)
}
