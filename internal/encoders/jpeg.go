package encoders

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"

	"github.com/smazurov/deskstream/internal/media"
)

func init() {
	Register("jpeg", Registration{
		Factory:     newJPEGBackend,
		Codec:       media.CodecJPEG,
		IntraOnly:   true,
		Description: "CPU JPEG encoder",
	})
}

// jpegBackend is the software fallback. Bitrate is advisory: JPEG output
// size is driven by quality alone.
type jpegBackend struct {
	logger  *slog.Logger
	cfg     Config
	scratch *image.RGBA
	out     bytes.Buffer
}

func newJPEGBackend(logger *slog.Logger) (Backend, error) {
	return &jpegBackend{logger: logger}, nil
}

func (e *jpegBackend) Initialize(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	cfg.Quality = ClampQuality(cfg.Quality)
	e.cfg = cfg
	e.scratch = image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	return nil
}

func (e *jpegBackend) Encode(frame *media.Frame) ([]byte, error) {
	if e.scratch == nil {
		return nil, ErrNotInitialized
	}

	img, err := e.toImage(frame)
	if err != nil {
		return nil, err
	}

	e.out.Reset()
	// jpeg treats quality < 1 as 1
	if err := jpeg.Encode(&e.out, img, &jpeg.Options{Quality: max(e.cfg.Quality, 1)}); err != nil {
		return nil, fmt.Errorf("jpeg: %w", err)
	}
	return bytes.Clone(e.out.Bytes()), nil
}

// toImage wraps RGBA frames in place and swizzles BGRA into the scratch
// image.
func (e *jpegBackend) toImage(frame *media.Frame) (image.Image, error) {
	switch frame.Format {
	case media.PixelFormatRGBA:
		return &image.RGBA{
			Pix:    frame.Data,
			Stride: frame.Stride,
			Rect:   image.Rect(0, 0, frame.Width, frame.Height),
		}, nil
	case media.PixelFormatBGRA:
		dst := e.scratch
		for y := 0; y < frame.Height; y++ {
			src := frame.Data[y*frame.Stride : y*frame.Stride+frame.Width*4]
			row := dst.Pix[y*dst.Stride : y*dst.Stride+frame.Width*4]
			for x := 0; x < len(src); x += 4 {
				row[x] = src[x+2]
				row[x+1] = src[x+1]
				row[x+2] = src[x]
				row[x+3] = src[x+3]
			}
		}
		return dst, nil
	case media.PixelFormatYUV420:
		return yuvImage(frame), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, frame.Format)
	}
}

func yuvImage(frame *media.Frame) *image.YCbCr {
	ySize := frame.Height * frame.Stride
	cStride := (frame.Stride + 1) / 2
	cSize := ((frame.Height + 1) / 2) * cStride
	return &image.YCbCr{
		Y:              frame.Data[:ySize],
		Cb:             frame.Data[ySize : ySize+cSize],
		Cr:             frame.Data[ySize+cSize : ySize+2*cSize],
		YStride:        frame.Stride,
		CStride:        cStride,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, frame.Width, frame.Height),
	}
}

func (e *jpegBackend) SetBitrate(bps int) {
	e.cfg.Bitrate = bps
}

func (e *jpegBackend) SetFPS(fps int) {
	e.cfg.FPS = fps
}

func (e *jpegBackend) SetQuality(quality int) {
	e.cfg.Quality = ClampQuality(quality)
}

func (e *jpegBackend) Codec() string {
	return media.CodecJPEG
}

func (e *jpegBackend) Close() error {
	e.scratch = nil
	return nil
}
