package capture

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/kbinani/screenshot"
	"github.com/smazurov/deskstream/internal/media"
)

func init() {
	Register("screenshot", Registration{
		Factory:     newScreenshotBackend,
		Description: "Portable display capture (X11, Windows GDI, macOS CoreGraphics)",
	})
}

// screenshotBackend grabs one display through kbinani/screenshot.
type screenshotBackend struct {
	display int

	mu     sync.Mutex
	bounds image.Rectangle // absolute display bounds
	rect   image.Rectangle // absolute capture rectangle
}

func newScreenshotBackend(opts Options) (Backend, error) {
	return &screenshotBackend{display: opts.Display}, nil
}

func (b *screenshotBackend) Initialize() (int, int, error) {
	n := screenshot.NumActiveDisplays()
	if n <= 0 {
		return 0, 0, fmt.Errorf("%w: no active displays", ErrUnavailable)
	}
	if b.display < 0 || b.display >= n {
		return 0, 0, fmt.Errorf("%w: display %d out of range (have %d)", ErrUnavailable, b.display, n)
	}

	bounds := screenshot.GetDisplayBounds(b.display)
	if bounds.Empty() {
		return 0, 0, fmt.Errorf("%w: display %d has zero bounds", ErrUnavailable, b.display)
	}

	b.mu.Lock()
	b.bounds, b.rect = bounds, bounds
	b.mu.Unlock()
	return bounds.Dx(), bounds.Dy(), nil
}

func (b *screenshotBackend) CaptureOneFrame(ctx context.Context) (*media.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	rect := b.rect
	b.mu.Unlock()

	img, err := screenshot.CaptureRect(rect)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCapture, err)
	}
	return &media.Frame{
		Data:      img.Pix,
		Width:     img.Rect.Dx(),
		Height:    img.Rect.Dy(),
		Stride:    img.Stride,
		Timestamp: media.Now(),
		Format:    media.PixelFormatRGBA,
	}, nil
}

func (b *screenshotBackend) SetRegion(rect image.Rectangle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	abs := rect.Add(b.bounds.Min)
	if !abs.In(b.bounds) {
		return fmt.Errorf("region %v outside display %v", rect, b.bounds)
	}
	b.rect = abs
	return nil
}

func (b *screenshotBackend) Monitors() []Monitor {
	n := screenshot.NumActiveDisplays()
	monitors := make([]Monitor, 0, n)
	for i := 0; i < n; i++ {
		bounds := screenshot.GetDisplayBounds(i)
		monitors = append(monitors, Monitor{
			Index:   i,
			X:       bounds.Min.X,
			Y:       bounds.Min.Y,
			Width:   bounds.Dx(),
			Height:  bounds.Dy(),
			Primary: i == 0,
		})
	}
	return monitors
}

func (b *screenshotBackend) Shutdown() error {
	return nil
}
