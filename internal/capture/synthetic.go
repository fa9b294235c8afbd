package capture

import (
	"context"
	"image"
	"sync"

	"github.com/smazurov/deskstream/internal/media"
)

const (
	syntheticWidth  = 1280
	syntheticHeight = 720
)

func init() {
	Register("synthetic", Registration{
		Factory:     newSyntheticBackend,
		Description: "Generated test pattern for headless hosts",
	})
}

// syntheticBackend renders a BGRA gradient with a bar that moves one step
// per frame, so dropped or repeated frames are visible on the viewer.
type syntheticBackend struct {
	width, height int

	mu    sync.Mutex
	rect  image.Rectangle
	frame uint64
}

func newSyntheticBackend(opts Options) (Backend, error) {
	w, h := opts.Width, opts.Height
	if w <= 0 || h <= 0 {
		w, h = syntheticWidth, syntheticHeight
	}
	return &syntheticBackend{width: w, height: h}, nil
}

func (b *syntheticBackend) Initialize() (int, int, error) {
	b.mu.Lock()
	b.rect = image.Rect(0, 0, b.width, b.height)
	b.mu.Unlock()
	return b.width, b.height, nil
}

func (b *syntheticBackend) CaptureOneFrame(ctx context.Context) (*media.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	rect := b.rect
	n := b.frame
	b.frame++
	b.mu.Unlock()

	w, h := rect.Dx(), rect.Dy()
	stride := w * 4
	data := make([]byte, stride*h)
	bar := int(n*8) % b.width

	for y := 0; y < h; y++ {
		row := data[y*stride : (y+1)*stride]
		gy := byte((rect.Min.Y + y) * 255 / b.height)
		for x := 0; x < w; x++ {
			ax := rect.Min.X + x
			px := row[x*4 : x*4+4]
			if ax >= bar && ax < bar+16 {
				px[0], px[1], px[2] = 255, 255, 255
			} else {
				px[0] = byte(ax * 255 / b.width) // B
				px[1] = gy                       // G
				px[2] = byte(n)                  // R
			}
			px[3] = 255
		}
	}

	return &media.Frame{
		Data:      data,
		Width:     w,
		Height:    h,
		Stride:    stride,
		Timestamp: media.Now(),
		Format:    media.PixelFormatBGRA,
	}, nil
}

func (b *syntheticBackend) SetRegion(rect image.Rectangle) error {
	b.mu.Lock()
	b.rect = rect
	b.mu.Unlock()
	return nil
}

func (b *syntheticBackend) Shutdown() error {
	return nil
}
