package session

import (
	"image"
	"sync/atomic"

	"github.com/smazurov/deskstream/internal/input"
)

// offsetInjector translates resolved pointer positions from capture-region
// space to display space.
type offsetInjector struct {
	input.Injector
	offset atomic.Pointer[image.Point]
}

func newOffsetInjector(inner input.Injector) *offsetInjector {
	o := &offsetInjector{Injector: inner}
	o.offset.Store(&image.Point{})
	return o
}

func (o *offsetInjector) setOffset(p image.Point) {
	o.offset.Store(&p)
}

func (o *offsetInjector) Inject(e input.Event) error {
	if e.Kind == input.KindPointerMove {
		off := o.offset.Load()
		e.X += float64(off.X)
		e.Y += float64(off.Y)
	}
	return o.Injector.Inject(e)
}
