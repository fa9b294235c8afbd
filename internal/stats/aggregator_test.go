package stats

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/deskstream/internal/media"
)

func frame(w, h int) *media.Frame {
	return &media.Frame{
		Data:      make([]byte, w*h*4),
		Width:     w,
		Height:    h,
		Stride:    w * 4,
		Timestamp: media.Now(),
		Format:    media.PixelFormatBGRA,
	}
}

func TestCaptureReportsResolution(t *testing.T) {
	a := New()
	a.CaptureFrame(frame(1920, 1080))

	s := a.Snapshot()
	if s.Capture.Width != 1920 || s.Capture.Height != 1080 {
		t.Fatalf("resolution = %dx%d, want 1920x1080", s.Capture.Width, s.Capture.Height)
	}
	if s.Capture.Frames != 1 || s.Capture.Bytes != 1920*1080*4 {
		t.Errorf("unexpected capture counters: %+v", s.Capture)
	}
	if s.Capture.LastFrameTime.IsZero() {
		t.Error("expected last frame time to be set")
	}
}

func TestCountersMonotonic(t *testing.T) {
	a := New()
	var prev Snapshot
	for i := 0; i < 50; i++ {
		switch i % 4 {
		case 0:
			a.CaptureFrame(frame(4, 4))
		case 1:
			a.EncodeFrame(media.Payload{Data: make([]byte, 10)})
		case 2:
			a.TransportFrame(media.Payload{Data: make([]byte, 10)})
		case 3:
			a.InputPointer()
		}
		s := a.Snapshot()
		if s.Capture.Frames < prev.Capture.Frames ||
			s.Encode.Frames < prev.Encode.Frames ||
			s.Transport.Frames < prev.Transport.Frames ||
			s.Input.Events < prev.Input.Events {
			t.Fatalf("counter went backwards at step %d", i)
		}
		prev = s
	}
}

func TestFailuresOnlyTouchErrorCounters(t *testing.T) {
	a := New()
	a.EncodeFrame(media.Payload{Data: make([]byte, 100)})
	before := a.Snapshot()

	a.EncodeError()
	a.TransportError()
	a.TransportDrop()
	a.InputError()
	a.InputDropped()
	a.CaptureError()

	after := a.Snapshot()
	if after.Encode.Frames != before.Encode.Frames || after.Encode.Bytes != before.Encode.Bytes {
		t.Error("encode error changed success counters")
	}
	if after.Transport.Frames != 0 || after.Input.Events != 0 || after.Capture.Frames != 0 {
		t.Error("failures changed success counters")
	}
	if after.Encode.Errors != 1 || after.Transport.Errors != 1 || after.Transport.Dropped != 1 {
		t.Errorf("unexpected error counters: encode=%d transport=%d dropped=%d",
			after.Encode.Errors, after.Transport.Errors, after.Transport.Dropped)
	}
	if after.Input.Errors != 1 || after.Input.Dropped != 1 || after.Capture.Errors != 1 {
		t.Error("input/capture error counters not incremented")
	}
}

func TestRatesDerivedAtSnapshot(t *testing.T) {
	a := New()
	start := a.started
	a.now = func() time.Time { return start.Add(2 * time.Second) }

	for i := 0; i < 60; i++ {
		a.CaptureFrame(frame(2, 2))
		a.EncodeFrame(media.Payload{Data: make([]byte, 1000)})
	}

	s := a.Snapshot()
	if s.Capture.FPS != 30 {
		t.Errorf("capture fps = %v, want 30", s.Capture.FPS)
	}
	if s.Encode.BitsPerSecond != 60*1000*8/2 {
		t.Errorf("encode bps = %v, want %v", s.Encode.BitsPerSecond, 60*1000*8/2)
	}
	if s.Uptime != 2*time.Second {
		t.Errorf("uptime = %v", s.Uptime)
	}
}

func TestConcurrentWriters(t *testing.T) {
	a := New()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				a.TransportFrame(media.Payload{Data: []byte{1}})
			}
		}()
	}
	wg.Wait()
	if got := a.Snapshot().Transport.Frames; got != 4000 {
		t.Errorf("frames = %d, want 4000", got)
	}
}

func TestExporterServesMetrics(t *testing.T) {
	a := New()
	a.CaptureFrame(frame(1920, 1080))
	a.SetConnected(true)

	exp, err := NewExporter(a)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}

	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`deskstream_frames_total{stage="capture"} 1`,
		`deskstream_capture_width_pixels 1920`,
		`deskstream_transport_connected 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
