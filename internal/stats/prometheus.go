package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deskstream"

// Collector exposes an Aggregator as Prometheus metrics. Values are read
// from a fresh Snapshot on every scrape.
type Collector struct {
	agg *Aggregator

	frames    *prometheus.Desc
	bytes     *prometheus.Desc
	errors    *prometheus.Desc
	dropped   *prometheus.Desc
	fps       *prometheus.Desc
	bitrate   *prometheus.Desc
	connected *prometheus.Desc
	inputs    *prometheus.Desc
	width     *prometheus.Desc
	height    *prometheus.Desc
}

// NewCollector creates a collector reading from agg.
func NewCollector(agg *Aggregator) *Collector {
	stage := []string{"stage"}
	return &Collector{
		agg:       agg,
		frames:    prometheus.NewDesc(namespace+"_frames_total", "Frames processed per pipeline stage", stage, nil),
		bytes:     prometheus.NewDesc(namespace+"_bytes_total", "Bytes processed per pipeline stage", stage, nil),
		errors:    prometheus.NewDesc(namespace+"_errors_total", "Transient failures per pipeline stage", stage, nil),
		dropped:   prometheus.NewDesc(namespace+"_dropped_total", "Items dropped without processing per stage", stage, nil),
		fps:       prometheus.NewDesc(namespace+"_fps", "Average frame rate per stage since start", stage, nil),
		bitrate:   prometheus.NewDesc(namespace+"_encoder_target_bitrate_bps", "Configured encoder bitrate", nil, nil),
		connected: prometheus.NewDesc(namespace+"_transport_connected", "1 when a viewer is connected", nil, nil),
		inputs:    prometheus.NewDesc(namespace+"_input_events_total", "Injected input events by class", []string{"class"}, nil),
		width:     prometheus.NewDesc(namespace+"_capture_width_pixels", "Width of the last captured frame", nil, nil),
		height:    prometheus.NewDesc(namespace+"_capture_height_pixels", "Height of the last captured frame", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.frames, c.bytes, c.errors, c.dropped, c.fps,
		c.bitrate, c.connected, c.inputs, c.width, c.height,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.agg.Snapshot()

	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	counter(c.frames, s.Capture.Frames, "capture")
	counter(c.frames, s.Encode.Frames, "encode")
	counter(c.frames, s.Transport.Frames, "transport")

	counter(c.bytes, s.Capture.Bytes, "capture")
	counter(c.bytes, s.Encode.Bytes, "encode")
	counter(c.bytes, s.Transport.Bytes, "transport")

	counter(c.errors, s.Capture.Errors, "capture")
	counter(c.errors, s.Encode.Errors, "encode")
	counter(c.errors, s.Transport.Errors, "transport")
	counter(c.errors, s.Input.Errors, "input")

	counter(c.dropped, s.Transport.Dropped, "transport")
	counter(c.dropped, s.Input.Dropped, "input")

	gauge(c.fps, s.Capture.FPS, "capture")
	gauge(c.fps, s.Encode.FPS, "encode")
	gauge(c.fps, s.Transport.FPS, "transport")

	gauge(c.bitrate, float64(s.Encode.Bitrate))
	connected := 0.0
	if s.Transport.Connected {
		connected = 1
	}
	gauge(c.connected, connected)

	counter(c.inputs, s.Input.PointerEvents, "pointer")
	counter(c.inputs, s.Input.KeyboardEvents, "keyboard")

	gauge(c.width, float64(s.Capture.Width))
	gauge(c.height, float64(s.Capture.Height))
}

// Exporter serves pipeline stats together with anything registered on the
// default Prometheus registry (promauto metrics, Go runtime collectors).
type Exporter struct {
	registry *prometheus.Registry
	handler  http.Handler
}

// NewExporter registers a Collector for agg on a private registry.
func NewExporter(agg *Aggregator) (*Exporter, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(NewCollector(agg)); err != nil {
		return nil, err
	}
	gatherers := prometheus.Gatherers{registry, prometheus.DefaultGatherer}
	return &Exporter{
		registry: registry,
		handler:  promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}),
	}, nil
}

// Handler returns the /metrics HTTP handler.
func (e *Exporter) Handler() http.Handler {
	return e.handler
}
