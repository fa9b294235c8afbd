package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/smazurov/deskstream/internal/capture"
	"github.com/smazurov/deskstream/internal/logging"
	"github.com/spf13/cobra"
)

// ProbeResult is what a probe run measured.
type ProbeResult struct {
	Backend  string
	Width    int
	Height   int
	Frames   int
	Errors   int
	Bytes    int64
	Elapsed  time.Duration
	Monitors []capture.Monitor
}

// FPS is the achieved capture rate.
func (r ProbeResult) FPS() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Frames) / r.Elapsed.Seconds()
}

// CreateProbeCmd initializes a capture backend and captures as fast as it
// can for a short duration.
func CreateProbeCmd() *cobra.Command {
	var (
		backend  string
		duration time.Duration
		display  int
	)

	c := &cobra.Command{
		Use:   "probe",
		Short: "Capture frames for a few seconds and report geometry and rate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if backend == "" {
				backend = capture.Default()
			}
			res, err := Probe(cmd.Context(), backend, capture.Options{
				Display: display,
				Logger:  logging.GetLogger("probe"),
			}, duration)
			if err != nil {
				return err
			}
			printProbe(cmd.OutOrStdout(), res)
			return nil
		},
	}

	c.Flags().StringVarP(&backend, "backend", "b", "", "capture backend (default: platform default)")
	c.Flags().DurationVarP(&duration, "duration", "d", 3*time.Second, "how long to capture")
	c.Flags().IntVar(&display, "display", 0, "display index")
	return c
}

// Probe runs backend for duration. Individual capture failures are counted,
// not returned.
func Probe(ctx context.Context, backend string, opts capture.Options, duration time.Duration) (ProbeResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	res := ProbeResult{Backend: backend}

	reg, err := capture.Lookup(backend)
	if err != nil {
		return res, err
	}
	b, err := reg.Factory(opts)
	if err != nil {
		return res, fmt.Errorf("create %s: %w", backend, err)
	}
	defer b.Shutdown()

	res.Width, res.Height, err = b.Initialize()
	if err != nil {
		return res, fmt.Errorf("initialize %s: %w", backend, err)
	}
	if lister, ok := b.(capture.MonitorLister); ok {
		res.Monitors = lister.Monitors()
	}

	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	start := time.Now()
	for ctx.Err() == nil {
		frame, err := b.CaptureOneFrame(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}
			res.Errors++
			continue
		}
		res.Frames++
		res.Bytes += int64(len(frame.Data))
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

func printProbe(out io.Writer, r ProbeResult) {
	fmt.Fprintf(out, "backend:   %s\n", r.Backend)
	fmt.Fprintf(out, "geometry:  %dx%d\n", r.Width, r.Height)
	for _, m := range r.Monitors {
		primary := ""
		if m.Primary {
			primary = " primary"
		}
		fmt.Fprintf(out, "monitor %d: %dx%d+%d+%d%s\n", m.Index, m.Width, m.Height, m.X, m.Y, primary)
	}
	fmt.Fprintf(out, "frames:    %d in %s (%.1f fps)\n", r.Frames, r.Elapsed.Round(time.Millisecond), r.FPS())
	if r.Frames > 0 {
		fmt.Fprintf(out, "avg frame: %d bytes\n", r.Bytes/int64(r.Frames))
	}
	if r.Errors > 0 {
		fmt.Fprintf(out, "errors:    %d\n", r.Errors)
	}
}
