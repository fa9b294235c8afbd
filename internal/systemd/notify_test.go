package systemd

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// listenNotify creates a NOTIFY_SOCKET for the test and returns a channel of
// received datagrams.
func listenNotify(t *testing.T) <-chan string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	t.Setenv("NOTIFY_SOCKET", path)

	out := make(chan string, 16)
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			out <- string(buf[:n])
		}
	}()
	return out
}

func expect(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for %q", want)
	}
}

func TestNoopOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")

	n := NewNotifier(testLogger())
	if n.Ready() {
		t.Error("Ready should report not sent without NOTIFY_SOCKET")
	}
	if n.StartWatchdog(context.Background()) {
		t.Error("watchdog should be disabled without WATCHDOG_USEC")
	}
	n.StopWatchdog()
}

func TestNotifyMessages(t *testing.T) {
	msgs := listenNotify(t)
	n := NewNotifier(testLogger())

	if !n.Ready() {
		t.Fatal("Ready not sent")
	}
	expect(t, msgs, "READY=1")

	n.Status("streaming %dx%d", 1920, 1080)
	expect(t, msgs, "STATUS=streaming 1920x1080")

	n.Stopping()
	expect(t, msgs, "STOPPING=1")
}

func TestWatchdogPings(t *testing.T) {
	msgs := listenNotify(t)
	t.Setenv("WATCHDOG_USEC", strconv.Itoa(int((100 * time.Millisecond).Microseconds())))
	t.Setenv("WATCHDOG_PID", strconv.Itoa(os.Getpid()))

	n := NewNotifier(testLogger())
	if !n.StartWatchdog(context.Background()) {
		t.Fatal("watchdog should be enabled")
	}
	if !n.StartWatchdog(context.Background()) {
		t.Error("second start should report the running watchdog")
	}

	select {
	case got := <-msgs:
		if !strings.HasPrefix(got, "WATCHDOG=1") {
			t.Errorf("got %q, want WATCHDOG=1", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no watchdog ping")
	}

	n.StopWatchdog()
	// Drain anything already in flight, then expect silence.
	time.Sleep(20 * time.Millisecond)
	for len(msgs) > 0 {
		<-msgs
	}
	select {
	case got := <-msgs:
		t.Errorf("ping after stop: %q", got)
	case <-time.After(150 * time.Millisecond):
	}
}
