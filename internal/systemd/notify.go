// Package systemd reports service state to systemd through sd_notify.
// Every call is a no-op when the process was not started by systemd.
package systemd

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends READY, STOPPING, STATUS and WATCHDOG messages.
type Notifier struct {
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewNotifier creates a notifier that logs through logger.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{logger: logger}
}

func (n *Notifier) notify(state string) bool {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.logger.Warn("sd_notify failed", "state", state, "error", err)
		return false
	}
	return sent
}

// Ready tells systemd startup finished.
func (n *Notifier) Ready() bool {
	return n.notify(daemon.SdNotifyReady)
}

// Stopping tells systemd shutdown began and stops the watchdog.
func (n *Notifier) Stopping() bool {
	n.StopWatchdog()
	return n.notify(daemon.SdNotifyStopping)
}

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(format string, args ...any) bool {
	return n.notify("STATUS=" + fmt.Sprintf(format, args...))
}

// StartWatchdog pings systemd at half the configured WatchdogSec until ctx
// ends or StopWatchdog is called. It reports whether a watchdog is active.
func (n *Notifier) StartWatchdog(ctx context.Context) bool {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.logger.Warn("Invalid watchdog configuration", "error", err)
		return false
	}
	if interval <= 0 {
		return false
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancel != nil {
		return true
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	n.cancel, n.done = cancel, done

	period := interval / 2
	n.logger.Debug("Watchdog enabled", "interval", interval, "ping", period)

	go func() {
		defer close(done)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n.notify(daemon.SdNotifyWatchdog)
			}
		}
	}()
	return true
}

// StopWatchdog stops the ping loop started by StartWatchdog.
func (n *Notifier) StopWatchdog() {
	n.mu.Lock()
	cancel, done := n.cancel, n.done
	n.cancel, n.done = nil, nil
	n.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
