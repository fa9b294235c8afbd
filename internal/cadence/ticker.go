// Package cadence runs periodic work on absolute deadlines.
package cadence

import (
	"context"
	"sync/atomic"
	"time"
)

// Ticker schedules ticks at fixed absolute deadlines (start + n*interval).
// Processing time inside a tick does not shift later ticks. When a tick
// overruns one or more deadlines, the missed ones are skipped rather than
// fired back to back.
type Ticker struct {
	interval atomic.Int64 // nanoseconds
	next     time.Time
	skipped  uint64
	now      func() time.Time
}

// New creates a ticker with the given interval. The first tick is due
// immediately.
func New(interval time.Duration) *Ticker {
	t := &Ticker{now: time.Now}
	t.SetInterval(interval)
	return t
}

// FromRate creates a ticker firing rate times per second.
func FromRate(rate int) *Ticker {
	return New(Interval(rate))
}

// Interval converts a per-second rate to a tick interval.
func Interval(rate int) time.Duration {
	if rate <= 0 {
		rate = 1
	}
	return time.Second / time.Duration(rate)
}

// SetInterval changes the interval starting from the next deadline. Safe to
// call from another goroutine.
func (t *Ticker) SetInterval(d time.Duration) {
	if d <= 0 {
		d = time.Millisecond
	}
	t.interval.Store(int64(d))
}

// SetRate is SetInterval expressed in ticks per second.
func (t *Ticker) SetRate(rate int) {
	t.SetInterval(Interval(rate))
}

// Current returns the active interval.
func (t *Ticker) Current() time.Duration {
	return time.Duration(t.interval.Load())
}

// Skipped returns how many deadlines were dropped due to overruns.
func (t *Ticker) Skipped() uint64 {
	return t.skipped
}

// Wait blocks until the next deadline or until ctx is done. It returns
// false when ctx ended first. Wait is meant to be called from a single
// goroutine.
func (t *Ticker) Wait(ctx context.Context) bool {
	now := t.now()
	if t.next.IsZero() {
		t.next = now
	}

	if d := t.next.Sub(now); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	} else if ctx.Err() != nil {
		return false
	}

	t.advance()
	return true
}

// advance moves next past the current time, counting any deadlines that
// were missed.
func (t *Ticker) advance() {
	interval := time.Duration(t.interval.Load())
	t.next = t.next.Add(interval)
	now := t.now()
	if behind := now.Sub(t.next); behind >= 0 {
		missed := int64(behind/interval) + 1
		t.skipped += uint64(missed)
		t.next = t.next.Add(time.Duration(missed) * interval)
	}
}
