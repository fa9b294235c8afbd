package cadence

import (
	"context"
	"testing"
	"time"
)

func TestIntervalFromRate(t *testing.T) {
	tests := []struct {
		rate int
		want time.Duration
	}{
		{30, time.Second / 30},
		{1, time.Second},
		{0, time.Second},
		{-5, time.Second},
		{1000, time.Millisecond},
	}
	for _, tt := range tests {
		if got := Interval(tt.rate); got != tt.want {
			t.Errorf("Interval(%d) = %v, want %v", tt.rate, got, tt.want)
		}
	}
}

func TestTickerDoesNotDrift(t *testing.T) {
	const (
		interval = 10 * time.Millisecond
		ticks    = 20
	)
	tk := New(interval)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < ticks; i++ {
		if !tk.Wait(ctx) {
			t.Fatal("unexpected cancellation")
		}
		// simulated work shorter than the interval
		time.Sleep(3 * time.Millisecond)
	}
	elapsed := time.Since(start)

	// first tick fires immediately, so ticks-1 intervals plus the last work
	ideal := time.Duration(ticks-1)*interval + 3*time.Millisecond
	if elapsed > ideal+40*time.Millisecond {
		t.Errorf("elapsed %v, expected close to %v (fixed sleeps would take ~%v)",
			elapsed, ideal, time.Duration(ticks)*(interval+3*time.Millisecond))
	}
}

func TestTickerSkipsMissedDeadlines(t *testing.T) {
	base := time.Unix(1000, 0)
	now := base
	tk := New(10 * time.Millisecond)
	tk.now = func() time.Time { return now }

	ctx := context.Background()
	if !tk.Wait(ctx) { // fires at base
		t.Fatal("first wait failed")
	}

	// the tick body overran to +35ms: the late tick serves +10 and the
	// deadlines at +20 and +30 are dropped
	now = base.Add(35 * time.Millisecond)
	if !tk.Wait(ctx) {
		t.Fatal("overdue wait should return immediately")
	}
	if tk.Skipped() != 2 {
		t.Errorf("Skipped() = %d, want 2", tk.Skipped())
	}
	if want := base.Add(40 * time.Millisecond); !tk.next.Equal(want) {
		t.Errorf("next = %v, want %v", tk.next.Sub(base), want.Sub(base))
	}
}

func TestTickerWaitCancelled(t *testing.T) {
	tk := New(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	if !tk.Wait(ctx) {
		t.Fatal("first tick should fire immediately")
	}

	done := make(chan bool, 1)
	go func() { done <- tk.Wait(ctx) }()
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Error("Wait should report cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after cancel")
	}
}

func TestTickerSetRate(t *testing.T) {
	tk := FromRate(30)
	tk.SetRate(60)
	if tk.Current() != time.Second/60 {
		t.Errorf("Current() = %v, want %v", tk.Current(), time.Second/60)
	}
	tk.SetInterval(0)
	if tk.Current() <= 0 {
		t.Error("interval must stay positive")
	}
}
