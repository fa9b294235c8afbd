package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/deskstream/internal/stats"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan SessionStateChangedEvent, 1)

	unsub := bus.Subscribe(func(e SessionStateChangedEvent) {
		received <- e
	})
	defer unsub()

	event := SessionStateChangedEvent{
		State:     "streaming",
		Previous:  "ready",
		Timestamp: "2025-01-27T10:30:00Z",
	}
	bus.Publish(event)

	select {
	case got := <-received:
		if got != event {
			t.Errorf("Expected %+v, got %+v", event, got)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := New()
	received1 := make(chan ConnectionStateChangedEvent, 1)
	received2 := make(chan ConnectionStateChangedEvent, 1)

	unsub1 := bus.Subscribe(func(e ConnectionStateChangedEvent) {
		received1 <- e
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(e ConnectionStateChangedEvent) {
		received2 <- e
	})
	defer unsub2()

	bus.Publish(ConnectionStateChangedEvent{State: "connected", Connected: true})

	for _, ch := range []chan ConnectionStateChangedEvent{received1, received2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("Subscriber did not receive event")
		}
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan KeyframeRequestedEvent, 1)

	unsub := bus.Subscribe(func(e KeyframeRequestedEvent) {
		received <- e
	})

	bus.Publish(KeyframeRequestedEvent{Delivered: true})
	<-received

	unsub()

	bus.Publish(KeyframeRequestedEvent{Delivered: false})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()
	params := make(chan StreamingParametersChangedEvent, 1)
	stateChanges := make(chan SessionStateChangedEvent, 1)

	unsub1 := bus.Subscribe(func(e StreamingParametersChangedEvent) { params <- e })
	defer unsub1()
	unsub2 := bus.Subscribe(func(e SessionStateChangedEvent) { stateChanges <- e })
	defer unsub2()

	bus.Publish(StreamingParametersChangedEvent{FPS: 60, Bitrate: 2_000_000, Quality: 70})

	select {
	case e := <-params:
		if e.FPS != 60 || e.Bitrate != 2_000_000 || e.Quality != 70 {
			t.Errorf("unexpected event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for parameters event")
	}

	select {
	case e := <-stateChanges:
		t.Fatalf("State subscriber received wrong event type: %+v", e)
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_UnknownHandler(_ *testing.T) {
	bus := New()
	unsub := bus.Subscribe(func(string) {})
	unsub()
}

func TestBus_ThreadSafety(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup

	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub := bus.Subscribe(func(e StatsReportEvent) {})
			defer unsub()
			for range 100 {
				bus.Publish(StatsReportEvent{State: "streaming"})
			}
		}()
	}

	wg.Wait()
}

func TestEventJSONSerialization(t *testing.T) {
	tests := []struct {
		name  string
		event any
		keys  []string
	}{
		{
			"SessionStateChangedEvent",
			SessionStateChangedEvent{State: "failed", Previous: "initializing", Error: "no display"},
			[]string{"state", "previous", "error", "timestamp"},
		},
		{
			"StatsReportEvent",
			StatsReportEvent{State: "streaming", Stats: stats.Snapshot{Capture: stats.CaptureStats{Frames: 3}}},
			[]string{"state", "stats", "timestamp"},
		},
		{
			"StreamingParametersChangedEvent",
			StreamingParametersChangedEvent{FPS: 30, Bitrate: 5_000_000, Quality: 80},
			[]string{"fps", "bitrate", "quality"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("Failed to marshal: %v", err)
			}

			var result map[string]any
			if unmarshalErr := json.Unmarshal(data, &result); unmarshalErr != nil {
				t.Fatalf("Failed to unmarshal: %v", unmarshalErr)
			}
			for _, key := range tt.keys {
				if _, ok := result[key]; !ok {
					t.Errorf("missing key %q in %s", key, data)
				}
			}
		})
	}
}

func TestSubscribeToChannel(t *testing.T) {
	bus := New()
	ch := make(chan any, 10)

	unsub := SubscribeToChannel[SessionStateChangedEvent](bus, ch)
	defer unsub()

	bus.Publish(SessionStateChangedEvent{State: "ready"})

	select {
	case received := <-ch:
		e, ok := received.(SessionStateChangedEvent)
		if !ok {
			t.Fatalf("Expected SessionStateChangedEvent, got %T", received)
		}
		if e.State != "ready" {
			t.Errorf("Expected state ready, got %s", e.State)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
	}
}

func TestSubscribeToChannel_NonBlocking(_ *testing.T) {
	bus := New()
	ch := make(chan any) // No buffer

	unsub := SubscribeToChannel[ConnectionStateChangedEvent](bus, ch)
	defer unsub()

	done := make(chan bool, 1)
	go func() {
		bus.Publish(ConnectionStateChangedEvent{State: "connected"})
		done <- true
	}()

	<-done // Should complete without blocking
}

func TestSubscribeToChannelCountsDrops(t *testing.T) {
	bus := New()
	ch := make(chan any) // nobody reads

	unsub := SubscribeToChannel[KeyframeRequestedEvent](bus, ch)
	defer unsub()

	for range 3 {
		bus.Publish(KeyframeRequestedEvent{})
	}

	deadline := time.After(time.Second)
	for bus.Dropped() < 3 {
		select {
		case <-deadline:
			t.Fatalf("Dropped = %d, want 3", bus.Dropped())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestOnAndEmit(t *testing.T) {
	bus := New()
	got := make(chan StatsReportEvent, 1)

	unsub := On(bus, func(e StatsReportEvent) { got <- e })
	defer unsub()

	Emit(bus, StatsReportEvent{State: "streaming"})

	select {
	case e := <-got:
		if e.State != "streaming" {
			t.Errorf("State = %q", e.State)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
	}
}
