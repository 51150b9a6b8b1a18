package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxroad/internal/resilience"
)

func TestHubPublishSubscribe(t *testing.T) {
	hub := NewHub()

	events, cancel := hub.Subscribe("s1")
	defer cancel()
	other, cancelOther := hub.Subscribe("s2")
	defer cancelOther()

	hub.Publish(Event{SessionID: "s1", State: "LISTENING"})

	select {
	case ev := <-events:
		if ev.State != "LISTENING" {
			t.Errorf("state = %q", ev.State)
		}
		if ev.Timestamp.IsZero() {
			t.Error("timestamp not filled in")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case ev := <-other:
		t.Fatalf("s2 subscriber received event for s1: %+v", ev)
	default:
	}
}

func TestHubCancelIsIdempotent(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe("s1")
	cancel()
	cancel()

	// Publishing after cancel must not panic on the closed channel.
	hub.Publish(Event{SessionID: "s1", State: "IDLE"})
}

func TestEventFeedRoundTrip(t *testing.T) {
	env := newTestEnv(t, resilience.Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + env.srv.URL[len("http"):]

	watcher, _, err := websocket.Dial(ctx, wsURL+"/v1/events?session_id=s1&role=watch", nil)
	if err != nil {
		t.Fatalf("dial watcher: %v", err)
	}
	defer watcher.Close(websocket.StatusNormalClosure, "done")

	emitter, err := DialEmitter(ctx, env.srv.URL, "s1")
	if err != nil {
		t.Fatalf("DialEmitter: %v", err)
	}
	defer emitter.Close()

	// The watcher may not be registered in the hub yet; retry the emit until
	// the event arrives or the deadline fires.
	got := make(chan Event, 1)
	go func() {
		var ev Event
		if err := wsjson.Read(ctx, watcher, &ev); err == nil {
			got <- ev
		}
	}()

	deadline := time.After(4 * time.Second)
	for {
		if err := emitter.Emit(ctx, "THINKING", "awaiting reply"); err != nil {
			t.Fatalf("Emit: %v", err)
		}
		select {
		case ev := <-got:
			if ev.State != "THINKING" {
				t.Errorf("state = %q", ev.State)
			}
			if ev.SessionID != "s1" {
				t.Errorf("session = %q", ev.SessionID)
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for event round trip")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestEventFeedRejectsBadRole(t *testing.T) {
	env := newTestEnv(t, resilience.Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	wsURL := "ws" + env.srv.URL[len("http"):]
	_, _, err := websocket.Dial(ctx, wsURL+"/v1/events?session_id=s1&role=spectate", nil)
	if err == nil {
		t.Fatal("expected dial to fail for invalid role")
	}
}
