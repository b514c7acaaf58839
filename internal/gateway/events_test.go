package gateway

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxhaus/voxd/internal/events"
)

func TestEvents_RelaysBusEvents(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.srv.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Subscription happens inside the handler goroutine; give it a
	// moment before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for env.srv.bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed to the bus")
		}
		time.Sleep(5 * time.Millisecond)
	}

	env.srv.bus.Publish(events.Event{
		Source: events.SourceGateway,
		Kind:   events.KindChatTurn,
		Data:   map[string]any{"message_len": 5},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got events.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Source != events.SourceGateway || got.Kind != events.KindChatTurn {
		t.Errorf("event = %+v", got)
	}
}

func TestEvents_UnsubscribesOnDisconnect(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.srv.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.srv.bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed to the bus")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for env.srv.bus.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler never unsubscribed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
