// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from the gateway handlers and the process
// supervisor to subscribers (the WebSocket event stream, the MQTT
// announcer). The bus is nil-safe: calling Publish on a nil *Bus is a
// no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceGateway identifies events from the HTTP gateway handlers.
	SourceGateway = "gateway"
	// SourceSupervisor identifies events from the process supervisor.
	SourceSupervisor = "supervisor"
)

// Kind constants describe the type of event within a source.
const (
	// KindChatTurn signals a completed chat turn.
	// Data: message_len, reply_len.
	KindChatTurn = "chat_turn"
	// KindSynthesis signals a speech synthesis pass-through.
	// Data: text_len.
	KindSynthesis = "synthesis"
	// KindRecognition signals a speech recognition upload.
	// Data: upload_bytes.
	KindRecognition = "recognition"

	// KindServiceProbe signals a port probe result for a service.
	// Data: service, port, occupied.
	KindServiceProbe = "service_probe"
	// KindServiceReap signals an attempt to free a service's port.
	// Data: service, port.
	KindServiceReap = "service_reap"
	// KindServiceSpawn signals a service process was launched.
	// Data: service, port, pid.
	KindServiceSpawn = "service_spawn"
	// KindServiceExit signals a service process terminated.
	// Data: service, exit_code.
	KindServiceExit = "service_exit"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs, so Unsubscribe
	// can accept the caller's <-chan Event view.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
