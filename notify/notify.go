package notify

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event is one broadcast destined for a realtime topic.
type Event struct {
	At      time.Time       `json:"at"`
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Notification builds the event the notifications endpoint broadcasts
// on the shared lobby topic.
func Notification(topic, message string) Event {
	payload, _ := json.Marshal(struct {
		Message string `json:"message"`
	}{Message: message})
	return Event{
		At:      time.Now().UTC(),
		Topic:   topic,
		Event:   "new_notification",
		Payload: payload,
	}
}

// Sink receives dispatched events.
type Sink interface {
	Deliver(ctx context.Context, ev Event)
}

// DiscardSink drops events.
type DiscardSink struct{}

func (DiscardSink) Deliver(context.Context, Event) {}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Deliver(ctx context.Context, ev Event) { f(ctx, ev) }

// ChannelSink forwards events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Deliver(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Deliver(_ context.Context, ev Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
