package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/rephi/rephi-go/notify"
	"github.com/rephi/rephi-go/realtime"
)

// subscriber receives broadcast frames for the topics it joined.
// sendFrame must not block indefinitely; slow clients get dropped by
// their own write deadline, not by the hub.
type subscriber interface {
	sendFrame(msg realtime.Message)
}

// Hub is the topic fan-out registry for connected socket clients.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[subscriber]struct{}
	log    *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		topics: make(map[string]map[subscriber]struct{}),
		log:    logger,
	}
}

func (h *Hub) subscribe(topic string, s subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.topics[topic]
	if subs == nil {
		subs = make(map[subscriber]struct{})
		h.topics[topic] = subs
	}
	subs[s] = struct{}{}
}

func (h *Hub) unsubscribe(topic string, s subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.topics[topic]
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}

// unsubscribeAll removes the subscriber from every topic, used when its
// connection closes.
func (h *Hub) unsubscribeAll(s subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, subs := range h.topics {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Broadcast pushes an event frame to every current subscriber of the
// topic.
func (h *Hub) Broadcast(topic, event string, payload json.RawMessage) {
	msg := realtime.Message{Topic: topic, Event: event, Payload: payload}

	h.mu.RLock()
	targets := make([]subscriber, 0, len(h.topics[topic]))
	for s := range h.topics[topic] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.sendFrame(msg)
	}
	h.log.Debug("broadcast", "topic", topic, "event", event, "subscribers", len(targets))
}

// subscriberCount is used by tests and metrics.
func (h *Hub) subscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Sink adapts the hub to notify.Sink so a Dispatcher can feed it.
func (h *Hub) Sink() notify.Sink {
	return notify.SinkFunc(func(_ context.Context, ev notify.Event) {
		h.Broadcast(ev.Topic, ev.Event, ev.Payload)
	})
}
