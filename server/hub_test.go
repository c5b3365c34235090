package server

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rephi/rephi-go/notify"
	"github.com/rephi/rephi-go/realtime"
)

type recordingSubscriber struct {
	mu     sync.Mutex
	frames []realtime.Message
}

func (r *recordingSubscriber) sendFrame(msg realtime.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, msg)
}

func (r *recordingSubscriber) all() []realtime.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]realtime.Message(nil), r.frames...)
}

func TestHubBroadcastReachesTopicSubscribers(t *testing.T) {
	hub := NewHub(nil)
	lobby := &recordingSubscriber{}
	other := &recordingSubscriber{}
	hub.subscribe("user:lobby", lobby)
	hub.subscribe("user:7", other)

	hub.Broadcast("user:lobby", "new_notification", json.RawMessage(`{"message":"hi"}`))

	frames := lobby.all()
	require.Len(t, frames, 1)
	assert.Equal(t, "user:lobby", frames[0].Topic)
	assert.Equal(t, "new_notification", frames[0].Event)
	assert.JSONEq(t, `{"message":"hi"}`, string(frames[0].Payload))
	assert.Empty(t, other.all())
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub(nil)
	sub := &recordingSubscriber{}
	hub.subscribe("user:lobby", sub)
	require.Equal(t, 1, hub.subscriberCount("user:lobby"))

	hub.unsubscribe("user:lobby", sub)
	assert.Equal(t, 0, hub.subscriberCount("user:lobby"))

	hub.Broadcast("user:lobby", "new_notification", nil)
	assert.Empty(t, sub.all())
}

func TestHubUnsubscribeAll(t *testing.T) {
	hub := NewHub(nil)
	sub := &recordingSubscriber{}
	hub.subscribe("user:lobby", sub)
	hub.subscribe("user:1", sub)

	hub.unsubscribeAll(sub)
	assert.Equal(t, 0, hub.subscriberCount("user:lobby"))
	assert.Equal(t, 0, hub.subscriberCount("user:1"))
}

func TestHubSinkDeliversDispatcherEvents(t *testing.T) {
	hub := NewHub(nil)
	sub := &recordingSubscriber{}
	hub.subscribe("user:lobby", sub)

	d := notify.NewDispatcher(notify.Config{BufferSize: 4}, hub.Sink())
	d.Publish(context.Background(), notify.Notification("user:lobby", "deploy done"))
	d.Close()

	require.Eventually(t, func() bool { return len(sub.all()) == 1 }, time.Second, 10*time.Millisecond)
	frame := sub.all()[0]
	assert.Equal(t, "new_notification", frame.Event)
	assert.JSONEq(t, `{"message":"deploy done"}`, string(frame.Payload))
}
