package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastJoinRef(c *fakeConn) string {
	msgs := c.sentMessages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Event == EventJoin {
			return msgs[i].Ref
		}
	}
	return ""
}

// ackJoin replies ok to the most recent join request on the connection.
func ackJoin(t *testing.T, c *fakeConn, topic string) {
	t.Helper()
	ref := lastJoinRef(c)
	require.NotEmpty(t, ref, "no join request on the wire")
	c.serve(Message{
		JoinRef: ref,
		Ref:     ref,
		Topic:   topic,
		Event:   EventReply,
		Payload: json.RawMessage(`{"status":"ok","response":{}}`),
	})
}

func TestJoinSuccess(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(t, d)
	require.NoError(t, m.Connect())

	ch := m.Channel("user:lobby", nil)
	var joined atomic.Bool
	ch.OnJoin(func(json.RawMessage) { joined.Store(true) })

	require.NoError(t, ch.Join(context.Background()))
	assert.Equal(t, ChannelJoining, ch.State())
	assert.Equal(t, 1, d.last().sentCount(EventJoin))

	ackJoin(t, d.last(), "user:lobby")
	require.Eventually(t, func() bool { return ch.Joined() }, time.Second, 2*time.Millisecond)
	assert.True(t, joined.Load())
}

func TestJoinWaitsForConnection(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(t, d)
	ch := m.Channel("user:lobby", nil)

	joinReturned := make(chan error, 1)
	go func() { joinReturned <- ch.Join(context.Background()) }()

	// Not connected yet: the join request must not be sent.
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, d.dialCount())

	require.NoError(t, m.Connect())
	require.NoError(t, <-joinReturned)
	assert.Equal(t, 1, d.last().sentCount(EventJoin))
}

func TestLeaveWhileJoinWaitsForConnection(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(t, d)
	ch := m.Channel("user:lobby", nil)

	joinReturned := make(chan error, 1)
	go func() { joinReturned <- ch.Join(context.Background()) }()

	// Give up on the topic while the join is parked waiting for the
	// connection. Once the socket comes up, no join may go out.
	time.Sleep(10 * time.Millisecond)
	ch.Leave()

	require.NoError(t, m.Connect())
	require.NoError(t, <-joinReturned)
	assert.Zero(t, d.last().sentCount(EventJoin), "cancelled join must not subscribe the topic")
	assert.Equal(t, ChannelIdle, ch.State())
}

func TestJoinIdempotent(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(t, d)
	require.NoError(t, m.Connect())

	ch := m.Channel("user:lobby", nil)
	require.NoError(t, ch.Join(context.Background()))
	require.NoError(t, ch.Join(context.Background())) // joining: no-op
	assert.Equal(t, 1, d.last().sentCount(EventJoin))

	ackJoin(t, d.last(), "user:lobby")
	require.Eventually(t, func() bool { return ch.Joined() }, time.Second, 2*time.Millisecond)

	require.NoError(t, ch.Join(context.Background())) // joined: no-op
	assert.Equal(t, 1, d.last().sentCount(EventJoin))
}

func TestStaleJoinAckAfterLeave(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(t, d)
	require.NoError(t, m.Connect())

	ch := m.Channel("user:lobby", nil)
	var joined atomic.Bool
	ch.OnJoin(func(json.RawMessage) { joined.Store(true) })

	require.NoError(t, ch.Join(context.Background()))
	ref := lastJoinRef(d.last())

	// Torn down before the acknowledgement arrives.
	ch.Leave()
	assert.Equal(t, ChannelIdle, ch.State())

	d.last().serve(Message{
		JoinRef: ref, Ref: ref, Topic: "user:lobby", Event: EventReply,
		Payload: json.RawMessage(`{"status":"ok","response":{}}`),
	})

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, ChannelIdle, ch.State(), "late ack must not resurrect the subscription")
	assert.False(t, joined.Load())
}

func TestLeaveIdempotentAndSendsOnce(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(t, d)
	require.NoError(t, m.Connect())

	ch := m.Channel("user:lobby", nil)
	require.NoError(t, ch.Join(context.Background()))
	ackJoin(t, d.last(), "user:lobby")
	require.Eventually(t, func() bool { return ch.Joined() }, time.Second, 2*time.Millisecond)

	ch.Leave()
	ch.Leave()
	assert.Equal(t, 1, d.last().sentCount(EventLeave))
	assert.Equal(t, ChannelIdle, ch.State())
}

func TestLeaveWhenNeverJoined(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(t, d)
	require.NoError(t, m.Connect())

	ch := m.Channel("user:lobby", nil)
	ch.Leave() // must not panic or write anything
	assert.Zero(t, d.last().sentCount(EventLeave))
}

func TestPushGuard(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(t, d)
	require.NoError(t, m.Connect())

	ch := m.Channel("user:lobby", nil)
	ref, err := ch.Push("shout", map[string]string{"message": "hi"})
	assert.ErrorIs(t, err, ErrNotJoined)
	assert.Empty(t, ref)
	assert.Zero(t, d.last().sentCount("shout"), "push must not touch the transport when not joined")
}

func TestPushWhenJoined(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(t, d)
	require.NoError(t, m.Connect())

	ch := m.Channel("user:lobby", nil)
	require.NoError(t, ch.Join(context.Background()))
	ackJoin(t, d.last(), "user:lobby")
	require.Eventually(t, func() bool { return ch.Joined() }, time.Second, 2*time.Millisecond)

	ref, err := ch.Push("shout", map[string]string{"message": "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, ref)

	msgs := d.last().sentMessages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, "shout", last.Event)
	assert.Equal(t, ref, last.Ref)
	assert.NotEmpty(t, last.JoinRef)
}

func TestOnRegistersBeforeJoinAndUnsubscribes(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(t, d)
	require.NoError(t, m.Connect())

	ch := m.Channel("user:lobby", nil)

	var count atomic.Int32
	off := ch.On("new_notification", func(json.RawMessage) { count.Add(1) })

	// Events before the join completes are dropped.
	d.last().serve(Message{Topic: "user:lobby", Event: "new_notification", Payload: json.RawMessage(`{"message":"early"}`)})
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, count.Load())

	require.NoError(t, ch.Join(context.Background()))
	ackJoin(t, d.last(), "user:lobby")
	require.Eventually(t, func() bool { return ch.Joined() }, time.Second, 2*time.Millisecond)

	d.last().serve(Message{Topic: "user:lobby", Event: "new_notification", Payload: json.RawMessage(`{"message":"hi"}`)})
	require.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, 2*time.Millisecond)

	off()
	off() // idempotent
	d.last().serve(Message{Topic: "user:lobby", Event: "new_notification", Payload: json.RawMessage(`{"message":"bye"}`)})
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
}

func TestJoinErrorReply(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(t, d)
	require.NoError(t, m.Connect())

	ch := m.Channel("admin:events", nil)
	errs := make(chan error, 1)
	ch.OnError(func(err error) { errs <- err })

	require.NoError(t, ch.Join(context.Background()))
	ref := lastJoinRef(d.last())
	d.last().serve(Message{
		JoinRef: ref, Ref: ref, Topic: "admin:events", Event: EventReply,
		Payload: json.RawMessage(`{"status":"error","response":{"reason":"unauthorized"}}`),
	})

	select {
	case err := <-errs:
		assert.ErrorContains(t, err, "error")
	case <-time.After(time.Second):
		t.Fatal("join error callback not invoked")
	}
	assert.Equal(t, ChannelIdle, ch.State())
}

func TestJoinTimeout(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(t, d)
	require.NoError(t, m.Connect())

	ch := m.Channel("user:lobby", nil)
	errs := make(chan error, 1)
	ch.OnError(func(err error) { errs <- err })

	require.NoError(t, ch.Join(context.Background()))

	select {
	case err := <-errs:
		assert.ErrorContains(t, err, "timeout")
	case <-time.After(time.Second):
		t.Fatal("join timeout not reported")
	}
	assert.Equal(t, ChannelIdle, ch.State())
}

func TestRejoinAfterReconnect(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(t, d)
	require.NoError(t, m.Connect())

	ch := m.Channel("user:lobby", nil)
	require.NoError(t, ch.Join(context.Background()))
	ackJoin(t, d.last(), "user:lobby")
	require.Eventually(t, func() bool { return ch.Joined() }, time.Second, 2*time.Millisecond)

	first := d.last()
	first.Close()

	// The manager redials and the channel re-subscribes on the new
	// connection.
	require.Eventually(t, func() bool {
		c := d.last()
		return c != first && c.sentCount(EventJoin) == 1
	}, time.Second, 5*time.Millisecond)

	ackJoin(t, d.last(), "user:lobby")
	require.Eventually(t, func() bool { return ch.Joined() }, time.Second, 2*time.Millisecond)
}

func TestChannelRegistryOnePerTopic(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(t, d)

	a := m.Channel("user:lobby", nil)
	b := m.Channel("user:lobby", nil)
	assert.Same(t, a, b)

	a.Leave()
	c := m.Channel("user:lobby", nil)
	assert.NotSame(t, a, c, "a left channel is released from the registry")
}

func TestJoinCancelledContext(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(t, d)
	ch := m.Channel("user:lobby", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ch.Join(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, ChannelIdle, ch.State())
}
