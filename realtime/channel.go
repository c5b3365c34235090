package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotJoined is the failure sentinel returned by Push when the channel
// is not currently joined. Nothing is queued.
var ErrNotJoined = errors.New("channel not joined")

// ChannelState is the lifecycle state of a topic subscription.
type ChannelState int

const (
	ChannelIdle ChannelState = iota
	ChannelJoining
	ChannelJoined
)

func (s ChannelState) String() string {
	switch s {
	case ChannelJoining:
		return "joining"
	case ChannelJoined:
		return "joined"
	default:
		return "idle"
	}
}

type binding struct {
	id int
	fn func(json.RawMessage)
}

// Channel is one topic subscription on a Manager's connection. Create it
// with [Manager.Channel]; tear it down with Leave; channels are never
// cleaned up implicitly.
type Channel struct {
	topic string
	m     *Manager

	mu       sync.Mutex
	state    ChannelState
	joinRef  string
	params   any
	bindings map[string][]binding
	nextBind int
	rejoin   bool // joined before the connection dropped
	joinDone chan error
	onJoin   func(json.RawMessage)
	onError  func(error)
}

func newChannel(m *Manager, topic string, params any) *Channel {
	return &Channel{
		m:        m,
		topic:    topic,
		params:   params,
		bindings: make(map[string][]binding),
	}
}

// Topic returns the channel's topic string.
func (c *Channel) Topic() string { return c.topic }

// State returns the current lifecycle state.
func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Joined reports whether the subscription handshake has completed.
func (c *Channel) Joined() bool { return c.State() == ChannelJoined }

// OnJoin sets the callback invoked with the server's join response after
// a successful join. Set it before calling Join.
func (c *Channel) OnJoin(fn func(response json.RawMessage)) {
	c.mu.Lock()
	c.onJoin = fn
	c.mu.Unlock()
}

// OnError sets the callback invoked when a join fails or times out.
func (c *Channel) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// Join subscribes to the topic. It waits until the manager reports a
// live connection (or ctx ends), sends the join request, and returns;
// the outcome arrives asynchronously through OnJoin/OnError. Calling
// Join while joining or joined is a no-op, so exactly one join request
// is in flight per topic even when the connected flag flaps.
func (c *Channel) Join(ctx context.Context) error {
	c.mu.Lock()
	if c.state != ChannelIdle {
		c.mu.Unlock()
		return nil
	}
	c.state = ChannelJoining
	ref := c.m.nextRef()
	c.joinRef = ref
	done := make(chan error, 1)
	c.joinDone = done
	c.mu.Unlock()

	select {
	case <-c.m.Ready():
	case <-ctx.Done():
		c.abortJoin(ref, ctx.Err())
		return ctx.Err()
	}

	// A Leave while we were parked waiting for the connection cancels
	// the join; sending now would subscribe a topic nobody is watching.
	c.mu.Lock()
	if c.state != ChannelJoining || c.joinRef != ref {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	payload, err := marshalParams(c.params)
	if err != nil {
		c.abortJoin(ref, err)
		return err
	}

	c.m.expectReply(ref, c.m.cfg.JoinTimeout, func(r Reply) {
		c.handleJoinReply(ref, r)
	})

	msg := Message{JoinRef: ref, Ref: ref, Topic: c.topic, Event: EventJoin, Payload: payload}
	if err := c.m.send(msg); err != nil {
		c.m.dropPending(ref)
		c.abortJoin(ref, err)
		return err
	}
	return nil
}

func (c *Channel) handleJoinReply(ref string, r Reply) {
	c.mu.Lock()
	if c.joinRef != ref || c.state != ChannelJoining {
		// Stale ack: the channel was left or re-joined since this
		// request went out.
		c.mu.Unlock()
		return
	}

	if r.OK() {
		c.state = ChannelJoined
		c.rejoin = true
		onJoin := c.onJoin
		done := c.joinDone
		c.mu.Unlock()

		c.m.log.Info("channel joined", "topic", c.topic)
		if onJoin != nil {
			onJoin(r.Response)
		}
		signal(done, nil)
		return
	}

	c.state = ChannelIdle
	c.joinRef = ""
	onErr := c.onError
	done := c.joinDone
	c.mu.Unlock()

	err := fmt.Errorf("join %s: %s", c.topic, r.Status)
	c.m.log.Warn("channel join failed", "topic", c.topic, "status", r.Status)
	if onErr != nil {
		onErr(err)
	}
	signal(done, err)
}

func (c *Channel) abortJoin(ref string, cause error) {
	c.mu.Lock()
	if c.joinRef != ref || c.state != ChannelJoining {
		c.mu.Unlock()
		return
	}
	c.state = ChannelIdle
	c.joinRef = ""
	done := c.joinDone
	c.mu.Unlock()
	signal(done, cause)
}

// Leave unsubscribes and releases the channel from the manager. Safe to
// call when not joined, and safe to call more than once. Any join ack
// that arrives after Leave is ignored.
func (c *Channel) Leave() {
	c.mu.Lock()
	prev := c.state
	joinRef := c.joinRef
	c.state = ChannelIdle
	c.joinRef = ""
	c.rejoin = false
	done := c.joinDone
	c.joinDone = nil
	c.mu.Unlock()

	c.m.release(c)
	signal(done, ErrNotJoined)

	if prev == ChannelJoined {
		msg := Message{JoinRef: joinRef, Ref: c.m.nextRef(), Topic: c.topic, Event: EventLeave}
		if err := c.m.send(msg); err != nil {
			// Connection already gone; the server reaps the subscription.
			return
		}
		c.m.log.Info("channel left", "topic", c.topic)
	}
}

// On registers a handler for a named event on this topic and returns its
// unsubscribe func. Registration before the channel is joined is fine;
// handlers only fire while joined.
func (c *Channel) On(event string, fn func(payload json.RawMessage)) (off func()) {
	c.mu.Lock()
	id := c.nextBind
	c.nextBind++
	c.bindings[event] = append(c.bindings[event], binding{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		bs := c.bindings[event]
		for i, b := range bs {
			if b.id == id {
				c.bindings[event] = append(bs[:i:i], bs[i+1:]...)
				return
			}
		}
	}
}

// Push sends an application event on the joined channel and returns the
// assigned ref. When not joined it logs a warning and returns
// ErrNotJoined without touching the transport; pushes are never queued.
func (c *Channel) Push(event string, payload any) (string, error) {
	c.mu.Lock()
	if c.state != ChannelJoined {
		c.mu.Unlock()
		c.m.log.Warn("push on unjoined channel", "topic", c.topic, "event", event)
		return "", ErrNotJoined
	}
	joinRef := c.joinRef
	c.mu.Unlock()

	raw, err := marshalParams(payload)
	if err != nil {
		return "", err
	}
	ref := c.m.nextRef()
	msg := Message{JoinRef: joinRef, Ref: ref, Topic: c.topic, Event: event, Payload: raw}
	if err := c.m.send(msg); err != nil {
		return "", err
	}
	return ref, nil
}

func (c *Channel) dispatch(msg Message) {
	switch msg.Event {
	case EventClose, EventError:
		c.mu.Lock()
		if msg.JoinRef != "" && msg.JoinRef != c.joinRef {
			c.mu.Unlock()
			return
		}
		wasJoined := c.state == ChannelJoined
		c.state = ChannelIdle
		c.joinRef = ""
		// phx_error keeps the rejoin mark so the channel re-subscribes;
		// phx_close is a deliberate server-side shutdown of the topic.
		c.rejoin = wasJoined && msg.Event == EventError
		c.mu.Unlock()
		c.m.log.Warn("channel closed by server", "topic", c.topic, "event", msg.Event)
		if c.pendingRejoin() {
			go c.rejoinLoop()
		}
	default:
		c.mu.Lock()
		if c.state != ChannelJoined {
			c.mu.Unlock()
			return
		}
		bs := append([]binding(nil), c.bindings[msg.Event]...)
		c.mu.Unlock()
		for _, b := range bs {
			b.fn(msg.Payload)
		}
	}
}

// handleSocketClose moves a joined channel back to idle when the
// transport drops, keeping the rejoin mark for the next connection.
func (c *Channel) handleSocketClose() {
	c.mu.Lock()
	if c.state == ChannelIdle {
		c.mu.Unlock()
		return
	}
	interrupted := c.state == ChannelJoining
	c.state = ChannelIdle
	c.joinRef = ""
	done := c.joinDone
	c.joinDone = nil
	c.mu.Unlock()

	if interrupted {
		signal(done, ErrNotConnected)
	}
}

func (c *Channel) pendingRejoin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rejoin && c.state == ChannelIdle
}

// rejoinLoop re-subscribes after a reconnect, pacing attempts with the
// manager's rejoin table. It stops once joined, or once the channel is
// left or the connection is deliberately torn down.
func (c *Channel) rejoinLoop() {
	for attempt := 1; ; attempt++ {
		if !c.pendingRejoin() {
			return
		}
		if err := c.joinOnce(); err == nil {
			return
		}
		time.Sleep(c.m.cfg.Rejoin.Delay(attempt))
	}
}

func (c *Channel) joinOnce() error {
	if err := c.Join(context.Background()); err != nil {
		return err
	}
	c.mu.Lock()
	done := c.joinDone
	c.mu.Unlock()
	if done == nil {
		// Join was a no-op: either already joined or already left.
		if c.Joined() {
			return nil
		}
		return ErrNotJoined
	}
	select {
	case err := <-done:
		return err
	case <-time.After(c.m.cfg.JoinTimeout + time.Second):
		return fmt.Errorf("join %s: no reply", c.topic)
	}
}

func signal(ch chan error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

func marshalParams(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("{}"), nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return raw, nil
}
