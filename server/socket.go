package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/rephi/rephi-go/rbac"
	"github.com/rephi/rephi-go/realtime"
)

const socketWriteTimeout = 10 * time.Second

// socketClient is one connected websocket peer.
type socketClient struct {
	conn *websocket.Conn
	user *rbac.User
	srv  *Server

	mu     sync.Mutex
	topics map[string]bool
}

// handleSocket upgrades the connection after verifying the token query
// parameter and then speaks the channel protocol until the peer goes
// away.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}
	user, _, err := s.authenticate(r.Context(), token)
	if err != nil {
		s.log.Debug("socket token rejected", "error", err)
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The dashboard runs on its own origin during development.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn("socket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(1 << 20)

	client := &socketClient{
		conn:   conn,
		user:   user,
		srv:    s,
		topics: make(map[string]bool),
	}
	if s.metrics != nil {
		s.metrics.sockets.Inc()
	}
	s.log.Info("socket connected", "user", user.ID)

	client.readLoop(r.Context())

	s.hub.unsubscribeAll(client)
	if s.metrics != nil {
		s.metrics.sockets.Dec()
	}
	conn.Close(websocket.StatusNormalClosure, "")
	s.log.Info("socket disconnected", "user", user.ID)
}

func (c *socketClient) readLoop(ctx context.Context) {
	for {
		var msg realtime.Message
		if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
			return
		}
		c.handleMessage(ctx, msg)
	}
}

func (c *socketClient) handleMessage(ctx context.Context, msg realtime.Message) {
	switch {
	case msg.Topic == realtime.HeartbeatTopic:
		c.replyOK(msg)
	case msg.Event == realtime.EventJoin:
		c.handleJoin(msg)
	case msg.Event == realtime.EventLeave:
		c.handleLeave(msg)
	default:
		c.handlePush(msg)
	}
}

func (c *socketClient) handleJoin(msg realtime.Message) {
	if err := c.authorizeTopic(msg.Topic); err != nil {
		c.srv.log.Warn("join rejected", "user", c.user.ID, "topic", msg.Topic, "reason", err)
		if c.srv.metrics != nil {
			c.srv.metrics.joins.WithLabelValues("rejected").Inc()
		}
		c.replyError(msg, err.Error())
		return
	}

	c.mu.Lock()
	c.topics[msg.Topic] = true
	c.mu.Unlock()
	c.srv.hub.subscribe(msg.Topic, c)

	if c.srv.metrics != nil {
		c.srv.metrics.joins.WithLabelValues("ok").Inc()
	}
	c.srv.log.Info("channel joined", "user", c.user.ID, "topic", msg.Topic)
	c.replyOK(msg)
}

func (c *socketClient) handleLeave(msg realtime.Message) {
	c.mu.Lock()
	delete(c.topics, msg.Topic)
	c.mu.Unlock()
	c.srv.hub.unsubscribe(msg.Topic, c)
	c.replyOK(msg)
}

// handlePush re-broadcasts an application event to the topic's other
// subscribers, the shout pattern. Pushes to topics the client has not
// joined are dropped.
func (c *socketClient) handlePush(msg realtime.Message) {
	c.mu.Lock()
	joined := c.topics[msg.Topic]
	c.mu.Unlock()
	if !joined {
		c.replyError(msg, "not joined")
		return
	}
	c.srv.hub.Broadcast(msg.Topic, msg.Event, msg.Payload)
	c.replyOK(msg)
}

// authorizeTopic decides whether the user may join. The shared lobby is
// open to every authenticated user; "user:<id>" is private to its
// owner; "admin:" topics require the admin role.
func (c *socketClient) authorizeTopic(topic string) error {
	switch {
	case topic == LobbyTopic:
		return nil
	case strings.HasPrefix(topic, "user:"):
		id, err := strconv.ParseInt(strings.TrimPrefix(topic, "user:"), 10, 64)
		if err != nil || id != c.user.ID {
			return errors.New("unauthorized")
		}
		return nil
	case strings.HasPrefix(topic, "admin:"):
		if !rbac.IsAdmin(c.user) {
			return errors.New("unauthorized")
		}
		return nil
	default:
		return errors.New("unknown topic")
	}
}

func (c *socketClient) replyOK(msg realtime.Message) {
	c.reply(msg, `{"status":"ok","response":{}}`)
}

func (c *socketClient) replyError(msg realtime.Message, reason string) {
	payload, _ := json.Marshal(map[string]any{
		"status":   "error",
		"response": map[string]string{"reason": reason},
	})
	c.reply(msg, string(payload))
}

func (c *socketClient) reply(msg realtime.Message, payload string) {
	c.sendFrame(realtime.Message{
		JoinRef: msg.JoinRef,
		Ref:     msg.Ref,
		Topic:   msg.Topic,
		Event:   realtime.EventReply,
		Payload: json.RawMessage(payload),
	})
}

// sendFrame implements subscriber. Writes are serialized per
// connection and bounded by the write timeout so one dead peer cannot
// wedge a broadcast.
func (c *socketClient) sendFrame(msg realtime.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), socketWriteTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, c.conn, msg); err != nil {
		c.srv.log.Debug("socket write failed", "user", c.user.ID, "error", err)
	}
}
