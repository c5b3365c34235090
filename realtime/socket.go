package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNotConnected is returned when an operation needs a live connection
// and none could be established.
var ErrNotConnected = errors.New("socket not connected")

// TokenSource supplies the bearer token the connection authenticates
// with. *session.Store satisfies it.
type TokenSource interface {
	Token() string
}

// TokenFunc adapts a plain function to a TokenSource.
type TokenFunc func() string

// Token implements TokenSource.
func (f TokenFunc) Token() string { return f() }

// Conn is one live transport connection carrying protocol frames.
type Conn interface {
	ReadMsg(ctx context.Context) (Message, error)
	WriteMsg(ctx context.Context, m Message) error
	Close() error
}

// Dialer opens a transport connection to the given URL.
type Dialer func(ctx context.Context, rawURL string) (Conn, error)

// Config parameterizes a Manager. Zero values take defaults.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://localhost:4000/socket/websocket.
	URL string

	// Reconnect and Rejoin are the backoff schedules for transport
	// reconnection and channel re-subscription.
	Reconnect Table
	Rejoin    Table

	HeartbeatInterval time.Duration
	JoinTimeout       time.Duration
	DialTimeout       time.Duration
	WriteTimeout      time.Duration

	Logger *slog.Logger

	// Dial is injectable for tests; defaults to the websocket dialer.
	Dial Dialer
}

func (c *Config) normalize() {
	if c.Reconnect == nil {
		c.Reconnect = DefaultReconnect
	}
	if c.Rejoin == nil {
		c.Rejoin = DefaultRejoin
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 10 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Dial == nil {
		c.Dial = DialWebsocket
	}
}

// Manager owns at most one live connection. It is the single owner of
// all transport mutation; channels and other readers only observe.
type Manager struct {
	cfg    Config
	tokens TokenSource
	log    *slog.Logger
	refs   atomic.Uint64

	mu        sync.Mutex
	conn      Conn
	connected bool
	dialing   bool
	manual    bool // Disconnect was called; suppress auto-reconnect
	gen       uint64
	ready     chan struct{}
	channels  map[string]*Channel
	pending   map[string]*pendingReply
}

type pendingReply struct {
	fn    func(Reply)
	timer *time.Timer
}

// NewManager creates a Manager. tokens may be nil for unauthenticated
// endpoints.
func NewManager(cfg Config, tokens TokenSource) *Manager {
	cfg.normalize()
	return &Manager{
		cfg:      cfg,
		tokens:   tokens,
		log:      cfg.Logger,
		ready:    make(chan struct{}),
		channels: make(map[string]*Channel),
		pending:  make(map[string]*pendingReply),
	}
}

// Connect establishes the connection if none is live. Calling it while
// already connected (or while a dial is in flight) is a no-op, so
// redundant lifecycle calls never create a second connection. The error
// is also observable as Connected() staying false; callers that treat
// connection failure as non-fatal may ignore it.
func (m *Manager) Connect() error {
	m.mu.Lock()
	if m.connected && m.conn != nil {
		m.mu.Unlock()
		return nil
	}
	if m.dialing {
		m.mu.Unlock()
		return nil
	}
	m.dialing = true
	m.manual = false
	m.mu.Unlock()

	err := m.dial()

	m.mu.Lock()
	m.dialing = false
	m.mu.Unlock()
	return err
}

func (m *Manager) dial() error {
	var token string
	if m.tokens != nil {
		token = m.tokens.Token()
	}
	endpoint, err := attachToken(m.cfg.URL, token)
	if err != nil {
		m.log.Error("socket url invalid", "url", m.cfg.URL, "error", err)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
	conn, err := m.cfg.Dial(ctx, endpoint)
	cancel()
	if err != nil {
		m.log.Error("socket connect failed", "error", err)
		return err
	}

	m.mu.Lock()
	if m.manual {
		// Disconnect landed while the dial was in flight; the last
		// lifecycle call wins, so discard the fresh connection.
		m.mu.Unlock()
		conn.Close()
		m.log.Info("socket dial discarded after disconnect")
		return nil
	}
	m.gen++
	gen := m.gen
	m.conn = conn
	m.connected = true
	close(m.ready)
	m.mu.Unlock()

	m.log.Info("socket connected", "url", m.cfg.URL)

	go m.readLoop(conn, gen)
	go m.heartbeatLoop(conn, gen)
	go m.rejoinChannels()
	return nil
}

// Disconnect closes the connection and drops the reference. No-op when
// no connection exists.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.manual = true
	m.gen++ // invalidates the old read loop's close handling
	if m.connected {
		m.connected = false
		m.ready = make(chan struct{})
	}
	m.failPendingLocked()
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
		m.log.Info("socket disconnected")
	}
	m.notifyClosed()
}

// Socket returns the live connection, lazily connecting when needed.
// This makes the manager self-healing for callers that do not drive the
// lifecycle explicitly.
func (m *Manager) Socket() (Conn, error) {
	m.mu.Lock()
	if m.connected && m.conn != nil {
		c := m.conn
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()

	if err := m.Connect(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil, ErrNotConnected
	}
	return m.conn, nil
}

// Connected reports whether a live connection exists right now.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Ready returns a channel closed once the connection is established;
// it is already closed when connected. After a disconnect a fresh
// channel is handed out, so late waiters always see the current state.
func (m *Manager) Ready() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// Channel returns the channel for topic, creating it if absent. At most
// one channel exists per topic until it is left.
func (m *Manager) Channel(topic string, params any) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[topic]; ok {
		return ch
	}
	ch := newChannel(m, topic, params)
	m.channels[topic] = ch
	return ch
}

func (m *Manager) release(c *Channel) {
	m.mu.Lock()
	if m.channels[c.topic] == c {
		delete(m.channels, c.topic)
	}
	m.mu.Unlock()
}

func (m *Manager) readLoop(conn Conn, gen uint64) {
	ctx := context.Background()
	for {
		msg, err := conn.ReadMsg(ctx)
		if err != nil {
			m.handleClose(gen, err)
			return
		}
		m.route(msg)
	}
}

func (m *Manager) handleClose(gen uint64, cause error) {
	m.mu.Lock()
	if m.gen != gen {
		// A newer connection owns the state; this loop is stale.
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.conn = nil
	m.connected = false
	m.ready = make(chan struct{})
	manual := m.manual
	m.failPendingLocked()
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	m.notifyClosed()

	if manual {
		return
	}
	m.log.Warn("socket closed, reconnecting", "error", cause)
	go m.reconnectLoop()
}

func (m *Manager) reconnectLoop() {
	for attempt := 1; ; attempt++ {
		time.Sleep(m.cfg.Reconnect.Delay(attempt))

		m.mu.Lock()
		stop := m.manual || m.connected
		m.mu.Unlock()
		if stop {
			return
		}

		if err := m.Connect(); err == nil {
			return
		}
		m.log.Warn("reconnect attempt failed", "attempt", attempt)
	}
}

func (m *Manager) heartbeatLoop(conn Conn, gen uint64) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for range ticker.C {
		m.mu.Lock()
		live := m.gen == gen && m.connected
		m.mu.Unlock()
		if !live {
			return
		}
		beat := Message{Ref: m.nextRef(), Topic: HeartbeatTopic, Event: EventHeartbeat}
		if err := m.write(conn, beat); err != nil {
			return
		}
	}
}

func (m *Manager) route(msg Message) {
	if msg.Event == EventReply {
		m.mu.Lock()
		p := m.pending[msg.Ref]
		delete(m.pending, msg.Ref)
		m.mu.Unlock()
		if p == nil {
			return
		}
		p.timer.Stop()
		reply, err := ParseReply(msg.Payload)
		if err != nil {
			m.log.Warn("malformed reply", "topic", msg.Topic, "error", err)
			reply = Reply{Status: "error"}
		}
		p.fn(reply)
		return
	}

	m.mu.Lock()
	ch := m.channels[msg.Topic]
	m.mu.Unlock()
	if ch != nil {
		ch.dispatch(msg)
	}
}

// notifyClosed moves joined channels back to idle so a later reconnect
// can re-subscribe them.
func (m *Manager) notifyClosed() {
	for _, ch := range m.channelList() {
		ch.handleSocketClose()
	}
}

func (m *Manager) rejoinChannels() {
	for _, ch := range m.channelList() {
		if ch.pendingRejoin() {
			go ch.rejoinLoop()
		}
	}
}

func (m *Manager) channelList() []*Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch)
	}
	return out
}

func (m *Manager) nextRef() string {
	return strconv.FormatUint(m.refs.Add(1), 10)
}

// expectReply registers fn for the given ref. When no reply arrives
// within timeout, fn receives a synthesized "timeout" reply.
func (m *Manager) expectReply(ref string, timeout time.Duration, fn func(Reply)) {
	p := &pendingReply{fn: fn}
	p.timer = time.AfterFunc(timeout, func() {
		m.mu.Lock()
		registered := m.pending[ref] == p
		if registered {
			delete(m.pending, ref)
		}
		m.mu.Unlock()
		if registered {
			fn(Reply{Status: "timeout"})
		}
	})
	m.mu.Lock()
	m.pending[ref] = p
	m.mu.Unlock()
}

func (m *Manager) dropPending(ref string) {
	m.mu.Lock()
	if p, ok := m.pending[ref]; ok {
		p.timer.Stop()
		delete(m.pending, ref)
	}
	m.mu.Unlock()
}

// failPendingLocked cancels reply timers on disconnect. The callbacks
// are not invoked: their channels handle the close through
// handleSocketClose instead, which keeps stale acks from mutating state.
func (m *Manager) failPendingLocked() {
	for ref, p := range m.pending {
		p.timer.Stop()
		delete(m.pending, ref)
	}
}

func (m *Manager) send(msg Message) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.connected
	m.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}
	return m.write(conn, msg)
}

func (m *Manager) write(conn Conn, msg Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.WriteTimeout)
	defer cancel()
	if err := conn.WriteMsg(ctx, msg); err != nil {
		m.log.Warn("socket write failed", "topic", msg.Topic, "event", msg.Event, "error", err)
		return err
	}
	return nil
}

func attachToken(rawURL, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if token != "" {
		q.Set("token", token)
	}
	q.Set("vsn", "2.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
