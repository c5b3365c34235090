package rephi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/rephi/rephi-go/guard"
	"github.com/rephi/rephi-go/realtime"
	"github.com/rephi/rephi-go/session"
)

// Builder assembles a [Client]. A Builder is single-use.
type Builder struct {
	config Config
	http   *http.Client
	logger *slog.Logger
	store  session.Persister
	dial   realtime.Dialer

	built bool
}

func New() *Builder {
	return &Builder{config: defaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithHTTPClient substitutes the transport used for API calls. The
// bearer header is still injected per request.
func (b *Builder) WithHTTPClient(c *http.Client) *Builder {
	b.http = c
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithPersister overrides session persistence. It takes precedence
// over Config.Session.Path.
func (b *Builder) WithPersister(p session.Persister) *Builder {
	b.store = p
	return b
}

// WithDialer substitutes the websocket dialer, mainly for tests.
func (b *Builder) WithDialer(d realtime.Dialer) *Builder {
	b.dial = d
	return b
}

func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	persist := b.store
	var bolt *session.BoltPersister
	if persist == nil && cfg.Session.Path != "" {
		var err error
		bolt, err = session.OpenBoltPersister(cfg.Session.Path)
		if err != nil {
			return nil, err
		}
		persist = bolt
	}
	store := session.NewStore(persist, logger)

	httpClient := b.http
	if httpClient == nil {
		httpClient = cfg.httpClient()
	}

	sockCfg := cfg.socketConfig(logger)
	sockCfg.Dial = b.dial
	socket := realtime.NewManager(sockCfg, store)

	c := &Client{
		config:  cfg,
		http:    httpClient,
		logger:  logger,
		session: store,
		socket:  socket,
		paths:   guard.NewPathStore(),
		bolt:    bolt,
	}

	// Logout tears down the socket so no connection outlives its
	// credentials. A token swap on a live connection is left alone;
	// the server already authenticated the session at dial time.
	c.unwatch = store.Watch(func(s session.Session) {
		if !s.Authenticated() {
			socket.Disconnect()
		}
	})

	b.built = true
	return c, nil
}
