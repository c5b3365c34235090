package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rephi/rephi-go/jwt"
	"github.com/rephi/rephi-go/notify"
	"github.com/rephi/rephi-go/password"
)

// LobbyTopic is the shared notification topic every authenticated user
// may join.
const LobbyTopic = "user:lobby"

// Config wires the server's collaborators together.
type Config struct {
	Store    *Store
	Sessions *SessionRegistry
	Tokens   *jwt.Manager
	Hasher   *password.Hasher
	Logger   *slog.Logger
	Metrics  *Metrics
	// Throttle caps failed login streaks when set.
	Throttle *LoginThrottle
	// TokenTTL bounds how long a login session stays registered. It
	// should match the jwt manager's TTL.
	TokenTTL time.Duration
	// RehashOnLogin upgrades weak password hashes transparently after
	// a successful credential check.
	RehashOnLogin bool
}

// Server is the HTTP and websocket surface.
type Server struct {
	store      *Store
	sessions   *SessionRegistry
	tokens     *jwt.Manager
	hasher     *password.Hasher
	hub        *Hub
	throttle   *LoginThrottle
	dispatcher *notify.Dispatcher
	metrics    *Metrics
	log        *slog.Logger
	tokenTTL   time.Duration
	rehash     bool

	router chi.Router
}

func New(cfg Config) (*Server, error) {
	if cfg.Store == nil || cfg.Sessions == nil || cfg.Tokens == nil || cfg.Hasher == nil {
		return nil, errors.New("store, sessions, tokens, and hasher are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}

	s := &Server{
		store:    cfg.Store,
		sessions: cfg.Sessions,
		tokens:   cfg.Tokens,
		hasher:   cfg.Hasher,
		hub:      NewHub(logger),
		throttle: cfg.Throttle,
		metrics:  cfg.Metrics,
		log:      logger,
		tokenTTL: cfg.TokenTTL,
		rehash:   cfg.RehashOnLogin,
	}
	s.dispatcher = notify.NewDispatcher(notify.Config{BufferSize: 256, DropIfFull: true}, s.hub.Sink())
	s.router = s.routes()
	return s, nil
}

// Close drains pending broadcasts.
func (s *Server) Close() {
	s.dispatcher.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.log, s.metrics))

	r.Route("/api", func(r chi.Router) {
		r.Post("/users/register", s.handleRegister)
		r.Post("/users/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/me", s.handleMe)
			r.Delete("/sessions", s.handleLogoutAll)
			r.Post("/notifications/broadcast", s.handleBroadcast)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)

				r.Get("/roles", s.handleListRoles)
				r.Post("/roles", s.handleCreateRole)
				r.Get("/roles/{id}", s.handleGetRole)
				r.Put("/roles/{id}", s.handleUpdateRole)
				r.Delete("/roles/{id}", s.handleDeleteRole)
				r.Get("/roles/{id}/permissions", s.handleRolePermissions)
				r.Post("/roles/{id}/permissions/{permID}", s.handleAssignPermission)
				r.Delete("/roles/{id}/permissions/{permID}", s.handleRemovePermission)

				r.Get("/permissions", s.handleListPermissions)
				r.Post("/permissions", s.handleCreatePermission)
				r.Get("/permissions/{id}", s.handleGetPermission)
				r.Put("/permissions/{id}", s.handleUpdatePermission)
				r.Delete("/permissions/{id}", s.handleDeletePermission)

				r.Get("/users", s.handleListUsers)
				r.Get("/users/{id}", s.handleGetUser)
				r.Get("/users/{id}/roles", s.handleUserRoles)
				r.Post("/users/{id}/roles/{roleID}", s.handleAssignRole)
				r.Delete("/users/{id}/roles/{roleID}", s.handleRemoveRole)
			})
		})
	})

	r.Get("/socket/websocket", s.handleSocket)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeFieldErrors(w http.ResponseWriter, fields map[string][]string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": fields})
}

// writeStoreError maps store sentinels to HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, ErrDuplicate):
		writeError(w, http.StatusUnprocessableEntity, "already exists")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
