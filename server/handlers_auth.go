package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/mail"

	"github.com/rephi/rephi-go/notify"
	"github.com/rephi/rephi-go/rbac"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	User  *rbac.User `json:"user"`
	Token string     `json:"token"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if fields := validateCredentials(creds); len(fields) > 0 {
		writeFieldErrors(w, fields)
		return
	}

	hash, err := s.hasher.Hash(creds.Password)
	if err != nil {
		writeFieldErrors(w, map[string][]string{"password": {err.Error()}})
		return
	}

	acct, err := s.store.CreateUser(creds.Email, hash)
	if err != nil {
		if writeDuplicateEmail(w, err) {
			return
		}
		writeStoreError(w, err)
		return
	}

	user, token, err := s.openSession(r, acct.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session creation failed")
		return
	}
	s.log.Info("user registered", "user", acct.ID, "email", acct.Email)
	writeJSON(w, http.StatusCreated, authResponse{User: user, Token: token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	ip := clientIP(r)
	if s.throttle != nil {
		switch err := s.throttle.Allow(r.Context(), creds.Email, ip); {
		case errors.Is(err, ErrThrottled):
			writeError(w, http.StatusTooManyRequests, "too many attempts")
			return
		case err != nil:
			// Fail open when the counter store is unreachable.
			s.log.Warn("login throttle check failed", "error", err)
		}
	}

	acct, err := s.store.AccountByEmail(creds.Email)
	if err != nil {
		// Same response as a bad password: no account enumeration.
		s.recordLoginFailure(r, creds.Email, ip)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	ok, err := s.hasher.Verify(creds.Password, acct.PasswordHash)
	if err != nil || !ok {
		s.recordLoginFailure(r, creds.Email, ip)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if s.throttle != nil {
		if err := s.throttle.Clear(r.Context(), creds.Email, ip); err != nil {
			s.log.Warn("login throttle clear failed", "error", err)
		}
	}

	if s.rehash {
		if upgrade, err := s.hasher.NeedsUpgrade(acct.PasswordHash); err == nil && upgrade {
			if fresh, err := s.hasher.Hash(creds.Password); err == nil {
				if err := s.store.UpdatePasswordHash(acct.ID, fresh); err != nil {
					s.log.Warn("password rehash failed", "user", acct.ID, "error", err)
				}
			}
		}
	}

	user, token, err := s.openSession(r, acct.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session creation failed")
		return
	}
	s.log.Info("user logged in", "user", acct.ID)
	writeJSON(w, http.StatusOK, authResponse{User: user, Token: token})
}

func (s *Server) recordLoginFailure(r *http.Request, email, ip string) {
	if s.throttle == nil {
		return
	}
	if err := s.throttle.RecordFailure(r.Context(), email, ip); err != nil {
		s.log.Warn("login throttle record failed", "error", err)
	}
}

// clientIP strips the port from the peer address. RealIP middleware
// has already substituted forwarded headers when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// openSession mints a token, registers the session, and loads the
// resolved user.
func (s *Server) openSession(r *http.Request, userID int64) (*rbac.User, string, error) {
	user, err := s.store.User(userID)
	if err != nil {
		return nil, "", err
	}
	token, sid, err := s.tokens.Mint(user.ID, user.Email)
	if err != nil {
		return nil, "", err
	}
	if err := s.sessions.Register(r.Context(), user.ID, sid, s.tokenTTL); err != nil {
		return nil, "", err
	}
	return user, token, nil
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]*rbac.User{"user": user})
}

// handleLogoutAll revokes every live session of the caller.
func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.sessions.RevokeAll(r.Context(), user.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "revocation failed")
		return
	}
	s.log.Info("sessions revoked", "user", user.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if body.Message == "" {
		writeFieldErrors(w, map[string][]string{"message": {"can't be blank"}})
		return
	}

	s.dispatcher.Publish(r.Context(), notifyEvent(body.Message))
	if s.metrics != nil {
		s.metrics.broadcasts.Inc()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "broadcast"})
}

func notifyEvent(message string) notify.Event {
	return notify.Notification(LobbyTopic, message)
}

func writeDuplicateEmail(w http.ResponseWriter, err error) bool {
	if errors.Is(err, ErrDuplicate) {
		writeFieldErrors(w, map[string][]string{"email": {"has already been taken"}})
		return true
	}
	return false
}

func validateCredentials(creds credentials) map[string][]string {
	fields := map[string][]string{}
	if _, err := mail.ParseAddress(creds.Email); err != nil {
		fields["email"] = append(fields["email"], "is invalid")
	}
	if creds.Password == "" {
		fields["password"] = append(fields["password"], "can't be blank")
	}
	return fields
}
