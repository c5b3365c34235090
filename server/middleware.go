package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/rephi/rephi-go/rbac"
)

type currentUserKey struct{}
type currentSessionKey struct{}

// CurrentUser returns the authenticated user the auth middleware
// attached to the request.
func CurrentUser(ctx context.Context) (*rbac.User, bool) {
	u, ok := ctx.Value(currentUserKey{}).(*rbac.User)
	return u, ok
}

func currentSession(ctx context.Context) string {
	sid, _ := ctx.Value(currentSessionKey{}).(string)
	return sid
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}
	token := value[len(bearer):]
	if token == "" {
		return "", false
	}
	return token, true
}

// authenticate resolves a raw token to a user: signature and claims
// via the jwt manager, liveness via the session registry, then the
// current user record from the store.
func (s *Server) authenticate(ctx context.Context, token string) (*rbac.User, string, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, "", err
	}
	live, err := s.sessions.Live(ctx, claims.SessionID)
	if err != nil {
		return nil, "", err
	}
	if !live {
		return nil, "", ErrNotFound
	}
	uid, err := claims.UserID()
	if err != nil {
		return nil, "", err
	}
	user, err := s.store.User(uid)
	if err != nil {
		return nil, "", err
	}
	return user, claims.SessionID, nil
}

// requireAuth guards API routes with a bearer token.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		user, sid, err := s.authenticate(r.Context(), token)
		if err != nil {
			s.log.Debug("token rejected", "error", err)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), currentUserKey{}, user)
		ctx = context.WithValue(ctx, currentSessionKey{}, sid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin guards the admin API. It runs after requireAuth, so an
// unauthenticated request never reaches the role check.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := CurrentUser(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !rbac.IsAdmin(user) {
			writeError(w, http.StatusForbidden, "access denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}
