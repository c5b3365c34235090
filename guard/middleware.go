package guard

import (
	"context"
	"net/http"

	"github.com/rephi/rephi-go/session"
)

// SessionSource yields the current session snapshot for a request.
// *session.Store satisfies it.
type SessionSource interface {
	Current() session.Session
}

type sessionContextKey struct{}

// SessionFromContext returns the snapshot a guard middleware attached
// to the request.
func SessionFromContext(ctx context.Context) (session.Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(session.Session)
	return s, ok
}

// RequireAuth rejects unauthenticated requests with 401, recording the
// request path in paths so the client can resume there after login. On
// success the session snapshot is attached to the request context.
func RequireAuth(src SessionSource, paths *PathStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if src == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			snap := src.Current()
			if d := Protected(snap, paths, r.URL.Path); !d.Allowed() {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, snap)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects unauthenticated requests with 401 and
// authenticated non-admins with 403. The role check never runs before
// the authentication check.
func RequireAdmin(src SessionSource, paths *PathStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if src == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			snap := src.Current()
			switch d := Admin(snap, paths, r.URL.Path); d.Action {
			case ActionRedirect:
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			case ActionDeny:
				http.Error(w, "access denied", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, snap)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
