package rephi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rephi/rephi-go/rbac"
)

func adminUser() *rbac.User {
	return &rbac.User{
		ID:    1,
		Email: "admin@example.com",
		Roles: []rbac.Role{{ID: 1, Name: "Admin", Slug: "admin"}},
	}
}

// fakeAPI is a minimal in-memory rendition of the auth endpoints.
func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()

	r.Post("/api/users/login", func(w http.ResponseWriter, req *http.Request) {
		var creds Credentials
		require.NoError(t, json.NewDecoder(req.Body).Decode(&creds))
		if creds.Password != "correct horse" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid credentials"})
			return
		}
		json.NewEncoder(w).Encode(AuthResponse{
			User:  &User{ID: 1, Email: creds.Email},
			Token: "token-1",
		})
	})

	r.Post("/api/users/register", func(w http.ResponseWriter, req *http.Request) {
		var creds Credentials
		require.NoError(t, json.NewDecoder(req.Body).Decode(&creds))
		if creds.Email == "taken@example.com" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]any{
				"errors": map[string][]string{"email": {"has already been taken"}},
			})
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(AuthResponse{
			User:  &User{ID: 2, Email: creds.Email},
			Token: "token-2",
		})
	})

	r.Get("/api/me", func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Authorization") != "Bearer token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]*User{"user": adminUser()})
	})

	r.Post("/api/notifications/broadcast", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Message string `json:"message"`
		}
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		if body.Message == "" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New().
		WithConfig(Config{API: APIConfig{BaseURL: srv.URL + "/api"}}).
		Build()
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLoginStoresSessionAndRefreshesProfile(t *testing.T) {
	c := newTestClient(t, fakeAPI(t))

	user, err := c.Login(context.Background(), "admin@example.com", "correct horse")
	require.NoError(t, err)

	// The profile refresh replaced the thin login user with the full
	// one, roles included.
	assert.True(t, rbac.IsAdmin(user))

	snap := c.Session().Current()
	assert.True(t, snap.Authenticated())
	assert.Equal(t, "token-1", snap.Token)
	assert.True(t, rbac.IsAdmin(snap.User))
}

func TestLoginInvalidCredentials(t *testing.T) {
	c := newTestClient(t, fakeAPI(t))

	_, err := c.Login(context.Background(), "admin@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.False(t, c.Session().Authenticated())
}

func TestRegister(t *testing.T) {
	c := newTestClient(t, fakeAPI(t))

	user, err := c.Register(context.Background(), "new@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", user.Email)
	assert.Equal(t, "token-2", c.Session().Token())
}

func TestRegisterConflictCarriesFieldErrors(t *testing.T) {
	c := newTestClient(t, fakeAPI(t))

	_, err := c.Register(context.Background(), "taken@example.com", "correct horse")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Fields["email"], "has already been taken")
}

func TestMeRequiresSession(t *testing.T) {
	c := newTestClient(t, fakeAPI(t))

	_, err := c.Me(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestLogoutClearsEverything(t *testing.T) {
	c := newTestClient(t, fakeAPI(t))

	_, err := c.Login(context.Background(), "admin@example.com", "correct horse")
	require.NoError(t, err)
	c.Paths().SetRedirectPath("/admin/roles")

	require.NoError(t, c.Logout())
	assert.False(t, c.Session().Authenticated())
	assert.Empty(t, c.Paths().TakeRedirectPath())
}

func TestBroadcast(t *testing.T) {
	c := newTestClient(t, fakeAPI(t))

	require.NoError(t, c.Broadcast(context.Background(), "deploy finished"))

	err := c.Broadcast(context.Background(), "")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestWithTokenOverridesSession(t *testing.T) {
	seen := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]*User{"user": adminUser()})
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv)
	require.NoError(t, c.Session().SetAuth(adminUser(), "session-token"))

	_, err := c.Me(WithToken(context.Background(), "override-token"))
	require.NoError(t, err)
	assert.Equal(t, "Bearer override-token", <-seen)
}

func TestBuilderValidation(t *testing.T) {
	_, err := New().WithConfig(Config{API: APIConfig{BaseURL: "ftp://nope"}}).Build()
	assert.Error(t, err)

	b := New()
	_, err = b.Build()
	require.NoError(t, err)
	_, err = b.Build()
	assert.Error(t, err, "builder is single-use")
}
