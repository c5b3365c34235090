package rephi

import "context"

type tokenContextKey struct{}

// WithToken attaches a bearer token to ctx, overriding the stored
// session token for API calls made with that context. Useful for
// acting on behalf of another principal without touching the session.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, token)
}

func contextToken(ctx context.Context, fallback string) string {
	if ctx == nil {
		return fallback
	}
	if token, _ := ctx.Value(tokenContextKey{}).(string); token != "" {
		return token
	}
	return fallback
}
