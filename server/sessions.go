package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport failures against the session
// registry so callers can tell them from a plain miss.
var ErrRedisUnavailable = errors.New("redis unavailable")

// SessionRegistry tracks live login sessions in Redis. A token is only
// honored while its session id is registered, so revoking the id (or
// the whole user) cuts the token off before it expires.
type SessionRegistry struct {
	rdb    *redis.Client
	prefix string
}

func NewSessionRegistry(rdb *redis.Client, prefix string) *SessionRegistry {
	if prefix == "" {
		prefix = "rephi"
	}
	return &SessionRegistry{rdb: rdb, prefix: prefix}
}

func (r *SessionRegistry) sessionKey(sid string) string {
	return fmt.Sprintf("%s:session:%s", r.prefix, sid)
}

func (r *SessionRegistry) userKey(userID int64) string {
	return fmt.Sprintf("%s:user-sessions:%d", r.prefix, userID)
}

// Register records a freshly minted session. The entry expires with
// the token.
func (r *SessionRegistry) Register(ctx context.Context, userID int64, sid string, ttl time.Duration) error {
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.sessionKey(sid), userID, ttl)
	pipe.SAdd(ctx, r.userKey(userID), sid)
	pipe.Expire(ctx, r.userKey(userID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Live reports whether the session is still registered.
func (r *SessionRegistry) Live(ctx context.Context, sid string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.sessionKey(sid)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

// Revoke ends one session.
func (r *SessionRegistry) Revoke(ctx context.Context, userID int64, sid string) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, r.sessionKey(sid))
	pipe.SRem(ctx, r.userKey(userID), sid)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RevokeAll ends every session of the user, the logout-everywhere
// operation.
func (r *SessionRegistry) RevokeAll(ctx context.Context, userID int64) error {
	sids, err := r.rdb.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	pipe := r.rdb.TxPipeline()
	for _, sid := range sids {
		pipe.Del(ctx, r.sessionKey(sid))
	}
	pipe.Del(ctx, r.userKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
