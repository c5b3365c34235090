package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrThrottled marks a login attempt rejected by the failure budget.
var ErrThrottled = errors.New("too many attempts")

// ThrottleConfig tunes the fixed-window failed-login budget.
type ThrottleConfig struct {
	MaxAttempts int
	Window      time.Duration
	// PerIP adds an IP-scoped counter next to the email-scoped one.
	PerIP bool
}

// DefaultThrottleConfig allows a handful of failures before imposing a
// cooldown.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{MaxAttempts: 10, Window: 15 * time.Minute, PerIP: true}
}

// LoginThrottle counts failed logins in Redis, fixed-window. A
// successful login clears the counters, so only sustained failure
// streaks hit the budget.
type LoginThrottle struct {
	rdb    *redis.Client
	prefix string
	config ThrottleConfig
}

func NewLoginThrottle(rdb *redis.Client, prefix string, cfg ThrottleConfig) *LoginThrottle {
	if prefix == "" {
		prefix = "rephi"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultThrottleConfig().MaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultThrottleConfig().Window
	}
	return &LoginThrottle{rdb: rdb, prefix: prefix, config: cfg}
}

func (t *LoginThrottle) emailKey(email string) string {
	return fmt.Sprintf("%s:login-fails:email:%s", t.prefix, strings.ToLower(email))
}

func (t *LoginThrottle) ipKey(ip string) string {
	return fmt.Sprintf("%s:login-fails:ip:%s", t.prefix, ip)
}

// Allow reports whether a login attempt for the email (and IP, when
// enabled) is still within budget.
func (t *LoginThrottle) Allow(ctx context.Context, email, ip string) error {
	if err := t.check(ctx, t.emailKey(email)); err != nil {
		return err
	}
	if t.config.PerIP && ip != "" {
		return t.check(ctx, t.ipKey(ip))
	}
	return nil
}

// RecordFailure counts one failed credential check.
func (t *LoginThrottle) RecordFailure(ctx context.Context, email, ip string) error {
	if err := t.bump(ctx, t.emailKey(email)); err != nil {
		return err
	}
	if t.config.PerIP && ip != "" {
		return t.bump(ctx, t.ipKey(ip))
	}
	return nil
}

// Clear resets the counters after a successful login.
func (t *LoginThrottle) Clear(ctx context.Context, email, ip string) error {
	keys := []string{t.emailKey(email)}
	if t.config.PerIP && ip != "" {
		keys = append(keys, t.ipKey(ip))
	}
	if err := t.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Attempts returns the current failure count for an email. Missing
// keys read as zero so the answer never reveals account existence.
func (t *LoginThrottle) Attempts(ctx context.Context, email string) (int, error) {
	n, err := t.rdb.Get(ctx, t.emailKey(email)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(n), nil
}

func (t *LoginThrottle) check(ctx context.Context, key string) error {
	n, err := t.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if n >= int64(t.config.MaxAttempts) {
		return ErrThrottled
	}
	return nil
}

func (t *LoginThrottle) bump(ctx context.Context, key string) error {
	n, err := t.rdb.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	// Fixed window: the TTL starts with the first failure.
	if n == 1 {
		if err := t.rdb.Expire(ctx, key, t.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return nil
}
