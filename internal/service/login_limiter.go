package service

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/KonradBrave61/session-service/internal/config"
)

// ErrRateLimited is returned when an identity or address exceeds the
// configured attempt budget inside the rolling window.
var ErrRateLimited = errors.New("too many attempts")

// LoginLimiter bounds credential-guessing attempts.
type LoginLimiter interface {
	Allow(ctx context.Context, email, ip string) error
}

// redisLoginLimiter counts attempts in Redis with INCR + EXPIRE. When Redis
// is unreachable it fails open: availability of login outranks throttling.
type redisLoginLimiter struct {
	client *redis.Client
	cfg    config.LimiterConfig
	logger *zap.Logger
}

// NewLoginLimiter builds a Redis-backed limiter.
func NewLoginLimiter(client *redis.Client, cfg config.LimiterConfig, logger *zap.Logger) LoginLimiter {
	return &redisLoginLimiter{client: client, cfg: cfg, logger: logger}
}

func (l *redisLoginLimiter) Allow(ctx context.Context, email, ip string) error {
	if l.client == nil || l.cfg.LoginMaxAttempts <= 0 {
		return nil
	}

	if err := l.allowKey(ctx, "login:email:"+email); err != nil {
		return err
	}
	if ip != "" {
		return l.allowKey(ctx, "login:ip:"+ip)
	}
	return nil
}

func (l *redisLoginLimiter) allowKey(ctx context.Context, key string) error {
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn("login limiter unavailable", zap.Error(err))
		return nil
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.cfg.LoginWindow()).Err(); err != nil {
			l.logger.Warn("login limiter expire failed", zap.Error(err))
		}
	}
	if count > int64(l.cfg.LoginMaxAttempts) {
		return ErrRateLimited
	}
	return nil
}

// NoopLoginLimiter never throttles; used when Redis is not configured.
type NoopLoginLimiter struct{}

func (NoopLoginLimiter) Allow(context.Context, string, string) error { return nil }
