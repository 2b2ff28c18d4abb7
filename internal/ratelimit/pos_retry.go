package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/cashstation/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyPosRetry = "cashstation:pos:retry:%s:%s"

var ErrRateLimited = errors.New("rate_limited")

// PosRetryLimiter throttles manual POS resends so a stuck cashier cannot
// flood the POS with the same transaction.
type PosRetryLimiter struct {
	bucket     *TokenBucket
	terminalID string
	rate       float64
	burst      int
}

type Params struct {
	fx.In

	Lc  fx.Lifecycle `optional:"true"`
	Cfg config.Config
	Log *zap.Logger
}

// NewPosRetryLimiter returns nil when rate limiting is off. A nil limiter
// allows everything.
func NewPosRetryLimiter(p Params) (*PosRetryLimiter, error) {
	limitCfg := p.Cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(p.Cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.PosRetryRate <= 0 || limitCfg.PosRetryBurst <= 0 {
		return nil, errors.New("pos retry rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(p.Cfg.Redis.Password),
		DB:       p.Cfg.Redis.DB,
	})
	if p.Lc != nil {
		p.Lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return client.Close()
			},
		})
	}

	p.Log.Info("pos retry rate limit enabled",
		zap.Float64("rate", limitCfg.PosRetryRate),
		zap.Int("burst", limitCfg.PosRetryBurst),
	)
	return NewPosRetry(client, p.Cfg.TerminalID, limitCfg.PosRetryRate, limitCfg.PosRetryBurst), nil
}

func NewPosRetry(client *redis.Client, terminalID string, rate float64, burst int) *PosRetryLimiter {
	return &PosRetryLimiter{
		bucket:     NewTokenBucket(client),
		terminalID: strings.ToLower(strings.TrimSpace(terminalID)),
		rate:       rate,
		burst:      burst,
	}
}

func (l *PosRetryLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow takes a retry token for transactionID. A denied call returns
// ErrRateLimited together with the result so callers can set Retry-After.
func (l *PosRetryLimiter) Allow(ctx context.Context, transactionID string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyPosRetry, l.terminalID, strings.TrimSpace(transactionID))
	res, err := l.bucket.Allow(ctx, key, l.rate, l.burst)
	if err != nil {
		return res, err
	}
	if !res.Allowed {
		return res, ErrRateLimited
	}
	return res, nil
}
