// Package devicelock keeps two processes from driving the same recycler.
package devicelock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/cashstation/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyDevice = "cashstation:device:%s"

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	ErrLocked        = errors.New("device_locked")
	ErrNotConfigured = errors.New("device_lock_not_configured")
)

// Lease identifies a held lock. The zero Lease is returned when locking is
// disabled and releases as a no-op.
type Lease struct {
	Key   string
	Token string
}

type Locker struct {
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
}

type Params struct {
	fx.In

	Lc  fx.Lifecycle `optional:"true"`
	Cfg config.Config
	Log *zap.Logger
}

// New returns nil when REDIS_ADDR is empty; a nil Locker grants every lock.
func New(p Params) *Locker {
	addr := strings.TrimSpace(p.Cfg.Redis.Addr)
	if addr == "" {
		p.Log.Info("device lock disabled", zap.String("reason", "redis addr not set"))
		return nil
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
	return NewLocker(client, p.Cfg.Redis.LockTTL)
}

func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		ttl:    ttl,
	}
}

func Key(terminalID string) string {
	return fmt.Sprintf(keyDevice, strings.ToLower(strings.TrimSpace(terminalID)))
}

// Acquire takes the terminal's device lock or returns ErrLocked.
func (l *Locker) Acquire(ctx context.Context, terminalID string) (Lease, error) {
	if l == nil {
		return Lease{}, nil
	}
	if l.client == nil {
		return Lease{}, ErrNotConfigured
	}
	if strings.TrimSpace(terminalID) == "" {
		return Lease{}, errors.New("terminal id is empty")
	}

	lease := Lease{Key: Key(terminalID), Token: uuid.NewString()}
	ok, err := l.client.SetNX(ctx, lease.Key, lease.Token, l.ttl).Result()
	if err != nil {
		return Lease{}, err
	}
	if !ok {
		return Lease{}, ErrLocked
	}
	return lease, nil
}

// Release drops the lock only if it is still held by lease.
func (l *Locker) Release(ctx context.Context, lease Lease) error {
	if l == nil || l.client == nil {
		return nil
	}
	if lease.Key == "" || lease.Token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{lease.Key}, lease.Token).Err()
}
