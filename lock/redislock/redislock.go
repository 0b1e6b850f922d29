// Package redislock implements version.Locker with Redis SET NX PX so that
// several service instances serialize writes to the same rows.
package redislock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aquamarinepk/vstore"
	"github.com/aquamarinepk/vstore/version"
)

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`

const (
	defaultTTL    = 30 * time.Second
	minRetryDelay = 5 * time.Millisecond
	maxRetryDelay = 100 * time.Millisecond
)

type Locker struct {
	client    redis.Cmdable
	closer    func() error
	keyPrefix string
	ttl       time.Duration
	log       vstore.Logger
}

type Option func(*Locker)

// WithTTL bounds how long a crashed holder can keep a key locked.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

func WithPrefix(prefix string) Option {
	return func(l *Locker) {
		l.keyPrefix = prefix
	}
}

func WithLogger(log vstore.Logger) Option {
	return func(l *Locker) {
		if log != nil {
			l.log = log
		}
	}
}

func New(client redis.Cmdable, opts ...Option) *Locker {
	l := &Locker{
		client:    client,
		keyPrefix: "vstore:lock",
		ttl:       defaultTTL,
		log:       vstore.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewFromURL builds a Locker owning its own client, closed by Stop.
func NewFromURL(url string, opts ...Option) (*Locker, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(options)
	l := New(client, opts...)
	l.closer = client.Close
	return l, nil
}

func (l *Locker) lockKey(key string) string {
	return l.keyPrefix + ":" + key
}

// Lock acquires every key in sorted order, waiting for holders to release
// them. On failure it releases what it already holds.
func (l *Locker) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = version.SortKeys(keys)
	held := make(map[string]string, len(keys))

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for key, token := range held {
			if err := l.release(ctx, key, token); err != nil {
				l.log.Error("lock release failed", "key", key, "error", err.Error())
			}
		}
	}

	for _, key := range keys {
		token, err := l.acquire(ctx, key)
		if err != nil {
			release()
			return nil, err
		}
		held[key] = token
	}
	return release, nil
}

func (l *Locker) acquire(ctx context.Context, key string) (string, error) {
	fullKey := l.lockKey(key)
	token := newToken()
	delay := minRetryDelay

	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return token, nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
		if delay *= 2; delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}

// ErrLockLost is returned when a key expired and was taken over before release.
var ErrLockLost = errors.New("lock lost")

func (l *Locker) release(ctx context.Context, key, token string) error {
	n, err := l.client.Eval(ctx, releaseScript, []string{l.lockKey(key)}, token).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("release %s: %w", key, ErrLockLost)
	}
	return nil
}

func (l *Locker) HealthChecks() vstore.HealthChecks {
	return vstore.HealthChecks{
		Readiness: map[string]vstore.HealthCheck{
			"redis": func(ctx context.Context) error {
				return l.client.Ping(ctx).Err()
			},
		},
	}
}

// Stop closes the client when the Locker created it.
func (l *Locker) Stop(context.Context) error {
	if l.closer == nil {
		return nil
	}
	return l.closer()
}

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
