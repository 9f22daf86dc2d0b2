// Package lease provides per-key mutual exclusion with a bounded hold time.
package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"colorcraft/api/internal/util"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

var ErrNotAcquired = errors.New("lease not acquired")

// Locker hands out leases keyed by an arbitrary string. Release must be
// called with the token returned by Acquire.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

type Lease interface {
	Release(ctx context.Context) error
}

type Options struct {
	TTL         time.Duration
	Prefix      string
	MaxAttempts uint64
	BaseBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 30 * time.Second
	}
	if o.Prefix == "" {
		o.Prefix = "lease:"
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 8
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 50 * time.Millisecond
	}
	return o
}

// RedisLocker uses SET NX PX with an owner token; release deletes the key
// only while the token still matches.
type RedisLocker struct {
	client redis.UniversalClient
	opts   Options
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedisLocker(client redis.UniversalClient, opts Options) *RedisLocker {
	return &RedisLocker{client: client, opts: opts.withDefaults()}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	token := util.NewSecret()
	fullKey := l.opts.Prefix + key

	backoff := retry.WithMaxRetries(l.opts.MaxAttempts, retry.NewExponential(l.opts.BaseBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		ok, err := l.client.SetNX(ctx, fullKey, token, l.opts.TTL).Result()
		if err != nil {
			return fmt.Errorf("acquire lease %s: %w", key, err)
		}
		if !ok {
			return retry.RetryableError(ErrNotAcquired)
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ErrNotAcquired) {
			return nil, fmt.Errorf("%w: %v", ErrNotAcquired, ctxErr)
		}
		return nil, err
	}
	return &redisLease{client: l.client, key: fullKey, token: token}, nil
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// LocalLocker serializes holders of the same key inside one process. Used
// when no Redis is configured.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*localSlot
}

type localSlot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*localSlot)}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &localSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
		return &localLease{locker: l, key: key, slot: slot}, nil
	case <-ctx.Done():
		l.unref(key, slot)
		return nil, fmt.Errorf("%w: %v", ErrNotAcquired, ctx.Err())
	}
}

func (l *LocalLocker) unref(key string, slot *localSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}

type localLease struct {
	locker *LocalLocker
	key    string
	slot   *localSlot
	once   sync.Once
}

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() {
		<-l.slot.ch
		l.locker.unref(l.key, l.slot)
	})
	return nil
}
