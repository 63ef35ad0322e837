// Package redislock serializes work on a key across worker processes with a
// single redis instance.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another worker is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the TTL only while the key still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type Options struct {
	// TTL bounds how long a crashed holder blocks the key. A live holder
	// keeps extending it every RenewEvery (TTL/3 by default).
	TTL        time.Duration
	RenewEvery time.Duration
	Wait       time.Duration
	RetryEvery time.Duration
	Prefix     string
}

type Locker struct {
	client     redis.UniversalClient
	ttl        time.Duration
	renewEvery time.Duration
	wait       time.Duration
	retryEvery time.Duration
	prefix     string
}

// NewClient pings addr before handing the client out.
func NewClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func New(client redis.UniversalClient, options Options) *Locker {
	if options.TTL <= 0 {
		options.TTL = 2 * time.Minute
	}
	if options.RenewEvery <= 0 || options.RenewEvery >= options.TTL {
		options.RenewEvery = options.TTL / 3
	}
	if options.RetryEvery <= 0 {
		options.RetryEvery = 100 * time.Millisecond
	}
	if options.Prefix == "" {
		options.Prefix = "ledger-ingest:lock:"
	}
	return &Locker{
		client:     client,
		ttl:        options.TTL,
		renewEvery: options.RenewEvery,
		wait:       options.Wait,
		retryEvery: options.RetryEvery,
		prefix:     options.Prefix,
	}
}

// Acquire polls until the key is free or the wait budget runs out, in which
// case it returns ErrSyncInProgress.
func (l *Locker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	redisKey := l.prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, domain.WrapError(domain.ErrTemporary, "acquire lock", err)
		}
		if ok {
			return l.releaser(redisKey, token), nil
		}
		if !time.Now().Before(deadline) {
			return nil, domain.WrapError(domain.ErrSyncInProgress, "acquire lock", fmt.Errorf("key %s is held", key))
		}

		timer := time.NewTimer(l.retryEvery)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Locker) releaser(redisKey, token string) func(context.Context) error {
	stop := make(chan struct{})
	done := make(chan struct{})
	go l.renew(redisKey, token, stop, done)

	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() {
			close(stop)
			<-done
		})
		err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release lock %s: %w", redisKey, err)
		}
		return nil
	}
}

// renew keeps the key alive until stop is closed or the token is lost.
func (l *Locker) renew(redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.renewEvery)
	defer ticker.Stop()
	ttlMillis := l.ttl.Milliseconds()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), min(l.ttl, 5*time.Second))
		extended, err := renewScript.Run(ctx, l.client, []string{redisKey}, token, ttlMillis).Int()
		cancel()
		switch {
		case err != nil && !errors.Is(err, redis.Nil):
			slog.Warn("lock_renew_failed", "key", redisKey, "error", err)
		case extended == 0:
			slog.Error("lock_lost", "key", redisKey)
			return
		}
	}
}
