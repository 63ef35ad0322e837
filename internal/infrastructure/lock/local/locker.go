// Package local is an in-process ItemLocker for deployments without redis.
package local

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
)

type slot struct {
	held chan struct{}
	refs int
}

type Locker struct {
	mu    sync.Mutex
	slots map[string]*slot
	wait  time.Duration
}

func New(wait time.Duration) *Locker {
	return &Locker{slots: make(map[string]*slot), wait: wait}
}

func (l *Locker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	s := l.ref(key)

	select {
	case s.held <- struct{}{}:
		return l.releaser(key, s), nil
	default:
	}

	timer := time.NewTimer(l.wait)
	defer timer.Stop()
	select {
	case s.held <- struct{}{}:
	case <-timer.C:
		l.unref(key, s)
		return nil, domain.WrapError(domain.ErrSyncInProgress, "acquire lock", fmt.Errorf("key %s is held", key))
	case <-ctx.Done():
		l.unref(key, s)
		return nil, ctx.Err()
	}
	return l.releaser(key, s), nil
}

func (l *Locker) releaser(key string, s *slot) func(context.Context) error {
	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-s.held
			l.unref(key, s)
		})
		return nil
	}
}

func (l *Locker) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{held: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *Locker) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
