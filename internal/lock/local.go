// Package lock provides an in-process keyed mutex for single-instance deployments.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Domenick1991/roombooking/internal/domain"
)

type entry struct {
	ch   chan struct{}
	refs int
}

type Local struct {
	mu    sync.Mutex
	slots map[string]*entry
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]*entry)}
}

// Lock has the same shape as the Redis lock; ttl is ignored in-process.
func (l *Local) Lock(ctx context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	e, ok := l.slots[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.slots[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, e)
		return nil, fmt.Errorf("%w: lock %s busy: %v", domain.ErrTransientDependency, key, ctx.Err())
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-e.ch
			l.unref(key, e)
		})
		return nil
	}, nil
}

func (l *Local) unref(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.slots, key)
	}
}
