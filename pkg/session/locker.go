package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Locker serializes work on the same session id inside one process.
// Entries are created on first use and dropped when the last holder or
// waiter leaves, so memory stays proportional to the ids in flight.
type Locker struct {
	mu      sync.Mutex
	locks   map[string]*lockEntry
	timeout time.Duration
}

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// NewLocker creates a locker. A positive timeout bounds how long Lock waits.
func NewLocker(timeout time.Duration) *Locker {
	return &Locker{
		locks:   make(map[string]*lockEntry),
		timeout: timeout,
	}
}

// Lock blocks until id is free, ctx is done or the lock timeout expires.
// The returned function releases the lock and may be called more than once.
func (l *Locker) Lock(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[id]
	if !ok {
		e = &lockEntry{sem: semaphore.NewWeighted(1)}
		l.locks[id] = e
	}
	e.refs++
	l.mu.Unlock()

	waitCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	if err := e.sem.Acquire(waitCtx, 1); err != nil {
		l.drop(id, e)
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Join(ErrLockTimeout, err)
		}
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			l.drop(id, e)
		})
	}, nil
}

func (l *Locker) drop(id string, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.locks, id)
	}
}

// Len returns the number of ids currently locked or awaited.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
