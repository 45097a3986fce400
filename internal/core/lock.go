package core

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// RequestLock is a context-aware mutex.
type RequestLock struct {
	sem chan struct{}
}

func NewRequestLock() *RequestLock {
	return &RequestLock{sem: make(chan struct{}, 1)}
}

// LockWithContext waits for the lock until ctx is done.
func (c *RequestLock) LockWithContext(ctx context.Context) bool {
	select {
	case c.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

// Unlock releases the lock. Unlocking an unlocked lock is a no-op.
func (c *RequestLock) Unlock() {
	select {
	case <-c.sem:
	default:
	}
}

// Locks hands out one RequestLock per key, so requests in the same channel
// run one after another while different channels proceed in parallel.
type Locks struct {
	locks  sync.Map
	logger *zap.SugaredLogger
}

func NewLocks(logger *zap.SugaredLogger) *Locks {
	if logger == nil {
		logger = GetLogger()
	}
	return &Locks{logger: logger}
}

// Get returns the lock for key, creating it on first use.
func (l *Locks) Get(key string) *RequestLock {
	if lock, ok := l.locks.Load(key); ok {
		return lock.(*RequestLock)
	}
	actual, _ := l.locks.LoadOrStore(key, NewRequestLock())
	return actual.(*RequestLock)
}

// With runs onSuccess while holding the lock for key. If the lock cannot be
// taken before ctx is done, onTimeout runs instead (when non-nil).
func (l *Locks) With(ctx context.Context, key, operation string, onSuccess func(), onTimeout func()) bool {
	lock := l.Get(key)

	l.logger.Debugw("lock_acquiring", "channel", key, "operation", operation)
	if !lock.LockWithContext(ctx) {
		l.logger.Warnw("lock_timeout", "channel", key, "operation", operation)
		if onTimeout != nil {
			onTimeout()
		}
		return false
	}
	l.logger.Debugw("lock_acquired", "channel", key, "operation", operation)
	defer func() {
		l.logger.Debugw("lock_released", "channel", key, "operation", operation)
		lock.Unlock()
	}()

	onSuccess()
	return true
}
