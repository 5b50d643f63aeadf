package storage

import (
	"context"
	"time"

	"github.com/rl1809/pos-checkout/internal/core/domain"
)

// entityLock is a mutex whose acquisition gives up after a bounded wait
// or when the context ends.
type entityLock chan struct{}

func newEntityLock() entityLock {
	return make(entityLock, 1)
}

func (l entityLock) acquire(ctx context.Context, timeout time.Duration) error {
	select {
	case l <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return domain.ErrLockTimeout
	}
}

func (l entityLock) release() {
	<-l
}
