package outbound

import (
	"context"
	"time"
)

// ReleaseFunc releases a held lock. It is safe to call more than once.
type ReleaseFunc func(ctx context.Context) error

// RepairLock makes sure only one bot instance repairs an account at a time.
type RepairLock interface {
	// Acquire tries to take key for ttl. ok is false when another holder has it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release ReleaseFunc, ok bool, err error)
}
