// lock.go provides an in-process implementation of RepairLock.
//
// It only guards repairs inside one process. Replicated deployments use the
// Redis lock so that two bots never repair the same account at once.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/archon-research/stl/auto-repay/internal/ports/outbound"
)

// Compile-time check that RepairLock implements outbound.RepairLock
var _ outbound.RepairLock = (*RepairLock)(nil)

type lease struct {
	token   uint64
	expires time.Time
}

// RepairLock is an in-memory RepairLock with per-key expiry.
type RepairLock struct {
	mu     sync.Mutex
	leases map[string]lease
	next   uint64
	now    func() time.Time
}

// NewRepairLock creates an empty lock table.
func NewRepairLock() *RepairLock {
	return &RepairLock{
		leases: make(map[string]lease),
		now:    time.Now,
	}
}

// Acquire takes key for ttl unless an unexpired lease exists.
func (l *RepairLock) Acquire(_ context.Context, key string, ttl time.Duration) (outbound.ReleaseFunc, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.leases[key]; ok && now.Before(held.expires) {
		return nil, false, nil
	}

	l.next++
	token := l.next
	l.leases[key] = lease{token: token, expires: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if held, ok := l.leases[key]; ok && held.token == token {
			delete(l.leases, key)
		}
		return nil
	}, true, nil
}
