// Package guard keeps payout runs from overlapping, within one process and,
// when Redis is configured, across instances.
package guard

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/smallbiznis/boxoffice/internal/apperror"
	"github.com/smallbiznis/boxoffice/internal/ratelimit"
)

var (
	ErrBusy     = apperror.StateConflict("payout_run_in_progress")
	ErrLockHeld = apperror.StateConflict("payout_run_locked_elsewhere")
)

// Locker is the distributed lease a Guard takes after the local flag.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

type Guard struct {
	inFlight atomic.Bool
	locker   Locker
	key      string
	ttl      time.Duration
	// OnLockError reports a failed "acquire" or "release" of the distributed
	// lock. A failed acquire lets the run proceed on the local flag alone; a
	// failed release leaves the lease held until its ttl expires.
	OnLockError func(op string, err error)
}

const (
	OpAcquire = "acquire"
	OpRelease = "release"
)

// New returns a guard. A nil locker leaves only the in-process flag.
func New(locker *ratelimit.Locker, key string, ttl time.Duration) *Guard {
	g := &Guard{key: key, ttl: ttl}
	if locker != nil {
		g.locker = locker
	}
	return g
}

// NewWithLocker is New for any Locker implementation.
func NewWithLocker(locker Locker, key string, ttl time.Duration) *Guard {
	return &Guard{locker: locker, key: key, ttl: ttl}
}

// Acquire claims the run slot. The returned release must be called exactly once.
func (g *Guard) Acquire(ctx context.Context) (func(), error) {
	if !g.inFlight.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	if g.locker == nil || g.key == "" || g.ttl <= 0 {
		return func() { g.inFlight.Store(false) }, nil
	}

	token, ok, err := g.locker.TryLock(ctx, g.key, g.ttl)
	if err != nil {
		g.reportLockError(OpAcquire, err)
		return func() { g.inFlight.Store(false) }, nil
	}
	if !ok {
		g.inFlight.Store(false)
		return nil, ErrLockHeld
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := g.locker.Release(releaseCtx, g.key, token); err != nil {
			g.reportLockError(OpRelease, err)
		}
		g.inFlight.Store(false)
	}, nil
}

func (g *Guard) reportLockError(op string, err error) {
	if g.OnLockError != nil {
		g.OnLockError(op, err)
	}
}

// Busy reports whether a run holds the local flag.
func (g *Guard) Busy() bool {
	return g.inFlight.Load()
}
