// Package lock serializes admission and promotion per event.
package lock

import (
	"context"
	"errors"
)

// ErrNotAcquired is returned when the lock could not be taken before the wait deadline
var ErrNotAcquired = errors.New("lock not acquired")

// Unlock releases a held lock. It is safe to call once.
type Unlock func()

// EventLocker hands out a mutual-exclusion section per event ID
type EventLocker interface {
	Lock(ctx context.Context, eventID string) (Unlock, error)
}
