package lock

import (
	"context"
	"sync"
	"time"
)

// LocalLocker is an in-process keyed mutex. Entries are reference counted
// and removed when the last holder or waiter leaves, so memory stays
// proportional to the events being contended.
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	wait    time.Duration
}

type localEntry struct {
	sem  chan struct{}
	refs int
}

// NewLocalLocker creates a LocalLocker. wait bounds how long Lock blocks;
// zero waits until ctx is done.
func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{
		entries: make(map[string]*localEntry),
		wait:    wait,
	}
}

// Lock blocks until the event's section is free, ctx is done, or the wait elapses
func (l *LocalLocker) Lock(ctx context.Context, eventID string) (Unlock, error) {
	entry := l.acquireEntry(eventID)

	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.releaseEntry(eventID)
		return nil, ErrNotAcquired
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.sem
			l.releaseEntry(eventID)
		})
	}, nil
}

func (l *LocalLocker) acquireEntry(eventID string) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[eventID]
	if !ok {
		entry = &localEntry{sem: make(chan struct{}, 1)}
		l.entries[eventID] = entry
	}
	entry.refs++
	return entry
}

func (l *LocalLocker) releaseEntry(eventID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.entries[eventID]
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, eventID)
	}
}

// Len returns the number of events currently tracked
func (l *LocalLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
