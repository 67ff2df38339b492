package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/semaphore"
)

// sessionLockPoll is how often a waiter retries another process's lock.
const sessionLockPoll = 50 * time.Millisecond

// sessionLocks allows one confirmation per session at a time. Entries are
// dropped once nobody holds or waits on them. With a directory set, a lock
// file per session extends the exclusion to other processes.
type sessionLocks struct {
	dir string

	mu      sync.Mutex
	entries map[string]*sessionEntry
}

type sessionEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func newSessionLocks(dir string) *sessionLocks {
	return &sessionLocks{dir: dir, entries: make(map[string]*sessionEntry)}
}

// acquire waits until the session is free or ctx is done. The returned
// release must be called exactly once.
func (l *sessionLocks) acquire(ctx context.Context, id string) (func(), error) {
	if id == "" {
		id = "default"
	}
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		e = &sessionEntry{sem: semaphore.NewWeighted(1)}
		l.entries[id] = e
	}
	e.refs++
	l.mu.Unlock()

	drop := func() {
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		drop()
		return nil, err
	}
	unlock, err := l.lockFile(ctx, id)
	if err != nil {
		e.sem.Release(1)
		drop()
		return nil, err
	}
	return func() {
		unlock()
		e.sem.Release(1)
		drop()
	}, nil
}

func (l *sessionLocks) lockFile(ctx context.Context, id string) (func(), error) {
	if l.dir == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(l.dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating session lock directory: %w", err)
	}
	fl := flock.New(filepath.Join(l.dir, sessionLockName(id)))
	locked, err := fl.TryLockContext(ctx, sessionLockPoll)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, ctx.Err()
	}
	return func() { _ = fl.Unlock() }, nil
}

// tracked returns how many sessions currently have an entry.
func (l *sessionLocks) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// sessionLockName keeps arbitrary session IDs out of file paths.
func sessionLockName(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:12]) + ".lock"
}
