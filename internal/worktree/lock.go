package worktree

import (
	"context"
	"sync"
)

// repoLock serializes worktree creation per repository in strict arrival
// order. Each waiter chains on the previous waiter's done channel, so a
// plain mutex (which makes no fairness promise) is not enough.
type repoLock struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func newRepoLock() *repoLock {
	return &repoLock{tails: make(map[string]chan struct{})}
}

// acquire blocks until the caller holds the lock for repoPath or ctx is
// done. On success the returned release function must be called exactly
// once.
func (l *repoLock) acquire(ctx context.Context, repoPath string) (release func(), err error) {
	done := make(chan struct{})

	l.mu.Lock()
	prev := l.tails[repoPath]
	l.tails[repoPath] = done
	l.mu.Unlock()

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			// Hand the slot over: close our done so later waiters (and the
			// tail cleanup) are not stuck behind an abandoned entry.
			go func() {
				<-prev
				close(done)
			}()
			return nil, ctx.Err()
		}
	}

	return func() {
		l.mu.Lock()
		if l.tails[repoPath] == done {
			delete(l.tails, repoPath)
		}
		l.mu.Unlock()
		close(done)
	}, nil
}
