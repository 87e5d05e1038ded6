package indexer

import "sync/atomic"

// JobLock guards corpus jobs. A second job started from the CLI or MCP while
// one is running fails fast with ErrJobRunning instead of queueing behind it.
type JobLock struct {
	held atomic.Bool
}

// TryAcquire takes the lock if it is free.
func (l *JobLock) TryAcquire() bool {
	return l.held.CompareAndSwap(false, true)
}

// Release frees the lock. Only the holder may call it.
func (l *JobLock) Release() {
	l.held.Store(false)
}

// Held reports whether a job currently holds the lock.
func (l *JobLock) Held() bool {
	return l.held.Load()
}
