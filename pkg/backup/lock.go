package backup

import (
	"golang.org/x/sync/semaphore"
)

// pipelineLockName identifies the lock in logs.
const pipelineLockName = "backup-pipeline"

// pipelineLock lets one backup or restore run per process. It is never waited on.
type pipelineLock struct {
	sem *semaphore.Weighted
}

func newPipelineLock() *pipelineLock {
	return &pipelineLock{sem: semaphore.NewWeighted(1)}
}

func (l *pipelineLock) tryAcquire() bool {
	return l.sem.TryAcquire(1)
}

func (l *pipelineLock) release() {
	l.sem.Release(1)
}
