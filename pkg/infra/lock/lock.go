// Package lock provides a cross-process lock file so that only one
// retrainer process runs a cycle at a time on a host.
package lock

import "errors"

// ErrLocked is returned by TryLock when another process holds the lock.
var ErrLocked = errors.New("lock is held by another process")

// FileLock is an advisory lock on a file path.
type FileLock struct {
	path string
	f    fileHandle
}

func New(path string) *FileLock {
	return &FileLock{path: path}
}

func (l *FileLock) Path() string { return l.path }
