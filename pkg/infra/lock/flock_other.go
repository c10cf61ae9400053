//go:build !unix

package lock

// fileHandle marks the lock as held; there is no cross-process guard here.
type fileHandle = *struct{}

func (l *FileLock) TryLock() error {
	if l.f != nil {
		return ErrLocked
	}
	l.f = &struct{}{}
	return nil
}

func (l *FileLock) Unlock() error {
	l.f = nil
	return nil
}
