//go:build unix

package repomap

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// fileLock holds an open file with an exclusive flock.
type fileLock struct {
	f *os.File
}

// acquireFileLock opens (or creates) the file at path and attempts a
// non-blocking exclusive flock. A lock held elsewhere yields ErrLocked.
func acquireFileLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	return &fileLock{f: f}, nil
}

// Unlock releases the flock and closes the file.
func (l *fileLock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	// Closing the file releases the lock anyway.
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
