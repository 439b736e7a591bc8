// Package syflock provides the advisory file locks used for the
// single-instance daemon lock and the per-icon-file sibling lock
// (spec.md §6), grounded on the teacher's single-open-handle-per-
// resource discipline (storage.Store's closeOnce pattern) but backed
// by flock(2) so it survives process crashes without becoming stale.
package syflock

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Lock is a held advisory exclusive lock on one file.
type Lock struct {
	file *os.File
	path string
}

// Acquire opens (creating if needed) path and takes a non-blocking
// exclusive advisory lock. It is NOT stale-recoverable: a second
// Acquire on the same path fails while the first is held, even across
// processes, per spec.md §6's "not stale-recoverable" note. The lock is
// released automatically by the OS when the process exits or Release
// is called.
func Acquire(path string) (*Lock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("syflock: open %q: %w", path, err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("syflock: lock %q: %w", path, err)
	}

	return &Lock{file: file, path: path}, nil
}

// Release drops the lock and closes the underlying file handle.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return err
	}
	return closeErr
}

// Path returns the locked file's path.
func (l *Lock) Path() string {
	return l.path
}

// WithSiblingLock runs fn while holding an exclusive lock on
// "<path>.lock", the scheme spec.md §6 prescribes for icon cache files.
func WithSiblingLock(path string, fn func() error) error {
	lock, err := Acquire(path + ".lock")
	if err != nil {
		return err
	}
	defer func() {
		_ = lock.Release()
	}()
	return fn()
}
