//go:build !unix && !windows

package proclock

import "errors"

// Lock is a held exclusive lock on a lock file.
type Lock struct {
	path string
}

func Acquire(path string) (*Lock, error) {
	return nil, errors.New("process locking not supported on this platform")
}

func (l *Lock) Release() error { return nil }

func (l *Lock) Path() string { return l.path }
