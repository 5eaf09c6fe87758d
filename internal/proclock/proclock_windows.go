//go:build windows

package proclock

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
)

// Lock is a held exclusive lock on a lock file.
type Lock struct {
	path   string
	handle windows.Handle
}

// Acquire opens the lock file with sharing disabled, so any further open
// from this or another process fails until the handle closes.
func Acquire(path string) (*Lock, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, fmt.Errorf("lock path %s: %w", path, err)
	}
	h, err := windows.CreateFile(
		p,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0, // no share mode
		nil,
		windows.OPEN_ALWAYS,
		windows.FILE_ATTRIBUTE_NORMAL,
		0,
	)
	if err != nil {
		if errors.Is(err, windows.ERROR_SHARING_VIOLATION) {
			return nil, fmt.Errorf("%s: %w", path, ErrLocked)
		}
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	return &Lock{path: path, handle: h}, nil
}

// Release drops the lock. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.handle == 0 || l.handle == windows.InvalidHandle {
		return nil
	}
	err := windows.CloseHandle(l.handle)
	l.handle = 0
	if err != nil {
		return fmt.Errorf("close lock file %s: %w", l.path, err)
	}
	return nil
}

func (l *Lock) Path() string { return l.path }
