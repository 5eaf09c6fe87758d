// Package proclock enforces single-owner access to the EC hardware across
// processes. Acquiring the lock file fails while any other process holds
// it, and the OS releases the lock automatically when the holder exits, so
// a crashed run never leaves a stale lock behind.
package proclock

import "errors"

// ErrLocked reports that another process currently holds the lock.
var ErrLocked = errors.New("lock held by another process")
