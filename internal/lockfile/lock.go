// Package lockfile provides cross-platform advisory file locking used to
// guard the persistence layer's single object-store file against
// concurrent writers from separate processes.
package lockfile

import (
	"errors"
)

// ErrLocked is returned when an exclusive lock cannot be acquired because
// it is held by another process.
var ErrLocked = errStoreLocked

// ErrLockBusy is returned when a non-blocking lock (shared or exclusive)
// cannot be acquired because a conflicting lock is already held.
var ErrLockBusy = errors.New("lock busy: held by another process")

// IsLocked returns true if the error indicates the store's lock file is
// held by another process.
func IsLocked(err error) bool {
	return errors.Is(err, errStoreLocked)
}
