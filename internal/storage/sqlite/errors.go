package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/hyphanet/wot/internal/storage"
)

// Sentinel errors for common database conditions. ErrNotFound and
// ErrConflict alias the backend-independent sentinels in storage so engine
// code can branch on errors.Is without importing this package directly.
var (
	ErrNotFound = storage.ErrNotFound
	ErrConflict = storage.ErrConflict

	// ErrInvalidID indicates an ID format or validation error
	ErrInvalidID = errors.New("invalid ID")

	// ErrCycle indicates a dependency cycle would be created
	ErrCycle = errors.New("dependency cycle detected")
)

// wrapDBError wraps a database error with operation context
// It converts sql.ErrNoRows to ErrNotFound for consistent error handling
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// wrapDBErrorf wraps a database error with formatted operation context
// It converts sql.ErrNoRows to ErrNotFound for consistent error handling
func wrapDBErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	op := fmt.Sprintf(format, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isNotFound checks if an error is or wraps ErrNotFound
func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// isConflict checks if an error is or wraps ErrConflict
func isConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// isCycle checks if an error is or wraps ErrCycle
func isCycle(err error) bool {
	return errors.Is(err, ErrCycle)
}
