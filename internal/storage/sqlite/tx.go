package sqlite

import (
	"context"
	"database/sql"
	"strings"
)

// tx wraps a dedicated *sql.Conn holding an open BEGIN IMMEDIATE
// transaction. Every Tx method issues plain statements on conn rather than
// going through database/sql's *sql.Tx, since modernc.org/sqlite's driver
// does not expose savepoints through that type in a way the teacher's
// query layer relied on; conn already pins us to one physical connection.
type tx struct {
	conn      *sql.Conn
	committed bool
}

func (t *tx) Commit(ctx context.Context) error {
	_, err := t.conn.ExecContext(ctx, "COMMIT")
	closeErr := t.conn.Close()
	if err != nil {
		return wrapDBError("commit", err)
	}
	t.committed = true
	return closeErr
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.committed {
		return nil
	}
	_, err := t.conn.ExecContext(ctx, "ROLLBACK")
	closeErr := t.conn.Close()
	if err != nil {
		return wrapDBError("rollback", err)
	}
	return closeErr
}

// requireRowAffected converts a no-op UPDATE/DELETE (zero rows affected)
// into ErrNotFound, since the caller asked to mutate a specific row that
// turned out not to exist.
func requireRowAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError(op, err)
	}
	if n == 0 {
		return wrapDBError(op, sql.ErrNoRows)
	}
	return nil
}

// wrapConstraintAsConflict turns a UNIQUE/PRIMARY KEY violation into
// ErrConflict, distinguishing "already exists" from other database errors
// at the call sites that need to map it to ErrDuplicateIdentity and
// friends (internal/engine).
func wrapConstraintAsConflict(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "constraint failed") {
		return wrapDBError(op, ErrConflict)
	}
	return wrapDBError(op, err)
}
