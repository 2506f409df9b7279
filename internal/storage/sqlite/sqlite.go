// Package sqlite is the persistence layer's single-file backing store
// (spec §4.1): one modernc.org/sqlite database, opened through a dedicated
// *sql.Conn per transaction so database/sql's pool can never hand a
// transaction's statements to a different underlying connection mid-flight.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hyphanet/wot/internal/graph"
	"github.com/hyphanet/wot/internal/lockfile"
	"github.com/hyphanet/wot/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS identity (
	id                   TEXT PRIMARY KEY,
	request_address      TEXT NOT NULL,
	current_edition      INTEGER NOT NULL DEFAULT 0,
	latest_edition_hint  INTEGER NOT NULL DEFAULT 0,
	fetch_state          INTEGER NOT NULL DEFAULT 0,
	last_fetched_at      DATETIME,
	last_changed_at      DATETIME NOT NULL,
	added_at             DATETIME NOT NULL,
	nickname             TEXT,
	publishes_trust_list INTEGER NOT NULL DEFAULT 0,
	contexts             TEXT NOT NULL DEFAULT '[]',
	properties           TEXT NOT NULL DEFAULT '{}',
	is_own               INTEGER NOT NULL DEFAULT 0,
	insert_address       TEXT,
	created_at           DATETIME,
	last_inserted_at     DATETIME
);

CREATE INDEX IF NOT EXISTS idx_identity_fetch_state ON identity(fetch_state);
CREATE INDEX IF NOT EXISTS idx_identity_is_own ON identity(is_own);
CREATE INDEX IF NOT EXISTS idx_identity_last_fetched_at ON identity(last_fetched_at);

CREATE TABLE IF NOT EXISTS trust (
	truster TEXT NOT NULL,
	trustee TEXT NOT NULL,
	value   INTEGER NOT NULL,
	comment TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (truster, trustee)
);

CREATE INDEX IF NOT EXISTS idx_trust_trustee ON trust(trustee);

CREATE TABLE IF NOT EXISTS score (
	viewer   TEXT NOT NULL,
	target   TEXT NOT NULL,
	value    INTEGER NOT NULL,
	rank     INTEGER NOT NULL,
	capacity INTEGER NOT NULL,
	PRIMARY KEY (viewer, target)
);

CREATE INDEX IF NOT EXISTS idx_score_target ON score(target);

CREATE TABLE IF NOT EXISTS introduction_puzzle (
	id               TEXT PRIMARY KEY,
	type             TEXT NOT NULL,
	mime_type        TEXT NOT NULL,
	data             BLOB NOT NULL,
	inserter         TEXT NOT NULL,
	day_of_insertion DATETIME NOT NULL,
	idx              INTEGER NOT NULL,
	valid_until      DATETIME NOT NULL,
	was_solved       INTEGER NOT NULL DEFAULT 0,
	was_inserted     INTEGER NOT NULL DEFAULT 0,
	solver           TEXT,
	solution         BLOB
);

CREATE INDEX IF NOT EXISTS idx_puzzle_inserter ON introduction_puzzle(inserter);
CREATE INDEX IF NOT EXISTS idx_puzzle_valid_until ON introduction_puzzle(valid_until);

CREATE TABLE IF NOT EXISTS config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store is the sqlite-backed implementation of storage.Store.
type Store struct {
	db       *sql.DB
	lockFile *os.File
}

// New opens (and if necessary creates and migrates) the object store at
// dbPath. A single *sql.DB is kept open for the process lifetime; each
// transaction borrows a dedicated *sql.Conn from it via Begin.
//
// database/sql's connection pool only serializes access within one process;
// it does nothing to stop a second process from opening the same file, so
// dbPath+".lock" is advisory-flocked for the Store's lifetime (the same
// guard the teacher's own on-disk store takes) to fail fast instead of
// corrupting the database under concurrent processes.
func New(ctx context.Context, dbPath string) (*Store, error) {
	lockFile, err := os.OpenFile(dbPath+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := lockfile.FlockExclusiveNonBlocking(lockFile); err != nil {
		lockFile.Close()
		return nil, fmt.Errorf("lock store %s: %w", dbPath, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		lockfile.FlockUnlock(lockFile)
		lockFile.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(8)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		lockfile.FlockUnlock(lockFile)
		lockFile.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		lockfile.FlockUnlock(lockFile)
		lockFile.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		lockfile.FlockUnlock(lockFile)
		lockFile.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, lockFile: lockFile}, nil
}

// Close releases the underlying connection pool and the advisory lock on
// the store's file path.
func (s *Store) Close() error {
	err := s.db.Close()
	if s.lockFile != nil {
		lockfile.FlockUnlock(s.lockFile)
		s.lockFile.Close()
	}
	return err
}

// beginImmediateWithRetry opens a dedicated connection and issues
// BEGIN IMMEDIATE on it, retrying on SQLITE_BUSY with a doubling backoff
// (10ms first, at most 6 attempts) so a
// writer waiting on another writer doesn't simply fail the transaction.
func beginImmediateWithRetry(ctx context.Context, db *sql.DB) (*sql.Conn, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	backoff := 10 * time.Millisecond
	const maxAttempts = 6
	for attempt := 0; attempt < maxAttempts; attempt++ {
		_, err = conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return conn, nil
		}
		if !isBusyError(err) || attempt == maxAttempts-1 {
			conn.Close()
			return nil, fmt.Errorf("begin immediate: %w", err)
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			conn.Close()
			return nil, ctx.Err()
		}
		backoff *= 2
	}
	conn.Close()
	return nil, fmt.Errorf("begin immediate: %w", err)
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return contains(msg, "SQLITE_BUSY") || contains(msg, "database is locked")
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// Begin opens a transaction over a dedicated connection.
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	conn, err := beginImmediateWithRetry(ctx, s.db)
	if err != nil {
		return nil, err
	}
	return &tx{conn: conn}, nil
}

func (s *Store) GetIdentity(ctx context.Context, id string) (*graph.Identity, error) {
	return getIdentity(ctx, s.db, id)
}

func (s *Store) GetOwnIdentity(ctx context.Context, id string) (*graph.OwnIdentity, error) {
	return getOwnIdentity(ctx, s.db, id)
}

func (s *Store) ListIdentities(ctx context.Context) ([]*graph.Identity, error) {
	return listIdentities(ctx, s.db)
}

func (s *Store) ListOwnIdentities(ctx context.Context) ([]*graph.OwnIdentity, error) {
	return listOwnIdentities(ctx, s.db)
}

func (s *Store) GetTrust(ctx context.Context, truster, trustee string) (*graph.Trust, error) {
	return getTrust(ctx, s.db, truster, trustee)
}

func (s *Store) ListTrustsFrom(ctx context.Context, truster string) ([]*graph.Trust, error) {
	return listTrustsFrom(ctx, s.db, truster)
}

func (s *Store) ListTrustsTo(ctx context.Context, trustee string) ([]*graph.Trust, error) {
	return listTrustsTo(ctx, s.db, trustee)
}

func (s *Store) GetScore(ctx context.Context, viewer, target string) (*graph.Score, error) {
	return getScore(ctx, s.db, viewer, target)
}

func (s *Store) ListScoresForViewer(ctx context.Context, viewer string) ([]*graph.Score, error) {
	return listScoresForViewer(ctx, s.db, viewer)
}

func (s *Store) GetPuzzle(ctx context.Context, id string) (*graph.IntroductionPuzzle, error) {
	return getPuzzle(ctx, s.db, id)
}

func (s *Store) ListPuzzlesByInserter(ctx context.Context, inserter string) ([]*graph.IntroductionPuzzle, error) {
	return listPuzzlesByInserter(ctx, s.db, inserter)
}

func (s *Store) ListExpiredPuzzles(ctx context.Context, asOf time.Time) ([]*graph.IntroductionPuzzle, error) {
	return listExpiredPuzzles(ctx, s.db, asOf)
}

func (s *Store) GetConfig(ctx context.Context, key string) (string, bool, error) {
	return getConfig(ctx, s.db, key)
}

// querier is satisfied by both *sql.DB and *sql.Conn, letting the read
// helpers below serve untransacted Store reads and transactional Tx reads
// from the same code.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

var (
	_ storage.Store = (*Store)(nil)
	_ storage.Tx    = (*tx)(nil)
)
