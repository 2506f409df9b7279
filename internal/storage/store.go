// Package storage defines the persistence layer interface (spec §4.1): a
// typed object store with transactional commit/rollback, indexed point
// lookups, and range queries on declared fields. The trust graph engine
// borrows entities from the store inside transactions; the store is the
// sole owner of record (spec §3 "Ownership model").
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hyphanet/wot/internal/graph"
)

// Sentinel errors shared by every Store/Tx implementation, so engine code
// can branch on errors.Is regardless of which backend is wired in.
var (
	// ErrNotFound indicates a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a unique-key violation (a record with the same
	// identity already exists).
	ErrConflict = errors.New("conflict")
)

// Store is the persistence layer's top-level handle: it opens scoped
// transactions and serves untransacted point reads for callers (RPC
// facade, CLI) that don't need read-your-writes consistency across
// multiple calls.
type Store interface {
	// Begin opens a new transaction. Uncommitted writes inside it are
	// invisible to concurrent readers (spec §4.1).
	Begin(ctx context.Context) (Tx, error)

	GetIdentity(ctx context.Context, id string) (*graph.Identity, error)
	GetOwnIdentity(ctx context.Context, id string) (*graph.OwnIdentity, error)
	ListIdentities(ctx context.Context) ([]*graph.Identity, error)
	ListOwnIdentities(ctx context.Context) ([]*graph.OwnIdentity, error)
	GetTrust(ctx context.Context, truster, trustee string) (*graph.Trust, error)
	ListTrustsFrom(ctx context.Context, truster string) ([]*graph.Trust, error)
	ListTrustsTo(ctx context.Context, trustee string) ([]*graph.Trust, error)
	GetScore(ctx context.Context, viewer, target string) (*graph.Score, error)
	ListScoresForViewer(ctx context.Context, viewer string) ([]*graph.Score, error)
	GetPuzzle(ctx context.Context, id string) (*graph.IntroductionPuzzle, error)
	ListPuzzlesByInserter(ctx context.Context, inserter string) ([]*graph.IntroductionPuzzle, error)
	ListExpiredPuzzles(ctx context.Context, asOf time.Time) ([]*graph.IntroductionPuzzle, error)
	GetConfig(ctx context.Context, key string) (string, bool, error)

	// Close releases the underlying resources (connection pool, lock file).
	Close() error
}

// Tx is a scoped transaction over the object store. All mutation methods
// of the trust graph engine (§4.3) run inside exactly one Tx; either every
// write in it is durable after Commit, or none are after Rollback.
type Tx interface {
	// Identity
	InsertIdentity(ctx context.Context, id *graph.Identity) error
	UpdateIdentity(ctx context.Context, id *graph.Identity) error
	DeleteIdentity(ctx context.Context, id string) error
	GetIdentity(ctx context.Context, id string) (*graph.Identity, error)
	ListIdentities(ctx context.Context) ([]*graph.Identity, error)

	InsertOwnIdentity(ctx context.Context, own *graph.OwnIdentity) error
	UpdateOwnIdentity(ctx context.Context, own *graph.OwnIdentity) error
	GetOwnIdentity(ctx context.Context, id string) (*graph.OwnIdentity, error)
	ListOwnIdentities(ctx context.Context) ([]*graph.OwnIdentity, error)

	// Trust
	UpsertTrust(ctx context.Context, t *graph.Trust) error
	DeleteTrust(ctx context.Context, truster, trustee string) error
	GetTrust(ctx context.Context, truster, trustee string) (*graph.Trust, error)
	ListTrustsFrom(ctx context.Context, truster string) ([]*graph.Trust, error)
	ListTrustsTo(ctx context.Context, trustee string) ([]*graph.Trust, error)
	DeleteTrustsInvolving(ctx context.Context, identityID string) error

	// Score
	UpsertScore(ctx context.Context, s *graph.Score) error
	DeleteScore(ctx context.Context, viewer, target string) error
	GetScore(ctx context.Context, viewer, target string) (*graph.Score, error)
	ListScoresForViewer(ctx context.Context, viewer string) ([]*graph.Score, error)
	DeleteScoresInvolving(ctx context.Context, identityID string) error

	// Introduction puzzles
	InsertPuzzle(ctx context.Context, p *graph.IntroductionPuzzle) error
	UpdatePuzzle(ctx context.Context, p *graph.IntroductionPuzzle) error
	DeletePuzzle(ctx context.Context, id string) error
	GetPuzzle(ctx context.Context, id string) (*graph.IntroductionPuzzle, error)
	ListPuzzlesByInserter(ctx context.Context, inserter string) ([]*graph.IntroductionPuzzle, error)
	ListExpiredPuzzles(ctx context.Context, asOf time.Time) ([]*graph.IntroductionPuzzle, error)

	// Config
	SetConfig(ctx context.Context, key, value string) error
	GetConfig(ctx context.Context, key string) (string, bool, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
