package puzzle_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyphanet/wot/internal/engine"
	"github.com/hyphanet/wot/internal/graph"
	"github.com/hyphanet/wot/internal/puzzle"
	"github.com/hyphanet/wot/internal/storage"
	"github.com/hyphanet/wot/internal/storage/memory"
	"github.com/hyphanet/wot/internal/woterrors"
)

type noopInserter struct{}

func (noopInserter) Insert(ctx context.Context, insertAddress string, edition int64, body []byte) error {
	return nil
}

type fakeAddrCodec struct{}

func (fakeAddrCodec) PuzzleRequestAddress(inserterRequestKey, dayOfInsertion string, index int) string {
	return inserterRequestKey + "/" + dayOfInsertion + "/request"
}

func (fakeAddrCodec) PuzzleSolutionAddress(inserterID, puzzleID string, solution []byte) string {
	return inserterID + "/" + puzzleID + "/solution"
}

func newTestServer(t *testing.T) (*puzzle.Server, *engine.Engine, storage.Store) {
	t.Helper()
	store := memory.New()
	eng := engine.New(store, nil)
	return puzzle.NewServer(store, eng, fakeAddrCodec{}, noopInserter{}, nil), eng, store
}

func insertPuzzle(t *testing.T, ctx context.Context, store storage.Store, p *graph.IntroductionPuzzle) {
	t.Helper()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertPuzzle(ctx, p))
	require.NoError(t, tx.Commit(ctx))
}

func testPuzzle(inserter string) *graph.IntroductionPuzzle {
	return &graph.IntroductionPuzzle{
		ID:             "puzzle-1@" + inserter,
		Type:           "captcha",
		MimeType:       "application/octet-stream",
		Data:           []byte("captcha-image"),
		Inserter:       inserter,
		DayOfInsertion: time.Now().UTC().Truncate(24 * time.Hour),
		Index:          0,
		ValidUntil:     time.Now().Add(24 * time.Hour),
		Solution:       []byte("the-right-answer"),
	}
}

// TestImportSolutionRejectsMismatch is the fix for the Sybil-admission
// bypass: a caller that doesn't know the real solution must not be able to
// claim a puzzle and receive a Trust edge.
func TestImportSolutionRejectsMismatch(t *testing.T) {
	ctx := context.Background()
	srv, eng, store := newTestServer(t)

	require.NoError(t, eng.CreateOwnIdentity(ctx, &graph.OwnIdentity{
		Identity: graph.Identity{ID: "V", RequestAddress: "own://V", Contexts: []string{puzzle.IntroductionContext}},
	}))
	p := testPuzzle("V")
	insertPuzzle(t, ctx, store, p)

	err := srv.ImportSolution(ctx, p.ID, "remote://solver", []byte("wrong-answer"), 50, "introduction")
	require.ErrorIs(t, err, woterrors.ErrInvalidSolution)

	_, err = store.GetTrust(ctx, "V", graph.IdentityIDFromAddress("remote://solver"))
	assert.ErrorIs(t, err, storage.ErrNotFound, "no Trust edge may be created for an unsolved puzzle")

	got, err := store.GetPuzzle(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, got.WasSolved)
}

// TestImportSolutionAcceptsMatch is S5: a correct solution creates a
// bounded-value Trust edge from the puzzle's inserter to the solver, adds
// the solver to the viewer's tree, and marks the puzzle solved exactly
// once even if the solve is retried.
func TestImportSolutionAcceptsMatch(t *testing.T) {
	ctx := context.Background()
	srv, eng, store := newTestServer(t)

	require.NoError(t, eng.CreateOwnIdentity(ctx, &graph.OwnIdentity{
		Identity: graph.Identity{ID: "V", RequestAddress: "own://V", Contexts: []string{puzzle.IntroductionContext}},
	}))
	p := testPuzzle("V")
	insertPuzzle(t, ctx, store, p)

	solverAddr := "remote://solver"
	solverID := graph.IdentityIDFromAddress(solverAddr)

	require.NoError(t, srv.ImportSolution(ctx, p.ID, solverAddr, p.Solution, 50, "introduction"))

	trust, err := store.GetTrust(ctx, "V", solverID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, int(trust.Value), 0)
	assert.LessOrEqual(t, int(trust.Value), 100)

	score, err := store.GetScore(ctx, "V", solverID)
	require.NoError(t, err)
	assert.Equal(t, 1, score.Rank)

	got, err := store.GetPuzzle(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.WasSolved)
	require.NotNil(t, got.Solver)
	assert.Equal(t, solverID, *got.Solver)

	// Retrying the now-solved puzzle must not create a second edge or error.
	require.NoError(t, srv.ImportSolution(ctx, p.ID, solverAddr, p.Solution, 50, "introduction"))
	trusts, err := store.ListTrustsFrom(ctx, "V")
	require.NoError(t, err)
	assert.Len(t, trusts, 1)
}

// TestReapDeletesOnlyExpiredUnsolved checks the reaper leaves solved and
// still-valid puzzles alone.
func TestReapDeletesOnlyExpiredUnsolved(t *testing.T) {
	ctx := context.Background()
	srv, _, store := newTestServer(t)

	expired := testPuzzle("V")
	expired.ID = "expired@V"
	expired.ValidUntil = time.Now().Add(-time.Hour)
	insertPuzzle(t, ctx, store, expired)

	expiredSolved := testPuzzle("V")
	expiredSolved.ID = "expired-solved@V"
	expiredSolved.ValidUntil = time.Now().Add(-time.Hour)
	expiredSolved.WasSolved = true
	insertPuzzle(t, ctx, store, expiredSolved)

	fresh := testPuzzle("V")
	fresh.ID = "fresh@V"
	insertPuzzle(t, ctx, store, fresh)

	n, err := srv.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.GetPuzzle(ctx, expired.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.GetPuzzle(ctx, expiredSolved.ID)
	assert.NoError(t, err, "a solved puzzle is left for the inserter's own bookkeeping even past its validity window")

	_, err = store.GetPuzzle(ctx, fresh.ID)
	assert.NoError(t, err)
}
