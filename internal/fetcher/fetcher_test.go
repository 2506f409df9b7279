package fetcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyphanet/wot/internal/engine"
	"github.com/hyphanet/wot/internal/graph"
	"github.com/hyphanet/wot/internal/storage/memory"
)

func newTestWorker(t *testing.T) (*Worker, *engine.Engine) {
	t.Helper()
	store := memory.New()
	eng := engine.New(store, nil)
	return New(store, eng, nil, nil, 1), eng
}

// TestCandidatesExcludesNonPositiveScore is the fix for the missing
// Score-positive gate: an Identity nobody trusts must never be scheduled
// for a fetch even if it has never been fetched.
func TestCandidatesExcludesNonPositiveScore(t *testing.T) {
	ctx := context.Background()
	w, eng := newTestWorker(t)

	require.NoError(t, eng.AddIdentity(ctx, &graph.Identity{ID: "untrusted", RequestAddress: "remote://untrusted"}))

	cands, err := w.candidates(ctx)
	require.NoError(t, err)
	assert.Empty(t, cands, "an identity with no Score anywhere must not be scheduled")
}

func TestCandidatesIncludesPositiveScoreNotYetFetched(t *testing.T) {
	ctx := context.Background()
	w, eng := newTestWorker(t)

	require.NoError(t, eng.CreateOwnIdentity(ctx, &graph.OwnIdentity{
		Identity: graph.Identity{ID: "V", RequestAddress: "own://V"},
	}))
	require.NoError(t, eng.AddIdentity(ctx, &graph.Identity{ID: "A", RequestAddress: "remote://A"}))
	require.NoError(t, eng.SetTrust(ctx, "V", "A", 50, ""))

	cands, err := w.candidates(ctx)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "A", cands[0].ID)
}

func TestCandidatesExcludesFetched(t *testing.T) {
	ctx := context.Background()
	w, eng := newTestWorker(t)

	require.NoError(t, eng.CreateOwnIdentity(ctx, &graph.OwnIdentity{
		Identity: graph.Identity{ID: "V", RequestAddress: "own://V"},
	}))
	require.NoError(t, eng.AddIdentity(ctx, &graph.Identity{ID: "A", RequestAddress: "remote://A"}))
	require.NoError(t, eng.SetTrust(ctx, "V", "A", 50, ""))
	require.NoError(t, eng.ApplyDocument(ctx, "A", 1, nil, false, nil, nil, nil))

	cands, err := w.candidates(ctx)
	require.NoError(t, err)
	assert.Empty(t, cands, "A is already Fetched")
}

// TestCandidatesExcludesNegativeScore covers the companion direction: a
// Score that exists but isn't positive still must not be scheduled.
func TestCandidatesExcludesNegativeScore(t *testing.T) {
	ctx := context.Background()
	w, eng := newTestWorker(t)

	require.NoError(t, eng.CreateOwnIdentity(ctx, &graph.OwnIdentity{
		Identity: graph.Identity{ID: "V", RequestAddress: "own://V"},
	}))
	require.NoError(t, eng.AddIdentity(ctx, &graph.Identity{ID: "A", RequestAddress: "remote://A"}))
	require.NoError(t, eng.SetTrust(ctx, "V", "A", -50, ""))

	cands, err := w.candidates(ctx)
	require.NoError(t, err)
	assert.Empty(t, cands)
}
