package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyphanet/wot/internal/engine"
	"github.com/hyphanet/wot/internal/graph"
	"github.com/hyphanet/wot/internal/storage"
	"github.com/hyphanet/wot/internal/storage/memory"
	"github.com/hyphanet/wot/internal/woterrors"
)

func newTestEngine(t *testing.T) (*engine.Engine, storage.Store) {
	t.Helper()
	store := memory.New()
	return engine.New(store, nil), store
}

func addOwnIdentity(t *testing.T, ctx context.Context, e *engine.Engine, id string) {
	t.Helper()
	own := &graph.OwnIdentity{Identity: graph.Identity{ID: id, RequestAddress: "own://" + id}}
	require.NoError(t, e.CreateOwnIdentity(ctx, own))
}

func addIdentity(t *testing.T, ctx context.Context, e *engine.Engine, id string) {
	t.Helper()
	require.NoError(t, e.AddIdentity(ctx, &graph.Identity{ID: id, RequestAddress: "remote://" + id}))
}

func getScore(t *testing.T, ctx context.Context, store storage.Store, viewer, target string) *graph.Score {
	t.Helper()
	s, err := store.GetScore(ctx, viewer, target)
	require.NoError(t, err)
	return s
}

// TestLinearChain is S1: a straight line of trust should decay through the
// fixed capacity table one rank per hop.
func TestLinearChain(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t)

	addOwnIdentity(t, ctx, e, "V")
	addIdentity(t, ctx, e, "A")
	addIdentity(t, ctx, e, "B")
	addIdentity(t, ctx, e, "C")

	require.NoError(t, e.SetTrust(ctx, "V", "A", 100, ""))
	require.NoError(t, e.SetTrust(ctx, "A", "B", 100, ""))
	require.NoError(t, e.SetTrust(ctx, "B", "C", 100, ""))

	a := getScore(t, ctx, store, "V", "A")
	assert.Equal(t, 1, a.Rank)
	assert.Equal(t, 40, a.Capacity)
	assert.Equal(t, 100, a.Value)

	b := getScore(t, ctx, store, "V", "B")
	assert.Equal(t, 2, b.Rank)
	assert.Equal(t, 16, b.Capacity)
	assert.Equal(t, 40, b.Value)

	c := getScore(t, ctx, store, "V", "C")
	assert.Equal(t, 3, c.Rank)
	assert.Equal(t, 6, c.Capacity)
	assert.Equal(t, 16, c.Value)
}

// TestNegativeDirectTrustCapsCapacity is S2: a negative direct edge from the
// viewer always wins the rank race (the viewer's own capacity is always
// 100, so it always yields the lowest candidate rank+1 among a target's
// trusters), but forces capacity to 0 regardless of what the capacity
// table would otherwise award that rank. Everything downstream of the
// now-zero-capacity target loses its Score.
func TestNegativeDirectTrustCapsCapacity(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t)

	addOwnIdentity(t, ctx, e, "V")
	addIdentity(t, ctx, e, "A")
	addIdentity(t, ctx, e, "B")
	addIdentity(t, ctx, e, "C")

	require.NoError(t, e.SetTrust(ctx, "V", "A", 100, ""))
	require.NoError(t, e.SetTrust(ctx, "A", "B", 100, ""))
	require.NoError(t, e.SetTrust(ctx, "B", "C", 100, ""))

	require.NoError(t, e.SetTrust(ctx, "V", "B", -50, ""))

	b := getScore(t, ctx, store, "V", "B")
	assert.Equal(t, 1, b.Rank, "the viewer's own direct edge, even negative, still has capacity 100 and so outranks the indirect path via A")
	assert.Equal(t, 0, b.Capacity)
	assert.Equal(t, -10, b.Value, "40 from A (value 100 * A's capacity 40 / 100) plus -50 from V's own direct edge (value -50 * 100 / 100)")

	_, err := store.GetScore(ctx, "V", "C")
	assert.ErrorIs(t, err, storage.ErrNotFound, "C was only reachable through B, whose capacity just dropped to 0")

	a := getScore(t, ctx, store, "V", "A")
	assert.Equal(t, 40, a.Capacity, "A itself is untouched by B's change")
}

// TestEdgeDeletionCascades is S3: removing the first edge of a chain must
// delete every downstream Score, not just the one directly affected.
func TestEdgeDeletionCascades(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t)

	addOwnIdentity(t, ctx, e, "V")
	addIdentity(t, ctx, e, "A")
	addIdentity(t, ctx, e, "B")
	addIdentity(t, ctx, e, "C")

	require.NoError(t, e.SetTrust(ctx, "V", "A", 100, ""))
	require.NoError(t, e.SetTrust(ctx, "A", "B", 100, ""))
	require.NoError(t, e.SetTrust(ctx, "B", "C", 100, ""))

	require.NoError(t, e.RemoveTrust(ctx, "V", "A"))

	for _, target := range []string{"A", "B", "C"} {
		_, err := store.GetScore(ctx, "V", target)
		assert.ErrorIsf(t, err, storage.ErrNotFound, "%s should have no Score left in V's tree", target)
	}
}

// TestTwoViewersDisjoint is S4: two OwnIdentities' trees never leak into
// each other even though reconcile always walks every viewer.
func TestTwoViewersDisjoint(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t)

	addOwnIdentity(t, ctx, e, "V1")
	addOwnIdentity(t, ctx, e, "V2")
	addIdentity(t, ctx, e, "X")
	addIdentity(t, ctx, e, "Y")

	require.NoError(t, e.SetTrust(ctx, "V1", "X", 80, ""))
	require.NoError(t, e.SetTrust(ctx, "V2", "Y", 80, ""))

	x := getScore(t, ctx, store, "V1", "X")
	assert.Equal(t, 1, x.Rank)

	y := getScore(t, ctx, store, "V2", "Y")
	assert.Equal(t, 1, y.Rank)

	_, err := store.GetScore(ctx, "V1", "Y")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.GetScore(ctx, "V2", "X")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// TestParseFailureDoesNotCorrupt is S6: a fetch that failed to parse must
// advance the edition and flip fetch_state without touching Trust/Score.
func TestParseFailureDoesNotCorrupt(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t)

	addOwnIdentity(t, ctx, e, "V")
	addIdentity(t, ctx, e, "A")
	require.NoError(t, e.SetTrust(ctx, "V", "A", 100, ""))
	before := getScore(t, ctx, store, "V", "A")

	require.NoError(t, e.MarkParsingFailed(ctx, "A", 7))

	id, err := store.GetIdentity(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, graph.ParsingFailed, id.FetchState)
	assert.Equal(t, int64(7), id.CurrentEdition)

	trusts, err := store.ListTrustsFrom(ctx, "V")
	require.NoError(t, err)
	assert.Len(t, trusts, 1, "no Trust edit landed")

	after := getScore(t, ctx, store, "V", "A")
	assert.Equal(t, *before, *after, "Score is untouched by a parse failure")
}

// TestApplyDocumentIdempotent is P7: applying the same parsed document
// twice must leave Trust/Score/attributes exactly as applying it once did.
func TestApplyDocumentIdempotent(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t)

	addOwnIdentity(t, ctx, e, "V")
	addIdentity(t, ctx, e, "A")
	addIdentity(t, ctx, e, "B")
	require.NoError(t, e.SetTrust(ctx, "V", "A", 100, ""))

	nickname := "alice"
	apply := func() error {
		return e.ApplyDocument(ctx, "A", 3, &nickname, true, []string{"introduction"},
			map[string]string{"k": "v"}, []engine.ParsedTrustEdge{{Trustee: "B", Value: 50, Comment: "hi"}})
	}
	require.NoError(t, apply())

	firstTrust, err := store.GetTrust(ctx, "A", "B")
	require.NoError(t, err)
	firstScore := getScore(t, ctx, store, "V", "B")
	firstIdentity, err := store.GetIdentity(ctx, "A")
	require.NoError(t, err)

	require.NoError(t, apply())

	secondTrust, err := store.GetTrust(ctx, "A", "B")
	require.NoError(t, err)
	secondScore := getScore(t, ctx, store, "V", "B")
	secondIdentity, err := store.GetIdentity(ctx, "A")
	require.NoError(t, err)

	assert.Equal(t, *firstTrust, *secondTrust)
	assert.Equal(t, *firstScore, *secondScore)
	assert.Equal(t, firstIdentity.Nickname, secondIdentity.Nickname)
	assert.Equal(t, firstIdentity.Properties, secondIdentity.Properties)
	assert.Equal(t, firstIdentity.CurrentEdition, secondIdentity.CurrentEdition)
}

// TestNoScoreForSelf is P8: even when a cycle routes back to the viewer,
// no Score is ever stored for (viewer, viewer).
func TestNoScoreForSelf(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t)

	addOwnIdentity(t, ctx, e, "V")
	addIdentity(t, ctx, e, "A")

	require.NoError(t, e.SetTrust(ctx, "V", "A", 100, ""))
	require.NoError(t, e.SetTrust(ctx, "A", "V", 100, ""))

	_, err := store.GetScore(ctx, "V", "V")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// TestRecomputeFromScratchAgreesWithIncremental is P5: a batch recompute
// over the current Trust relation must reproduce whatever the incremental
// reconcile path already stored.
func TestRecomputeFromScratchAgreesWithIncremental(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t)

	addOwnIdentity(t, ctx, e, "V")
	addIdentity(t, ctx, e, "A")
	addIdentity(t, ctx, e, "B")
	addIdentity(t, ctx, e, "C")

	require.NoError(t, e.SetTrust(ctx, "V", "A", 100, ""))
	require.NoError(t, e.SetTrust(ctx, "A", "B", 100, ""))
	require.NoError(t, e.SetTrust(ctx, "B", "C", 100, ""))
	require.NoError(t, e.SetTrust(ctx, "V", "B", -50, ""))

	before := make(map[string]graph.Score)
	for _, target := range []string{"A", "B", "C"} {
		if s, err := store.GetScore(ctx, "V", target); err == nil {
			before[target] = *s
		}
	}

	require.NoError(t, e.RecomputeFromScratch(ctx, "V"))

	for _, target := range []string{"A", "B", "C"} {
		s, err := store.GetScore(ctx, "V", target)
		if _, existed := before[target]; !existed {
			assert.ErrorIs(t, err, storage.ErrNotFound, "%s had no Score before and must have none after", target)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, before[target], *s)
	}
}

// TestSetTrustUnknownIdentityFailsClosed ensures a trust edge can never be
// recorded toward an identity the store has never heard of.
func TestSetTrustUnknownIdentityFailsClosed(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	addOwnIdentity(t, ctx, e, "V")

	err := e.SetTrust(ctx, "V", "ghost", 50, "")
	assert.ErrorIs(t, err, woterrors.ErrUnknownIdentity)
}
