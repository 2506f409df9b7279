package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyphanet/wot/internal/graph"
	"github.com/hyphanet/wot/internal/storage"
)

// reconcile recomputes Score in every OwnIdentity's tree for each of the
// given seed targets, then cascades to trustees of anything whose capacity
// changed, per identity tree, until every queue drains (spec §4.3 phases
// B/C). It is phase B+C of set_trust/remove_trust/delete_identity/
// apply_document; phase A (the edge mutation) has already been applied by
// the caller within the same transaction.
func (e *Engine) reconcile(ctx context.Context, tx storage.Tx, seeds []string) error {
	if len(seeds) == 0 {
		return nil
	}
	owners, err := tx.ListOwnIdentities(ctx)
	if err != nil {
		return err
	}
	for _, own := range owners {
		if err := e.reconcileViewer(ctx, tx, own.ID, seeds); err != nil {
			return fmt.Errorf("reconcile viewer %s: %w", own.ID, err)
		}
	}
	return nil
}

// reconcileViewer runs phases B and C of spec §4.3 for one viewer's tree,
// starting from the given seed targets and cascading through the queue
// until it drains.
func (e *Engine) reconcileViewer(ctx context.Context, tx storage.Tx, viewer string, seeds []string) error {
	queue := append([]string(nil), seeds...)
	enqueued := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		enqueued[s] = true
	}

	rounds := int64(0)
	for len(queue) > 0 {
		target := queue[0]
		queue = queue[1:]
		enqueued[target] = false
		rounds++

		if target == viewer {
			// the viewer never has a Score in its own tree (spec §4.3 tie-break)
			continue
		}

		capacityChanged, crossedPositive, err := e.recomputeOne(ctx, tx, viewer, target)
		if err != nil {
			return err
		}
		engineMetrics.reconcileTargets.Add(ctx, 1)
		if crossedPositive {
			if err := e.markForRefetch(ctx, tx, target); err != nil {
				return err
			}
		}
		if capacityChanged {
			trustees, err := tx.ListTrustsFrom(ctx, target)
			if err != nil {
				return err
			}
			for _, t := range trustees {
				if !enqueued[t.Trustee] {
					queue = append(queue, t.Trustee)
					enqueued[t.Trustee] = true
				}
			}
		}
	}
	engineMetrics.cascadeDepth.Record(ctx, rounds)
	return nil
}

// viewerCapacity looks up how much capacity viewer's tree confers on
// identityID: 100 for the viewer itself, 0 if identityID has no Score in
// viewer's tree (absent trusters contribute 0, spec §4.3 step 1/3), else
// the stored Score's capacity.
func viewerCapacity(ctx context.Context, tx storage.Tx, viewer, identityID string) (capacity int, rank int, ok bool, err error) {
	if identityID == viewer {
		return 100, 0, true, nil
	}
	s, err := tx.GetScore(ctx, viewer, identityID)
	if err != nil {
		if isNotFound(err) {
			return 0, 0, false, nil
		}
		return 0, 0, false, err
	}
	return s.Capacity, s.Rank, true, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

// recomputeOne implements spec §4.3's per-(viewer,target) "recompute"
// procedure. It returns whether target's capacity changed in this pass and
// whether its Score crossed from <=0 to >0 (the mark_for_refetch trigger).
func (e *Engine) recomputeOne(ctx context.Context, tx storage.Tx, viewer, target string) (capacityChanged, crossedPositive bool, err error) {
	trusters, err := tx.ListTrustsTo(ctx, target)
	if err != nil {
		return false, false, err
	}

	oldScore, oldErr := tx.GetScore(ctx, viewer, target)
	hadScore := oldErr == nil
	if oldErr != nil && !isNotFound(oldErr) {
		return false, false, oldErr
	}

	bestRank := -1
	value := 0
	for _, t := range trusters {
		trusterCap, rank, ok, err := viewerCapacity(ctx, tx, viewer, t.Truster)
		if err != nil {
			return false, false, err
		}
		if !ok {
			continue
		}
		if trusterCap > 0 && (bestRank == -1 || rank+1 < bestRank) {
			bestRank = rank + 1
		}
		contribution := int(t.Value) * trusterCap / 100
		value += contribution
	}

	if bestRank == -1 {
		// unreachable: delete any existing Score
		if hadScore {
			if err := tx.DeleteScore(ctx, viewer, target); err != nil {
				return false, false, err
			}
			return oldScore.Capacity != 0, false, nil
		}
		return false, false, nil
	}

	capacity := graph.CapacityForRank(bestRank)
	directTrust, dErr := tx.GetTrust(ctx, viewer, target)
	if dErr == nil && directTrust.Value < 0 {
		capacity = 0
	} else if dErr != nil && !isNotFound(dErr) {
		return false, false, dErr
	}

	newScore := &graph.Score{Viewer: viewer, Target: target, Value: value, Rank: bestRank, Capacity: capacity}
	if err := tx.UpsertScore(ctx, newScore); err != nil {
		return false, false, err
	}

	oldValue := 0
	oldCapacity := 0
	if hadScore {
		oldValue = oldScore.Value
		oldCapacity = oldScore.Capacity
	}
	crossedPositive = oldValue <= 0 && value > 0
	capacityChanged = !hadScore || oldCapacity != capacity
	return capacityChanged, crossedPositive, nil
}

// markForRefetch transitions identityID's fetch_state back to NotFetched
// when its Score crossed from <=0 to >0 in some viewer's tree: trustees of
// a previously-untrusted identity were never materialized, so its document
// must be (re)fetched now that it matters (spec §4.3 fetch_state rule).
func (e *Engine) markForRefetch(ctx context.Context, tx storage.Tx, identityID string) error {
	id, err := tx.GetIdentity(ctx, identityID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	if id.FetchState == graph.Fetched {
		id.FetchState = graph.NotFetched
		return tx.UpdateIdentity(ctx, id)
	}
	return nil
}
