// Package engine implements the trust graph engine (spec §4.3): the set of
// public mutating operations over Identity/Trust/Score, each one atomic at
// transaction boundary, each driving the three-phase reconcile algorithm
// (mutate edges, recompute Score per viewer tree, cascade) that keeps the
// Score relation (I4-I7) consistent with the Trust relation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/hyphanet/wot/internal/graph"
	"github.com/hyphanet/wot/internal/storage"
	"github.com/hyphanet/wot/internal/woterrors"
)

// engineMetrics holds OTel instruments for the reconcile algorithm.
// Registered against the global provider at init time, so they're no-ops
// until internal/telemetry.Init installs a real one.
var engineMetrics struct {
	reconcileTargets metric.Int64Counter
	cascadeDepth     metric.Int64Histogram
}

func init() {
	m := otel.Meter("github.com/hyphanet/wot/internal/engine")
	engineMetrics.reconcileTargets, _ = m.Int64Counter("wot.engine.reconcile_targets",
		metric.WithDescription("Score recomputations performed across all viewer trees"),
		metric.WithUnit("{target}"),
	)
	engineMetrics.cascadeDepth, _ = m.Int64Histogram("wot.engine.cascade_depth",
		metric.WithDescription("Number of targets one viewer's reconcile pass dequeued before its queue drained"),
		metric.WithUnit("{round}"),
	)
}

// Engine serializes every public operation behind one coarse lock, mirroring
// the process-wide engine lock of spec §5: "One process-wide coarse lock
// guards the engine's logical graph." Workers never hold this lock across
// network I/O; only the code in this package runs while it's held.
type Engine struct {
	mu    sync.Mutex
	store storage.Store
	log   *slog.Logger
	nowFn func() time.Time
}

// New creates an Engine over store. log may be nil, in which case a
// discard logger is used.
func New(store storage.Store, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Engine{store: store, log: log, nowFn: time.Now}
}

func (e *Engine) now() time.Time { return e.nowFn() }

// withTx runs fn inside one storage transaction, committing on success and
// rolling back on any error, matching the "every public operation is
// all-or-nothing" failure semantics of spec §4.3.
func (e *Engine) withTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			e.log.Error("rollback after failed operation also failed", "error", rbErr, "original", err)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func mapStorageErr(err error, wrapWith error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return wrapWith
	}
	return err
}

// AddIdentity inserts a skeleton Identity discovered via introduction, a
// trust-list reference, or manual add. Reconcile is a no-op here: a fresh
// identity has no incoming or outgoing edges yet (spec §4.3).
func (e *Engine) AddIdentity(ctx context.Context, id *graph.Identity) error {
	if err := graph.ValidateIdentity(id); err != nil {
		return err
	}
	return e.withTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if id.AddedAt.IsZero() {
			id.AddedAt = e.now()
		}
		if id.LastChangedAt.IsZero() {
			id.LastChangedAt = id.AddedAt
		}
		if err := tx.InsertIdentity(ctx, id); err != nil {
			return mapStorageErr(err, fmt.Errorf("add_identity %s: %w", id.ID, woterrors.ErrDuplicateIdentity))
		}
		return nil
	})
}

// DeleteIdentity removes every Trust where id is truster or trustee and
// every Score where id is viewer or target, then reconciles every identity
// whose capacity could have shifted as a result (spec §4.3).
func (e *Engine) DeleteIdentity(ctx context.Context, id string) error {
	return e.withTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.GetIdentity(ctx, id); err != nil {
			return mapStorageErr(err, fmt.Errorf("delete_identity %s: %w", id, woterrors.ErrUnknownIdentity))
		}

		trustees, err := tx.ListTrustsFrom(ctx, id)
		if err != nil {
			return err
		}
		affected := make(map[string]struct{}, len(trustees))
		for _, t := range trustees {
			affected[t.Trustee] = struct{}{}
		}

		if err := tx.DeleteTrustsInvolving(ctx, id); err != nil {
			return err
		}
		if err := tx.DeleteScoresInvolving(ctx, id); err != nil {
			return err
		}
		if err := tx.DeleteIdentity(ctx, id); err != nil {
			return err
		}

		targets := make([]string, 0, len(affected))
		for t := range affected {
			targets = append(targets, t)
		}
		return e.reconcile(ctx, tx, targets)
	})
}

// SetTrust creates or updates the (truster, trustee) edge, then reconciles
// every viewer's Score tree for trustee and everything reachable downstream
// (spec §4.3).
func (e *Engine) SetTrust(ctx context.Context, truster, trustee string, value int, comment string) error {
	t := &graph.Trust{Truster: truster, Trustee: trustee, Value: graph.ClampTrustValue(value), Comment: comment}
	if err := graph.ValidateTrust(t); err != nil {
		return err
	}
	if err := graph.ValidateTrustComment(comment); err != nil {
		return err
	}
	return e.withTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.GetIdentity(ctx, truster); err != nil {
			if _, ownErr := tx.GetOwnIdentity(ctx, truster); ownErr != nil {
				return mapStorageErr(err, fmt.Errorf("set_trust truster %s: %w", truster, woterrors.ErrUnknownIdentity))
			}
		}
		if _, err := tx.GetIdentity(ctx, trustee); err != nil {
			return mapStorageErr(err, fmt.Errorf("set_trust trustee %s: %w", trustee, woterrors.ErrUnknownIdentity))
		}

		if err := tx.UpsertTrust(ctx, t); err != nil {
			return err
		}
		return e.reconcile(ctx, tx, []string{trustee})
	})
}

// RemoveTrust deletes the (truster, trustee) edge, then reconciles trustee
// and whatever that cascades to (spec §4.3).
func (e *Engine) RemoveTrust(ctx context.Context, truster, trustee string) error {
	return e.withTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.GetTrust(ctx, truster, trustee); err != nil {
			return mapStorageErr(err, fmt.Errorf("remove_trust %s->%s: %w", truster, trustee, woterrors.ErrNotTrusted))
		}
		if err := tx.DeleteTrust(ctx, truster, trustee); err != nil {
			return err
		}
		return e.reconcile(ctx, tx, []string{trustee})
	})
}

// ParsedTrustEdge is one outgoing edge of a fetched trust list, the codec's
// output shape for apply_document (spec §4.4).
type ParsedTrustEdge struct {
	Trustee string
	Value   int
	Comment string
}

// ApplyDocument bulk-replaces identityID's outgoing trust list and
// published attributes in one transaction, then reconciles every trustee
// that was added, removed, or whose edge value changed (spec §4.3).
func (e *Engine) ApplyDocument(ctx context.Context, identityID string, edition int64, nickname *string,
	publishesTrustList bool, contexts []string, properties map[string]string, trustList []ParsedTrustEdge) error {

	if err := graph.ValidateNickname(nickname); err != nil {
		return err
	}
	if err := graph.ValidateContexts(contexts); err != nil {
		return err
	}
	if err := graph.ValidateProperties(properties); err != nil {
		return err
	}

	return e.withTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		id, err := tx.GetIdentity(ctx, identityID)
		if err != nil {
			return mapStorageErr(err, fmt.Errorf("apply_document %s: %w", identityID, woterrors.ErrUnknownIdentity))
		}

		existing, err := tx.ListTrustsFrom(ctx, identityID)
		if err != nil {
			return err
		}
		existingByTrustee := make(map[string]*graph.Trust, len(existing))
		for _, t := range existing {
			existingByTrustee[t.Trustee] = t
		}

		affected := make(map[string]struct{})
		seen := make(map[string]struct{}, len(trustList))
		for _, edge := range trustList {
			if _, dup := seen[edge.Trustee]; dup {
				return fmt.Errorf("apply_document %s: duplicate trustee %s in trust list: %w", identityID, edge.Trustee, woterrors.ErrInvalidParameter)
			}
			seen[edge.Trustee] = struct{}{}

			t := &graph.Trust{Truster: identityID, Trustee: edge.Trustee, Value: graph.ClampTrustValue(edge.Value), Comment: edge.Comment}
			if err := graph.ValidateTrust(t); err != nil {
				return err
			}
			if old, ok := existingByTrustee[edge.Trustee]; !ok || old.Value != t.Value {
				affected[edge.Trustee] = struct{}{}
			}
			if err := tx.UpsertTrust(ctx, t); err != nil {
				return err
			}
		}
		for trustee := range existingByTrustee {
			if _, kept := seen[trustee]; !kept {
				if err := tx.DeleteTrust(ctx, identityID, trustee); err != nil {
					return err
				}
				affected[trustee] = struct{}{}
			}
		}

		id.CurrentEdition = edition
		id.Nickname = nickname
		id.PublishesTrustList = publishesTrustList
		id.Contexts = contexts
		id.Properties = properties
		id.FetchState = graph.Fetched
		now := e.now()
		id.LastFetchedAt = &now
		id.LastChangedAt = now
		if err := tx.UpdateIdentity(ctx, id); err != nil {
			return err
		}

		targets := make([]string, 0, len(affected))
		for t := range affected {
			targets = append(targets, t)
		}
		return e.reconcile(ctx, tx, targets)
	})
}

// MarkParsingFailed records that identityID's edition failed to parse
// (spec §4.3 fetch_state state machine): the edition is consumed, the
// identity's fetch state becomes ParsingFailed.
func (e *Engine) MarkParsingFailed(ctx context.Context, identityID string, edition int64) error {
	return e.withTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		id, err := tx.GetIdentity(ctx, identityID)
		if err != nil {
			return mapStorageErr(err, fmt.Errorf("mark_parsing_failed %s: %w", identityID, woterrors.ErrUnknownIdentity))
		}
		id.CurrentEdition = edition
		id.FetchState = graph.ParsingFailed
		id.LastChangedAt = e.now()
		return tx.UpdateIdentity(ctx, id)
	})
}

// LearnEdition resets identityID's fetch state to NotFetched when a
// strictly greater edition is learned from the network, per the
// fetch_state state machine's "* -> NotFetched" transition (spec §4.3).
func (e *Engine) LearnEdition(ctx context.Context, identityID string, edition int64) error {
	return e.withTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		id, err := tx.GetIdentity(ctx, identityID)
		if err != nil {
			return mapStorageErr(err, fmt.Errorf("learn_edition %s: %w", identityID, woterrors.ErrUnknownIdentity))
		}
		if edition <= id.LatestEditionHint {
			return nil
		}
		id.LatestEditionHint = edition
		if edition > id.CurrentEdition {
			id.FetchState = graph.NotFetched
		}
		return tx.UpdateIdentity(ctx, id)
	})
}

// RestoreOwnIdentity upgrades an existing remote Identity into an
// OwnIdentity, preserving its Trusts and rebuilding its Score vector with
// itself as viewer (spec §4.3).
func (e *Engine) RestoreOwnIdentity(ctx context.Context, identityID, insertAddress string) error {
	return e.withTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		id, err := tx.GetIdentity(ctx, identityID)
		if err != nil {
			return mapStorageErr(err, fmt.Errorf("restore_own_identity %s: %w", identityID, woterrors.ErrUnknownIdentity))
		}
		if _, err := tx.GetOwnIdentity(ctx, identityID); err == nil {
			return fmt.Errorf("restore_own_identity %s: %w", identityID, woterrors.ErrDuplicateIdentity)
		}

		now := e.now()
		own := &graph.OwnIdentity{
			Identity:      *id,
			InsertAddress: insertAddress,
			CreatedAt:     now,
		}
		if err := tx.DeleteIdentity(ctx, identityID); err != nil {
			return err
		}
		if err := tx.InsertOwnIdentity(ctx, own); err != nil {
			return err
		}

		return e.recomputeFromScratchForViewer(ctx, tx, identityID)
	})
}

// CreateOwnIdentity inserts a brand-new OwnIdentity from a freshly
// generated keypair (spec §3 "created by keypair generation").
func (e *Engine) CreateOwnIdentity(ctx context.Context, own *graph.OwnIdentity) error {
	if err := graph.ValidateIdentity(&own.Identity); err != nil {
		return err
	}
	return e.withTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		now := e.now()
		if own.AddedAt.IsZero() {
			own.AddedAt = now
		}
		if own.CreatedAt.IsZero() {
			own.CreatedAt = now
		}
		if own.LastChangedAt.IsZero() {
			own.LastChangedAt = now
		}
		if err := tx.InsertOwnIdentity(ctx, own); err != nil {
			return mapStorageErr(err, fmt.Errorf("create_own_identity %s: %w", own.ID, woterrors.ErrDuplicateIdentity))
		}
		return nil
	})
}

// MarkInserted bumps an OwnIdentity's edition and last_inserted_at after a
// successful upload (spec §4.6 "On success: bump the identity's edition,
// set last_inserted_at, commit").
func (e *Engine) MarkInserted(ctx context.Context, ownID string, edition int64) error {
	return e.withTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		own, err := tx.GetOwnIdentity(ctx, ownID)
		if err != nil {
			return mapStorageErr(err, fmt.Errorf("mark_inserted %s: %w", ownID, woterrors.ErrUnknownIdentity))
		}
		own.CurrentEdition = edition
		now := e.now()
		own.LastInsertedAt = &now
		return tx.UpdateOwnIdentity(ctx, own)
	})
}

// RecomputeFromScratch rebuilds every Score in viewer's tree from the
// current Trust relation alone, ignoring any incremental history. It is
// never called from the write path: it exists to assert that incremental
// reconciliation and a full batch recompute agree (spec SPEC_FULL.md §
// [ENGINE] P5, test/diagnostic use only).
func (e *Engine) RecomputeFromScratch(ctx context.Context, viewer string) error {
	return e.withTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return e.recomputeFromScratchForViewer(ctx, tx, viewer)
	})
}

func (e *Engine) recomputeFromScratchForViewer(ctx context.Context, tx storage.Tx, viewer string) error {
	existing, err := tx.ListScoresForViewer(ctx, viewer)
	if err != nil {
		return err
	}
	for _, s := range existing {
		if err := tx.DeleteScore(ctx, viewer, s.Target); err != nil {
			return err
		}
	}

	all, err := tx.ListIdentities(ctx)
	if err != nil {
		return err
	}
	targets := make([]string, 0, len(all))
	for _, id := range all {
		if id.ID != viewer {
			targets = append(targets, id.ID)
		}
	}
	return e.reconcileViewer(ctx, tx, viewer, targets)
}
