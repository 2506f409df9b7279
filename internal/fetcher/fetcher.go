// Package fetcher implements the identity fetcher worker (spec §4.5): a
// bounded pool of concurrent fetches that keeps Fetched/ParsingFailed/
// NotFetched Identity.fetch_state in sync with what's reachable on the
// network, following the teacher's supervised-goroutine daemon idiom
// (internal/daemon) and golang.org/x/sync's semaphore for the bounded
// pool spec §4.5 calls for.
package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/hyphanet/wot/internal/codec"
	"github.com/hyphanet/wot/internal/engine"
	"github.com/hyphanet/wot/internal/graph"
	"github.com/hyphanet/wot/internal/network"
	"github.com/hyphanet/wot/internal/storage"
)

var fetcherTracer = otel.Tracer("github.com/hyphanet/wot/internal/fetcher")

var fetcherMetrics struct {
	attempts metric.Int64Counter
	failures metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/hyphanet/wot/internal/fetcher")
	fetcherMetrics.attempts, _ = m.Int64Counter("wot.fetcher.attempts",
		metric.WithDescription("Identity document fetch attempts"), metric.WithUnit("{fetch}"))
	fetcherMetrics.failures, _ = m.Int64Counter("wot.fetcher.failures",
		metric.WithDescription("Identity document fetch attempts that exhausted retries"), metric.WithUnit("{fetch}"))
}

// Candidate is one Identity eligible for a fetch attempt this pass: its
// Score is positive in at least one viewer's tree and its fetch_state is
// not Fetched (spec §4.5).
type Candidate struct {
	ID                string
	RequestAddress    string
	CurrentEdition    int64
	LatestEditionHint int64
}

// Worker is the supervised fetcher task. Concurrency is bounded by
// maxConcurrent, a viper-sourced config value per SPEC_FULL.md's
// [FETCHER] expansion, not a constant.
type Worker struct {
	store         storage.Store
	engine        *engine.Engine
	net           network.Fetcher
	log           *slog.Logger
	maxConcurrent int64
	backoffFn     func() backoff.BackOff
}

// New creates a fetcher Worker. maxConcurrent bounds the number of
// in-flight fetches; it must be >= 1.
func New(store storage.Store, eng *engine.Engine, net network.Fetcher, log *slog.Logger, maxConcurrent int64) *Worker {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Worker{
		store:         store,
		engine:        eng,
		net:           net,
		log:           log,
		maxConcurrent: maxConcurrent,
		backoffFn: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 5 * time.Minute
			return b
		},
	}
}

// positiveScoreTargets returns the set of identity ids that hold a
// positive Score in at least one viewer's tree. Every Score's viewer is an
// OwnIdentity (spec §4.3: reconcile only ever seeds queues from
// tx.ListOwnIdentities), so the full set of viewer trees is exactly the
// OwnIdentities' own ListScoresForViewer results.
func (w *Worker) positiveScoreTargets(ctx context.Context) (map[string]bool, error) {
	owners, err := w.store.ListOwnIdentities(ctx)
	if err != nil {
		return nil, err
	}
	positive := make(map[string]bool)
	for _, own := range owners {
		scores, err := w.store.ListScoresForViewer(ctx, own.ID)
		if err != nil {
			return nil, err
		}
		for _, s := range scores {
			if s.Value > 0 {
				positive[s.Target] = true
			}
		}
	}
	return positive, nil
}

// candidates lists every known Identity whose Score in some viewer tree is
// > 0 and whose request_address edition is not yet Fetched, ordered so
// LatestEditionHint biases but never dictates scheduling (spec §4.5).
func (w *Worker) candidates(ctx context.Context) ([]Candidate, error) {
	positive, err := w.positiveScoreTargets(ctx)
	if err != nil {
		return nil, err
	}
	if len(positive) == 0 {
		return nil, nil
	}

	all, err := w.store.ListIdentities(ctx)
	if err != nil {
		return nil, err
	}
	var out []Candidate
	for _, id := range all {
		if id.FetchState == graph.Fetched {
			continue
		}
		if !positive[id.ID] {
			continue
		}
		out = append(out, Candidate{
			ID:                id.ID,
			RequestAddress:    id.RequestAddress,
			CurrentEdition:    id.CurrentEdition,
			LatestEditionHint: id.LatestEditionHint,
		})
	}
	return out, nil
}

// RunOnce performs one fetch pass over every eligible candidate, bounded
// to w.maxConcurrent concurrent fetches, and returns once every candidate
// has either succeeded, failed permanently, or exhausted its retry budget.
func (w *Worker) RunOnce(ctx context.Context) error {
	candidates, err := w.candidates(ctx)
	if err != nil {
		return err
	}

	sem := semaphore.NewWeighted(w.maxConcurrent)
	errCh := make(chan error, len(candidates))
	for _, c := range candidates {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		go func(c Candidate) {
			defer sem.Release(1)
			errCh <- w.fetchOne(ctx, c)
		}(c)
	}
	for range candidates {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			w.log.Warn("fetch failed", "error", err)
		}
	}
	return nil
}

// nextEdition picks the edition to request: the hint if it's ahead of
// current, otherwise current+1. The hint is never trusted as authoritative
// (spec §4.5); a wrong hint just costs one extra round trip.
func nextEdition(current, hint int64) int64 {
	if hint > current {
		return hint
	}
	return current + 1
}

func (w *Worker) fetchOne(ctx context.Context, c Candidate) error {
	ctx, span := fetcherTracer.Start(ctx, "fetcher.fetch_one",
		trace.WithAttributes(attribute.String("wot.identity_id", c.ID)))
	defer span.End()
	fetcherMetrics.attempts.Add(ctx, 1)

	edition := nextEdition(c.CurrentEdition, c.LatestEditionHint)

	var result *network.FetchResult
	op := func() error {
		r, err := w.net.Fetch(ctx, c.RequestAddress, edition)
		if err != nil {
			if errors.Is(err, network.ErrLaterEditionExists) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = r
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(w.backoffFn(), ctx))
	if err != nil {
		if errors.Is(err, network.ErrLaterEditionExists) {
			w.log.Info("later edition exists, rescheduling", "identity", c.ID)
			return w.engine.LearnEdition(ctx, c.ID, edition+1)
		}
		fetcherMetrics.failures.Add(ctx, 1)
		span.RecordError(err)
		w.log.Warn("fetch exhausted retries, edition left unchanged", "identity", c.ID, "error", err)
		return nil
	}

	parsed, err := codec.Decode(c.RequestAddress, result.Body)
	if err != nil {
		w.log.Info("parse failed, marking edition consumed", "identity", c.ID, "edition", result.Edition)
		return w.engine.MarkParsingFailed(ctx, c.ID, result.Edition)
	}

	edges, err := w.resolveTrustList(ctx, parsed.TrustList)
	if err != nil {
		return err
	}

	return w.engine.ApplyDocument(ctx, c.ID, result.Edition, parsed.Nickname, parsed.PublishesTrustList,
		parsed.Contexts, parsed.Properties, edges)
}

// resolveTrustList maps each decoded trust edge's address-space trustee to
// an identity id, creating a skeleton Identity via engine.AddIdentity for
// any address not already known (spec §3 "created when first discovered
// ... via a trust-list reference").
func (w *Worker) resolveTrustList(ctx context.Context, entries []codec.ParsedTrustEntry) ([]engine.ParsedTrustEdge, error) {
	out := make([]engine.ParsedTrustEdge, 0, len(entries))
	for _, e := range entries {
		id := graph.IdentityIDFromAddress(e.TrusteeAddress)
		if _, err := w.store.GetIdentity(ctx, id); err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				return nil, err
			}
			skeleton := &graph.Identity{ID: id, RequestAddress: e.TrusteeAddress}
			if err := w.engine.AddIdentity(ctx, skeleton); err != nil {
				return nil, err
			}
		}
		out = append(out, engine.ParsedTrustEdge{Trustee: id, Value: e.Value, Comment: e.Comment})
	}
	return out, nil
}
