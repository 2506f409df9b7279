// Package inserter implements the identity inserter worker (spec §4.6): a
// single background task that, at a jittered period, uploads any
// OwnIdentity whose published state has changed or whose last insert is
// stale, following the teacher's supervised-goroutine daemon idiom.
package inserter

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/hyphanet/wot/internal/codec"
	"github.com/hyphanet/wot/internal/engine"
	"github.com/hyphanet/wot/internal/graph"
	"github.com/hyphanet/wot/internal/network"
	"github.com/hyphanet/wot/internal/storage"
)

// BasePeriod is the nominal insert period (spec §4.6 "45 minutes").
const BasePeriod = 45 * time.Minute

// JitterFraction is the +/- spread applied to BasePeriod (spec §4.6 "± 50%").
const JitterFraction = 0.5

// StaleAfter is how long since the last insert before a re-insert is due
// even with no local changes (spec §4.6 "more than three days ago").
const StaleAfter = 3 * 24 * time.Hour

// Worker is the supervised inserter task.
type Worker struct {
	store  storage.Store
	engine *engine.Engine
	net    network.Inserter
	log    *slog.Logger

	mu       sync.Mutex
	inFlight map[string]bool

	nowFn  func() time.Time
	randFn func() float64
}

// New creates an inserter Worker.
func New(store storage.Store, eng *engine.Engine, net network.Inserter, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Worker{
		store:    store,
		engine:   eng,
		net:      net,
		log:      log,
		inFlight: make(map[string]bool),
		nowFn:    time.Now,
		randFn:   rand.Float64,
	}
}

// NextPeriod returns one jittered interval, BasePeriod +/- JitterFraction.
func (w *Worker) NextPeriod() time.Duration {
	spread := float64(BasePeriod) * JitterFraction
	offset := (w.randFn()*2 - 1) * spread
	return time.Duration(float64(BasePeriod) + offset)
}

// Run loops until ctx is cancelled, calling RunOnce at jittered intervals.
// It is the long-lived supervised task spec §5 requires for the inserter.
func (w *Worker) Run(ctx context.Context) {
	for {
		if err := w.RunOnce(ctx); err != nil {
			w.log.Warn("insert pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.NextPeriod()):
		}
	}
}

func (w *Worker) due(own *graph.OwnIdentity) bool {
	if own.LastInsertedAt == nil {
		return true
	}
	if own.LastChangedAt.After(*own.LastInsertedAt) {
		return true
	}
	return w.nowFn().Sub(*own.LastInsertedAt) > StaleAfter
}

// RunOnce inserts every OwnIdentity that is due, skipping any already
// in-flight from a prior still-running pass (spec §4.6 "Concurrent inserts
// of the same identity are prohibited").
func (w *Worker) RunOnce(ctx context.Context) error {
	owners, err := w.store.ListOwnIdentities(ctx)
	if err != nil {
		return err
	}

	for _, own := range owners {
		if !w.due(own) {
			continue
		}
		w.mu.Lock()
		if w.inFlight[own.ID] {
			w.mu.Unlock()
			continue
		}
		w.inFlight[own.ID] = true
		w.mu.Unlock()

		err := w.insertOne(ctx, own)

		w.mu.Lock()
		delete(w.inFlight, own.ID)
		w.mu.Unlock()

		if err != nil {
			w.log.Warn("insert failed", "identity", own.ID, "error", err)
		}
	}
	return nil
}

func (w *Worker) insertOne(ctx context.Context, own *graph.OwnIdentity) error {
	trusts, err := w.store.ListTrustsFrom(ctx, own.ID)
	if err != nil {
		return err
	}
	edges := make([]codec.ParsedTrustEntry, 0, len(trusts))
	for _, t := range trusts {
		trustee, err := w.store.GetIdentity(ctx, t.Trustee)
		if err != nil {
			return err
		}
		edges = append(edges, codec.ParsedTrustEntry{
			TrusteeAddress: trustee.RequestAddress,
			Value:          int(t.Value),
			Comment:        t.Comment,
		})
	}

	body, err := codec.EncodeOwnIdentity(own, edges)
	if err != nil {
		return err
	}

	nextEdition := own.CurrentEdition + 1
	if err := w.net.Insert(ctx, own.InsertAddress, nextEdition, body); err != nil {
		return fmt.Errorf("insert identity %s: %w", own.ID, err)
	}

	return w.engine.MarkInserted(ctx, own.ID, nextEdition)
}
