// Package memory is an in-process implementation of storage.Store used by
// engine and RPC tests that need fast, disk-free iteration (spec §4.1 notes
// the object store's shape is backend-independent).
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hyphanet/wot/internal/graph"
	"github.com/hyphanet/wot/internal/storage"
)

type identityRow struct {
	identity graph.Identity
	own      bool
	ownExtra graph.OwnIdentity
}

// Store is a mutex-guarded map-backed Store. Begin takes the single mutex
// for the transaction's lifetime, so transactions never interleave, the
// same externally visible guarantee the sqlite backend gets from
// BEGIN IMMEDIATE serializing writers.
type Store struct {
	mu sync.Mutex

	identities map[string]*identityRow
	trusts     map[[2]string]*graph.Trust
	scores     map[[2]string]*graph.Score
	puzzles    map[string]*graph.IntroductionPuzzle
	config     map[string]string
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		identities: make(map[string]*identityRow),
		trusts:     make(map[[2]string]*graph.Trust),
		scores:     make(map[[2]string]*graph.Score),
		puzzles:    make(map[string]*graph.IntroductionPuzzle),
		config:     make(map[string]string),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	s.mu.Lock()
	return newTx(s), nil
}

func cloneIdentity(id *graph.Identity) *graph.Identity {
	c := *id
	c.Contexts = append([]string(nil), id.Contexts...)
	c.Properties = make(map[string]string, len(id.Properties))
	for k, v := range id.Properties {
		c.Properties[k] = v
	}
	return &c
}

func (s *Store) GetIdentity(ctx context.Context, id string) (*graph.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.identities[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneIdentity(&row.identity), nil
}

func (s *Store) GetOwnIdentity(ctx context.Context, id string) (*graph.OwnIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.identities[id]
	if !ok || !row.own {
		return nil, storage.ErrNotFound
	}
	own := row.ownExtra
	own.Identity = *cloneIdentity(&row.identity)
	return &own, nil
}

func (s *Store) ListIdentities(ctx context.Context) ([]*graph.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*graph.Identity
	for _, row := range s.identities {
		out = append(out, cloneIdentity(&row.identity))
	}
	return out, nil
}

func (s *Store) ListOwnIdentities(ctx context.Context) ([]*graph.OwnIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*graph.OwnIdentity
	for _, row := range s.identities {
		if !row.own {
			continue
		}
		own := row.ownExtra
		own.Identity = *cloneIdentity(&row.identity)
		out = append(out, &own)
	}
	return out, nil
}

func (s *Store) GetTrust(ctx context.Context, truster, trustee string) (*graph.Trust, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trusts[[2]string{truster, trustee}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (s *Store) ListTrustsFrom(ctx context.Context, truster string) ([]*graph.Trust, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*graph.Trust
	for k, t := range s.trusts {
		if k[0] == truster {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) ListTrustsTo(ctx context.Context, trustee string) ([]*graph.Trust, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*graph.Trust
	for k, t := range s.trusts {
		if k[1] == trustee {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) GetScore(ctx context.Context, viewer, target string) (*graph.Score, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scores[[2]string{viewer, target}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *sc
	return &c, nil
}

func (s *Store) ListScoresForViewer(ctx context.Context, viewer string) ([]*graph.Score, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*graph.Score
	for k, sc := range s.scores {
		if k[0] == viewer {
			c := *sc
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) GetPuzzle(ctx context.Context, id string) (*graph.IntroductionPuzzle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.puzzles[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (s *Store) ListPuzzlesByInserter(ctx context.Context, inserter string) ([]*graph.IntroductionPuzzle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*graph.IntroductionPuzzle
	for _, p := range s.puzzles {
		if p.Inserter == inserter {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) ListExpiredPuzzles(ctx context.Context, asOf time.Time) ([]*graph.IntroductionPuzzle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*graph.IntroductionPuzzle
	for _, p := range s.puzzles {
		if !p.ValidUntil.After(asOf) {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) GetConfig(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.config[key]
	return v, ok, nil
}

var (
	_ storage.Store = (*Store)(nil)
	_ storage.Tx    = (*tx)(nil)
)
