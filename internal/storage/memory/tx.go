package memory

import (
	"context"
	"time"

	"github.com/hyphanet/wot/internal/graph"
	"github.com/hyphanet/wot/internal/storage"
)

// tx works on its own copies of Store's maps while holding the mutex Begin
// took; Commit installs those copies as Store's maps and Rollback discards
// them, and both release the mutex.
type tx struct {
	store *Store
	done  bool

	// copies of every map taken at Begin; writes replace entries rather
	// than mutate the shared values, so Store's own maps stay untouched
	// until Commit.
	identities map[string]*identityRow
	trusts     map[[2]string]*graph.Trust
	scores     map[[2]string]*graph.Score
	puzzles    map[string]*graph.IntroductionPuzzle
	config     map[string]string
}

func newTx(s *Store) *tx {
	t := &tx{
		store:      s,
		identities: make(map[string]*identityRow, len(s.identities)),
		trusts:     make(map[[2]string]*graph.Trust, len(s.trusts)),
		scores:     make(map[[2]string]*graph.Score, len(s.scores)),
		puzzles:    make(map[string]*graph.IntroductionPuzzle, len(s.puzzles)),
		config:     make(map[string]string, len(s.config)),
	}
	for k, v := range s.identities {
		row := *v
		t.identities[k] = &row
	}
	for k, v := range s.trusts {
		t.trusts[k] = v
	}
	for k, v := range s.scores {
		t.scores[k] = v
	}
	for k, v := range s.puzzles {
		t.puzzles[k] = v
	}
	for k, v := range s.config {
		t.config[k] = v
	}
	return t
}

func (t *tx) InsertIdentity(ctx context.Context, id *graph.Identity) error {
	if _, exists := t.identities[id.ID]; exists {
		return storage.ErrConflict
	}
	t.identities[id.ID] = &identityRow{identity: *cloneIdentity(id)}
	return nil
}

func (t *tx) UpdateIdentity(ctx context.Context, id *graph.Identity) error {
	row, ok := t.identities[id.ID]
	if !ok {
		return storage.ErrNotFound
	}
	row.identity = *cloneIdentity(id)
	return nil
}

func (t *tx) DeleteIdentity(ctx context.Context, id string) error {
	if _, ok := t.identities[id]; !ok {
		return storage.ErrNotFound
	}
	delete(t.identities, id)
	return nil
}

func (t *tx) GetIdentity(ctx context.Context, id string) (*graph.Identity, error) {
	row, ok := t.identities[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneIdentity(&row.identity), nil
}

func (t *tx) ListIdentities(ctx context.Context) ([]*graph.Identity, error) {
	var out []*graph.Identity
	for _, row := range t.identities {
		out = append(out, cloneIdentity(&row.identity))
	}
	return out, nil
}

func (t *tx) InsertOwnIdentity(ctx context.Context, own *graph.OwnIdentity) error {
	if _, exists := t.identities[own.ID]; exists {
		return storage.ErrConflict
	}
	t.identities[own.ID] = &identityRow{identity: *cloneIdentity(&own.Identity), own: true, ownExtra: *own}
	return nil
}

func (t *tx) UpdateOwnIdentity(ctx context.Context, own *graph.OwnIdentity) error {
	row, ok := t.identities[own.ID]
	if !ok || !row.own {
		return storage.ErrNotFound
	}
	row.identity = *cloneIdentity(&own.Identity)
	row.ownExtra = *own
	return nil
}

func (t *tx) GetOwnIdentity(ctx context.Context, id string) (*graph.OwnIdentity, error) {
	row, ok := t.identities[id]
	if !ok || !row.own {
		return nil, storage.ErrNotFound
	}
	out := row.ownExtra
	out.Identity = *cloneIdentity(&row.identity)
	return &out, nil
}

func (t *tx) ListOwnIdentities(ctx context.Context) ([]*graph.OwnIdentity, error) {
	var out []*graph.OwnIdentity
	for _, row := range t.identities {
		if !row.own {
			continue
		}
		own := row.ownExtra
		own.Identity = *cloneIdentity(&row.identity)
		out = append(out, &own)
	}
	return out, nil
}

func (t *tx) UpsertTrust(ctx context.Context, tr *graph.Trust) error {
	c := *tr
	t.trusts[[2]string{tr.Truster, tr.Trustee}] = &c
	return nil
}

func (t *tx) DeleteTrust(ctx context.Context, truster, trustee string) error {
	k := [2]string{truster, trustee}
	if _, ok := t.trusts[k]; !ok {
		return storage.ErrNotFound
	}
	delete(t.trusts, k)
	return nil
}

func (t *tx) GetTrust(ctx context.Context, truster, trustee string) (*graph.Trust, error) {
	tr, ok := t.trusts[[2]string{truster, trustee}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *tr
	return &c, nil
}

func (t *tx) ListTrustsFrom(ctx context.Context, truster string) ([]*graph.Trust, error) {
	var out []*graph.Trust
	for k, tr := range t.trusts {
		if k[0] == truster {
			c := *tr
			out = append(out, &c)
		}
	}
	return out, nil
}

func (t *tx) ListTrustsTo(ctx context.Context, trustee string) ([]*graph.Trust, error) {
	var out []*graph.Trust
	for k, tr := range t.trusts {
		if k[1] == trustee {
			c := *tr
			out = append(out, &c)
		}
	}
	return out, nil
}

func (t *tx) DeleteTrustsInvolving(ctx context.Context, identityID string) error {
	for k := range t.trusts {
		if k[0] == identityID || k[1] == identityID {
			delete(t.trusts, k)
		}
	}
	return nil
}

func (t *tx) UpsertScore(ctx context.Context, s *graph.Score) error {
	c := *s
	t.scores[[2]string{s.Viewer, s.Target}] = &c
	return nil
}

func (t *tx) DeleteScore(ctx context.Context, viewer, target string) error {
	delete(t.scores, [2]string{viewer, target})
	return nil
}

func (t *tx) GetScore(ctx context.Context, viewer, target string) (*graph.Score, error) {
	s, ok := t.scores[[2]string{viewer, target}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (t *tx) ListScoresForViewer(ctx context.Context, viewer string) ([]*graph.Score, error) {
	var out []*graph.Score
	for k, s := range t.scores {
		if k[0] == viewer {
			c := *s
			out = append(out, &c)
		}
	}
	return out, nil
}

func (t *tx) DeleteScoresInvolving(ctx context.Context, identityID string) error {
	for k := range t.scores {
		if k[0] == identityID || k[1] == identityID {
			delete(t.scores, k)
		}
	}
	return nil
}

func (t *tx) InsertPuzzle(ctx context.Context, p *graph.IntroductionPuzzle) error {
	if _, exists := t.puzzles[p.ID]; exists {
		return storage.ErrConflict
	}
	c := *p
	t.puzzles[p.ID] = &c
	return nil
}

func (t *tx) UpdatePuzzle(ctx context.Context, p *graph.IntroductionPuzzle) error {
	if _, ok := t.puzzles[p.ID]; !ok {
		return storage.ErrNotFound
	}
	c := *p
	t.puzzles[p.ID] = &c
	return nil
}

func (t *tx) DeletePuzzle(ctx context.Context, id string) error {
	if _, ok := t.puzzles[id]; !ok {
		return storage.ErrNotFound
	}
	delete(t.puzzles, id)
	return nil
}

func (t *tx) GetPuzzle(ctx context.Context, id string) (*graph.IntroductionPuzzle, error) {
	p, ok := t.puzzles[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (t *tx) ListPuzzlesByInserter(ctx context.Context, inserter string) ([]*graph.IntroductionPuzzle, error) {
	var out []*graph.IntroductionPuzzle
	for _, p := range t.puzzles {
		if p.Inserter == inserter {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

func (t *tx) ListExpiredPuzzles(ctx context.Context, asOf time.Time) ([]*graph.IntroductionPuzzle, error) {
	var out []*graph.IntroductionPuzzle
	for _, p := range t.puzzles {
		if !p.ValidUntil.After(asOf) {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

func (t *tx) SetConfig(ctx context.Context, key, value string) error {
	t.config[key] = value
	return nil
}

func (t *tx) GetConfig(ctx context.Context, key string) (string, bool, error) {
	v, ok := t.config[key]
	return v, ok, nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.identities = t.identities
	t.store.trusts = t.trusts
	t.store.scores = t.scores
	t.store.puzzles = t.puzzles
	t.store.config = t.config
	t.store.mu.Unlock()
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}
