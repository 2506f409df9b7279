// Package puzzle implements introduction puzzles (spec §4.7): an
// out-of-band Sybil-admission channel layered on the same persistence
// layer and engine the trust graph uses, with its own coarse lock per
// spec §5's ordering rule ("engine lock acquired before puzzle-store
// lock"). Callers that need both must take the engine lock first; this
// package never reaches into internal/engine's lock itself, so it cannot
// invert the order.
package puzzle

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hyphanet/wot/internal/engine"
	"github.com/hyphanet/wot/internal/graph"
	"github.com/hyphanet/wot/internal/network"
	"github.com/hyphanet/wot/internal/storage"
	"github.com/hyphanet/wot/internal/woterrors"
)

// IntroductionContext is the context tag identifying an Identity as
// participating in introduction (spec §4.7 "per OwnIdentity that
// advertises the 'introduction' context").
const IntroductionContext = "introduction"

// PuzzleCountProperty names the OwnIdentity property publishing how many
// puzzles per day the server side generates (spec §4.7 "N published as
// the identity's IntroductionPuzzleCount property").
const PuzzleCountProperty = "IntroductionPuzzleCount"

// Expiry is the fixed horizon after which an unsolved puzzle is reaped
// (spec §4.7 "nominally 3 days").
const Expiry = 3 * 24 * time.Hour

// MaxPuzzlesPerIdentity bounds how many puzzles from one inserter a client
// session presents (spec §4.7).
const MaxPuzzlesPerIdentity = 8

// PoolSize is the nominal client-side puzzle pool (spec §4.7 "nominally 40").
const PoolSize = 40

// newPuzzleID mints an id of the form random⊕inserter_id (spec §9
// "Puzzle IDs... random_uuid + '@' + inserter_id"), so a malicious peer
// cannot collide IDs with another inserter's puzzles.
func newPuzzleID(inserterID string) string {
	return uuid.New().String() + "@" + inserterID
}

// randomSolution generates an opaque solution payload for a freshly minted
// puzzle; the real puzzle content (e.g. a CAPTCHA image) is out of this
// module's scope, so Data/Solution are opaque byte blobs here.
func randomSolution() ([]byte, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate puzzle solution: %w", err)
	}
	return b, nil
}

// Server is the introduction-server worker: generates, uploads, and polls
// puzzles on behalf of every OwnIdentity that advertises
// IntroductionContext (spec §4.7 "Server side").
type Server struct {
	mu     sync.Mutex
	store  storage.Store
	engine *engine.Engine
	addr   network.AddressCodec
	net    network.Inserter
	log    *slog.Logger
	nowFn  func() time.Time
}

// NewServer creates an introduction-server Worker.
func NewServer(store storage.Store, eng *engine.Engine, addr network.AddressCodec, net network.Inserter, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Server{store: store, engine: eng, addr: addr, net: net, log: log, nowFn: time.Now}
}

func puzzleCount(own *graph.OwnIdentity) int {
	if v, ok := own.Properties[PuzzleCountProperty]; ok {
		n := 0
		for _, c := range v {
			if c < '0' || c > '9' {
				return 10
			}
			n = n*10 + int(c-'0')
		}
		if n > 0 {
			return n
		}
	}
	return 10
}

func advertisesIntroduction(own *graph.OwnIdentity) bool {
	for _, c := range own.Contexts {
		if c == IntroductionContext {
			return true
		}
	}
	return false
}

// GenerateAndUploadDaily mints today's batch of puzzles for every
// introduction-advertising OwnIdentity that hasn't already generated one,
// and uploads each at its deterministic (inserter, day, index) address
// (spec §4.7).
func (s *Server) GenerateAndUploadDaily(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	owners, err := s.store.ListOwnIdentities(ctx)
	if err != nil {
		return err
	}

	today := s.nowFn().UTC().Truncate(24 * time.Hour)
	for _, own := range owners {
		if !advertisesIntroduction(own) {
			continue
		}
		existing, err := s.store.ListPuzzlesByInserter(ctx, own.ID)
		if err != nil {
			return err
		}
		alreadyToday := make(map[int]bool)
		for _, p := range existing {
			if p.DayOfInsertion.Equal(today) {
				alreadyToday[p.Index] = true
			}
		}

		n := puzzleCount(own)
		for i := 0; i < n; i++ {
			if alreadyToday[i] {
				continue
			}
			if err := s.generateOne(ctx, own, today, i); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Server) generateOne(ctx context.Context, own *graph.OwnIdentity, day time.Time, index int) error {
	solution, err := randomSolution()
	if err != nil {
		return err
	}
	p := &graph.IntroductionPuzzle{
		ID:             newPuzzleID(own.ID),
		Type:           "captcha",
		MimeType:       "application/octet-stream",
		Data:           solution,
		Inserter:       own.ID,
		DayOfInsertion: day,
		Index:          index,
		ValidUntil:     day.Add(Expiry),
		Solution:       solution,
	}

	addr := s.addr.PuzzleRequestAddress(own.RequestAddress, day.Format("2006-01-02"), index)
	if err := s.net.Insert(ctx, addr, 0, p.Data); err != nil {
		return fmt.Errorf("upload puzzle %s: %w", p.ID, err)
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	if err := tx.InsertPuzzle(ctx, p); err != nil {
		tx.Rollback(ctx)
		return mapStorageErr(err, p.ID)
	}
	return tx.Commit(ctx)
}

func mapStorageErr(err error, puzzleID string) error {
	return fmt.Errorf("insert puzzle %s: %w", puzzleID, woterrors.ErrDuplicatePuzzle)
}

// ImportSolution checks solution against the stored puzzle's Solution
// bytes, rejecting the call with ErrInvalidSolution on any mismatch before
// importing the solver identity (if unknown), creating a direct Trust edge
// from the puzzle's owning OwnIdentity to the solver, and marking the
// puzzle solved (spec §4.7 "imports the solver identity... and creates a
// direct Trust edge" — contingent on the CAPTCHA-equivalent actually being
// solved, which is the whole point of the Sybil-admission channel). A
// solution that resolves to an identity the viewer already trusts is
// treated as success but produces no new edge (spec §4.7 invariant).
func (s *Server) ImportSolution(ctx context.Context, puzzleID, solverRequestAddress string, solution []byte, trustValue int, comment string) error {
	s.mu.Lock()
	p, err := s.store.GetPuzzle(ctx, puzzleID)
	s.mu.Unlock()
	if err != nil {
		return mapNotFound(err, puzzleID)
	}
	if p.WasSolved {
		return nil
	}
	if !bytes.Equal(solution, p.Solution) {
		return fmt.Errorf("puzzle %s: %w", puzzleID, woterrors.ErrInvalidSolution)
	}

	solverID := graph.IdentityIDFromAddress(solverRequestAddress)
	if _, err := s.store.GetIdentity(ctx, solverID); err != nil {
		skeleton := &graph.Identity{ID: solverID, RequestAddress: solverRequestAddress}
		if err := s.engine.AddIdentity(ctx, skeleton); err != nil {
			return err
		}
	}

	if existing, err := s.store.GetTrust(ctx, p.Inserter, solverID); err == nil && existing != nil {
		return s.markSolved(ctx, p, solverID)
	}

	if err := s.engine.SetTrust(ctx, p.Inserter, solverID, trustValue, comment); err != nil {
		return err
	}
	return s.markSolved(ctx, p, solverID)
}

func (s *Server) markSolved(ctx context.Context, p *graph.IntroductionPuzzle, solverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	p.WasSolved = true
	p.Solver = &solverID
	if err := tx.UpdatePuzzle(ctx, p); err != nil {
		tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func mapNotFound(err error, puzzleID string) error {
	return fmt.Errorf("puzzle %s: %w: %v", puzzleID, woterrors.ErrUnknownPuzzle, err)
}

// Reap deletes every expired, unsolved puzzle in one transaction per
// sweep, the supplemental owner SPEC_FULL.md assigns to the
// introduction-server worker loop for the normatively-required-but-
// unowned "puzzles expire... and are reaped" behavior (spec §4.7).
func (s *Server) Reap(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired, err := s.store.ListExpiredPuzzles(ctx, s.nowFn())
	if err != nil {
		return 0, err
	}
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range expired {
		if p.WasSolved {
			continue
		}
		if err := tx.DeletePuzzle(ctx, p.ID); err != nil {
			tx.Rollback(ctx)
			return 0, err
		}
		n++
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return n, nil
}
