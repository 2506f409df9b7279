package puzzle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hyphanet/wot/internal/graph"
	"github.com/hyphanet/wot/internal/network"
	"github.com/hyphanet/wot/internal/storage"
)

// RecentInsertersLRUSize bounds the client's rotation memory of which
// inserters it has recently downloaded from (spec §4.7 "bounded at 512").
const RecentInsertersLRUSize = 512

// Fetched is one puzzle downloaded for presentation to the local user,
// paired with the request address it came from so a solve can be
// addressed back correctly.
type Fetched struct {
	Puzzle      *graph.IntroductionPuzzle
	InserterReq string
}

// Client is the introduction-client worker: for one viewer OwnIdentity,
// enumerates introduction-advertising Identities with positive Score,
// downloads a bounded pool of their puzzles rotating fairly across
// inserters, and on user-solve uploads the solution (spec §4.7
// "Client side").
type Client struct {
	mu       sync.Mutex
	store    storage.Store
	addr     network.AddressCodec
	fetcher  network.Fetcher
	inserter network.Inserter
	log      *slog.Logger
	nowFn    func() time.Time

	recent *lru.Cache[string, struct{}]
}

// NewClient creates an introduction-client Worker for one viewer.
func NewClient(store storage.Store, addr network.AddressCodec, fetcher network.Fetcher, ins network.Inserter, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	cache, err := lru.New[string, struct{}](RecentInsertersLRUSize)
	if err != nil {
		return nil, fmt.Errorf("create introduction-client LRU: %w", err)
	}
	return &Client{store: store, addr: addr, fetcher: fetcher, inserter: ins, log: log, nowFn: time.Now, recent: cache}, nil
}

// eligibleInserters returns the Identities advertising IntroductionContext
// with a positive Score in viewer's tree, least-recently-used first so
// FetchPool rotates across inserters fairly (spec §4.7).
func (c *Client) eligibleInserters(ctx context.Context, viewer string) ([]*graph.Identity, error) {
	scores, err := c.store.ListScoresForViewer(ctx, viewer)
	if err != nil {
		return nil, err
	}
	positive := make(map[string]bool, len(scores))
	for _, s := range scores {
		if s.Value > 0 {
			positive[s.Target] = true
		}
	}

	all, err := c.store.ListIdentities(ctx)
	if err != nil {
		return nil, err
	}
	var recentFirst, notRecent []*graph.Identity
	for _, id := range all {
		if !positive[id.ID] {
			continue
		}
		hasContext := false
		for _, ctxTag := range id.Contexts {
			if ctxTag == IntroductionContext {
				hasContext = true
				break
			}
		}
		if !hasContext {
			continue
		}
		if _, seen := c.recent.Get(id.ID); seen {
			recentFirst = append(recentFirst, id)
		} else {
			notRecent = append(notRecent, id)
		}
	}
	return append(notRecent, recentFirst...), nil
}

// FetchPool downloads up to PoolSize puzzles for viewer, at most
// MaxPuzzlesPerIdentity per inserter, rotating across eligible inserters
// via the recent-use LRU (spec §4.7).
func (c *Client) FetchPool(ctx context.Context, viewer string) ([]Fetched, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inserters, err := c.eligibleInserters(ctx, viewer)
	if err != nil {
		return nil, err
	}

	today := c.nowFn().UTC().Truncate(24 * time.Hour).Format("2006-01-02")
	var out []Fetched
	for _, inserter := range inserters {
		if len(out) >= PoolSize {
			break
		}
		perInserter := 0
		for index := 0; index < MaxPuzzlesPerIdentity && perInserter < MaxPuzzlesPerIdentity && len(out) < PoolSize; index++ {
			addr := c.addr.PuzzleRequestAddress(inserter.RequestAddress, today, index)
			result, err := c.fetcher.Fetch(ctx, addr, 0)
			if err != nil {
				break
			}
			out = append(out, Fetched{
				Puzzle: &graph.IntroductionPuzzle{
					ID:             newPuzzleID(inserter.ID),
					Inserter:       inserter.ID,
					Data:           result.Body,
					DayOfInsertion: c.nowFn().UTC().Truncate(24 * time.Hour),
					Index:          index,
				},
				InserterReq: inserter.RequestAddress,
			})
			perInserter++
		}
		c.recent.Add(inserter.ID, struct{}{})
	}
	return out, nil
}

// Solve uploads the solver's introduction document (here, the solver's
// own request address) to the puzzle's solution address, completing the
// out-of-band handshake the server side polls for (spec §4.7 "on
// user-solve, uploads the solver's introduction document to the solution
// address").
func (c *Client) Solve(ctx context.Context, f Fetched, solverRequestAddress string, solution []byte) error {
	addr := c.addr.PuzzleSolutionAddress(f.Puzzle.Inserter, f.Puzzle.ID, solution)
	return c.inserter.Insert(ctx, addr, 0, []byte(solverRequestAddress))
}
