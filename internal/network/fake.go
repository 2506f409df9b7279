package network

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// Fake is an in-memory Fetcher/Inserter/AddressCodec used by tests in
// place of real network I/O. Insert stores the body under
// (insertAddress, edition); Fetch looks it up by (requestAddress,
// edition), treating requestAddress and insertAddress as the same key
// space the way a real USK-equivalent keypair would address the same
// resource from both ends.
type Fake struct {
	mu     sync.Mutex
	bodies map[string]map[int64][]byte
	latest map[string]int64
}

// NewFake creates an empty fake network.
func NewFake() *Fake {
	return &Fake{
		bodies: make(map[string]map[int64][]byte),
		latest: make(map[string]int64),
	}
}

func (f *Fake) Insert(ctx context.Context, insertAddress string, edition int64, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bodies[insertAddress] == nil {
		f.bodies[insertAddress] = make(map[int64][]byte)
	}
	f.bodies[insertAddress][edition] = body
	if edition > f.latest[insertAddress] {
		f.latest[insertAddress] = edition
	}
	return nil
}

func (f *Fake) Fetch(ctx context.Context, requestAddress string, edition int64) (*FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if latest, ok := f.latest[requestAddress]; ok && latest > edition {
		return nil, ErrLaterEditionExists
	}
	editions, ok := f.bodies[requestAddress]
	if !ok {
		return nil, fmt.Errorf("fake network: no body at %s", requestAddress)
	}
	body, ok := editions[edition]
	if !ok {
		return nil, fmt.Errorf("fake network: no body at %s edition %d", requestAddress, edition)
	}
	return &FetchResult{Edition: edition, Body: body}, nil
}

func (f *Fake) PuzzleRequestAddress(inserterRequestKey, dayOfInsertion string, index int) string {
	return fmt.Sprintf("%s/introduction/%s-%d", inserterRequestKey, dayOfInsertion, index)
}

func (f *Fake) PuzzleSolutionAddress(inserterID, puzzleID string, solution []byte) string {
	h := sha256.Sum256(append([]byte(puzzleID+"|"), solution...))
	return fmt.Sprintf("%s/introduction-solution/%s", inserterID, hex.EncodeToString(h[:8]))
}

var (
	_ Fetcher      = (*Fake)(nil)
	_ Inserter     = (*Fake)(nil)
	_ AddressCodec = (*Fake)(nil)
)
