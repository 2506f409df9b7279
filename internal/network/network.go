// Package network declares the collaborator interfaces the fetcher,
// inserter, and introduction-puzzle workers depend on. Signing, the
// request/insert wire format, and the FCP/HTTP transport itself are out of
// scope (spec's Non-goals); this package exists so the rest of the module
// can be written and tested against those seams without them.
package network

import (
	"context"
	"errors"
)

// ErrLaterEditionExists is returned by Fetcher.Fetch when the network
// indicates a newer edition than the one requested is available, telling
// the fetcher to reschedule rather than treat the fetch as failed (spec
// §4.5 "On the network indicating a later edition exists, reschedule").
var ErrLaterEditionExists = errors.New("later edition exists")

// FetchResult is the body handed to the identity codec on a successful
// fetch, plus the edition it was fetched at.
type FetchResult struct {
	Edition int64
	Body    []byte
}

// Fetcher retrieves one edition of an identity's document from the
// network (spec §4.5). Implementations must respect ctx cancellation so
// in-flight fetches can be aborted on worker shutdown.
type Fetcher interface {
	Fetch(ctx context.Context, requestAddress string, edition int64) (*FetchResult, error)
}

// Inserter uploads an encoded identity document to the network at the
// given insert address and edition (spec §4.6).
type Inserter interface {
	Insert(ctx context.Context, insertAddress string, edition int64, body []byte) error
}

// AddressCodec derives puzzle request/solution addresses from their
// logical parameters (spec §6 "Puzzle addressing"). Implementations need
// not be cryptographically faithful for this module's scope; they only
// need to be deterministic and collision-free for distinct inputs.
type AddressCodec interface {
	PuzzleRequestAddress(inserterRequestKey, dayOfInsertion string, index int) string
	PuzzleSolutionAddress(inserterID, puzzleID string, solution []byte) string
}
