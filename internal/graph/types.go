// Package graph holds the trust-graph data model: Identity, OwnIdentity,
// Trust, Score, and IntroductionPuzzle, plus the small validators every
// setter runs before a value reaches storage (spec §3/§4.2).
package graph

import "time"

// FetchState is the state machine driving whether an Identity's document
// needs (re)fetching (spec §4.3 "State machine of Identity.fetch_state").
type FetchState int

const (
	NotFetched FetchState = iota
	ParsingFailed
	Fetched
)

func (s FetchState) String() string {
	switch s {
	case NotFetched:
		return "not_fetched"
	case ParsingFailed:
		return "parsing_failed"
	case Fetched:
		return "fetched"
	default:
		return "unknown"
	}
}

// CapacityTable is the fixed rank->capacity mapping. It is part of the
// specification, not configuration (spec §9): clients reason about Sybil
// resistance in terms of these exact values.
var CapacityTable = [...]int{100, 40, 16, 6, 2, 1}

// CapacityForRank returns the capacity a truster at the given rank confers
// on its trustees. Rank 0 (the viewer itself) yields the table's first
// entry; ranks beyond the table's length saturate at the table's last
// entry, per spec §3 ("rank >= 6 yields capacity 1").
func CapacityForRank(rank int) int {
	if rank < 0 {
		return 0
	}
	if rank >= len(CapacityTable) {
		return CapacityTable[len(CapacityTable)-1]
	}
	return CapacityTable[rank]
}

// Identity is a remote participant, identified by the hash of its network
// public key (spec §3).
type Identity struct {
	ID                 string
	RequestAddress     string
	CurrentEdition     int64
	LatestEditionHint  int64
	FetchState         FetchState
	LastFetchedAt      *time.Time
	LastChangedAt      time.Time
	AddedAt            time.Time
	Nickname           *string
	PublishesTrustList bool
	Contexts           []string
	Properties         map[string]string
}

// OwnIdentity is an Identity for which the local user holds the private
// insert key; it is also a viewer with its own Score vector (spec §3).
type OwnIdentity struct {
	Identity
	InsertAddress  string
	CreatedAt      time.Time
	LastInsertedAt *time.Time
}

// Trust is a directed, annotated edge expressing truster's opinion of
// trustee (spec §3). At most one Trust exists per ordered pair (I3).
type Trust struct {
	Truster string
	Trustee string
	Value   int8
	Comment string
}

// Score is a derived vertex attached to (viewer, target): it exists iff
// target is reachable from viewer through positive-capacity trusters
// (spec §3, I4). It is never stored for target == viewer.
type Score struct {
	Viewer   string
	Target   string
	Value    int
	Rank     int
	Capacity int
}

// IntroductionPuzzle is a CAPTCHA-like Sybil-admission artifact (spec §4.7).
// ID embeds the inserter's identity id so a malicious peer cannot collide
// IDs with another inserter's puzzles (spec §9).
type IntroductionPuzzle struct {
	ID             string
	Type           string
	MimeType       string
	Data           []byte
	Inserter       string
	DayOfInsertion time.Time
	Index          int
	ValidUntil     time.Time
	WasSolved      bool
	WasInserted    bool
	Solver         *string
	Solution       []byte
}

// Sign of a Trust or Score value, used by the RPC facade's
// get_identities_by_score filter (spec §6).
type Sign int

const (
	SignNegative Sign = -1
	SignZero     Sign = 0
	SignPositive Sign = 1
)

// SignOf classifies an integer value into Positive/Zero/Negative.
func SignOf(v int) Sign {
	switch {
	case v > 0:
		return SignPositive
	case v < 0:
		return SignNegative
	default:
		return SignZero
	}
}
