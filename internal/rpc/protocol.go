// Package rpc is the synchronous RPC facade over the trust graph engine
// (spec §6): a fixed operation set, a typed error taxonomy, and a
// JSON-over-Unix-socket transport reusing the teacher's endpoint discovery
// and TLS helpers.
package rpc

import "github.com/hyphanet/wot/internal/graph"

// Op names every RPC operation the facade exposes. Two read-only
// operations (OpGetIdentity, OpGetTrust) are supplemental additions
// beyond spec §6's named list, since the facade would otherwise have no
// way to inspect a single entity outside a list (SPEC_FULL.md [RPC]).
type Op string

const (
	OpCreateOwnIdentity    Op = "create_own_identity"
	OpRestoreOwnIdentity   Op = "restore_own_identity"
	OpDeleteIdentity       Op = "delete_identity"
	OpSetTrust             Op = "set_trust"
	OpRemoveTrust          Op = "remove_trust"
	OpAddIdentity          Op = "add_identity"
	OpGetIdentitiesByScore Op = "get_identities_by_score"
	OpGetIdentity          Op = "get_identity"
	OpGetTrust             Op = "get_trust"
	OpGetPuzzles           Op = "get_puzzles"
	OpSolvePuzzle          Op = "solve_puzzle"
)

// Request is the envelope every operation is sent in: Op selects which
// typed payload Params carries.
type Request struct {
	Op     Op  `json:"op"`
	Params any `json:"params"`
}

// Response is the envelope every reply comes back in. At most one of
// Result/Error is set; an operation with no result leaves both empty on
// success.
type Response struct {
	Result any        `json:"result,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// ErrorBody carries the closed taxonomy from internal/woterrors across the
// wire, since bare error strings can't be compared with errors.Is on the
// client side.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CreateOwnIdentityParams struct {
	RequestAddress string            `json:"request_address"`
	InsertAddress  string            `json:"insert_address"`
	Nickname       *string           `json:"nickname,omitempty"`
	Contexts       []string          `json:"contexts,omitempty"`
	Properties     map[string]string `json:"properties,omitempty"`
}

type RestoreOwnIdentityParams struct {
	IdentityID    string `json:"identity_id"`
	InsertAddress string `json:"insert_address"`
}

type DeleteIdentityParams struct {
	IdentityID string `json:"identity_id"`
}

type SetTrustParams struct {
	Truster string `json:"truster"`
	Trustee string `json:"trustee"`
	Value   int    `json:"value"`
	Comment string `json:"comment,omitempty"`
}

type RemoveTrustParams struct {
	Truster string `json:"truster"`
	Trustee string `json:"trustee"`
}

type AddIdentityParams struct {
	RequestAddress string `json:"request_address"`
}

// Sign selects the filter get_identities_by_score applies to Score.value
// (spec §6 "sign ∈ {+,0,−}").
type Sign string

const (
	SignPositive Sign = "+"
	SignZero     Sign = "0"
	SignNegative Sign = "-"
	SignAny      Sign = ""
)

type GetIdentitiesByScoreParams struct {
	Viewer        string `json:"viewer"`
	Sign          Sign   `json:"sign,omitempty"`
	ContextFilter string `json:"context_filter,omitempty"`
}

type ScoredIdentity struct {
	Identity *graph.Identity `json:"identity"`
	Score    *graph.Score    `json:"score"`
}

type GetIdentityParams struct {
	IdentityID string `json:"identity_id"`
}

type GetTrustParams struct {
	Truster string `json:"truster"`
	Trustee string `json:"trustee"`
}

type GetPuzzlesParams struct {
	Viewer string `json:"viewer"`
	Type   string `json:"type,omitempty"`
	Count  int    `json:"count,omitempty"`
}

type SolvePuzzleParams struct {
	Viewer   string `json:"viewer"`
	PuzzleID string `json:"puzzle_id"`
	Solution []byte `json:"solution"`
}
