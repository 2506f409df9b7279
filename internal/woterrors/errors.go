// Package woterrors defines the closed error taxonomy shared by the trust
// graph engine, the RPC facade, and the storage layer (see spec §6/§7).
package woterrors

import "errors"

// Sentinel errors. Callers should compare with errors.Is; wrapped
// occurrences (e.g. "set_trust: %w") remain matchable.
var (
	// ErrInvalidParameter indicates a length, charset, or range violation
	// on a caller-supplied value. No state changes.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrUnknownIdentity indicates a referenced Identity does not exist.
	ErrUnknownIdentity = errors.New("unknown identity")

	// ErrDuplicateIdentity indicates an Identity with the same ID already exists.
	ErrDuplicateIdentity = errors.New("duplicate identity")

	// ErrNotTrusted indicates the requested Trust edge does not exist.
	ErrNotTrusted = errors.New("not trusted")

	// ErrNotInTrustTree indicates the target has no Score in the viewer's tree.
	ErrNotInTrustTree = errors.New("not in trust tree")

	// ErrDuplicateTrust indicates a Trust already exists for (truster, trustee).
	// This is an invariant violation (I3); the triggering operation is rolled back.
	ErrDuplicateTrust = errors.New("duplicate trust")

	// ErrDuplicateScore indicates a Score already exists for (viewer, target).
	// This is an invariant violation (I3); the triggering operation is rolled back.
	ErrDuplicateScore = errors.New("duplicate score")

	// ErrUnknownPuzzle indicates a referenced IntroductionPuzzle does not exist.
	ErrUnknownPuzzle = errors.New("unknown puzzle")

	// ErrDuplicatePuzzle indicates a puzzle with the same ID already exists.
	ErrDuplicatePuzzle = errors.New("duplicate puzzle")

	// ErrInvalidSolution indicates a submitted puzzle solution does not
	// match the stored puzzle's Solution bytes.
	ErrInvalidSolution = errors.New("invalid puzzle solution")
)
