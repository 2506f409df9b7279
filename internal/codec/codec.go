// Package codec implements the identity document wire format (spec §4.4):
// a versioned tree of nickname/publishes_trust_list/contexts/properties/
// trust_list, encoded and decoded with encoding/json in the same
// encode-a-tree-of-named-fields idiom the teacher uses for its jsonl/merge
// document trees.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/hyphanet/wot/internal/graph"
	"github.com/hyphanet/wot/internal/woterrors"
)

// CurrentVersion is the highest document version this codec understands.
// Decode rejects any document claiming a higher version (spec §4.4).
const CurrentVersion = 1

// MaxTrustListSize bounds |trust_list| (spec §6 "trust_list size bound is
// a configuration constant"); kept as a package constant here since no
// operator-facing reason to vary it has emerged.
const MaxTrustListSize = 4096

// trustListEntry is one outgoing edge as carried on the wire.
type trustListEntry struct {
	IdentityAddress string `json:"identity_address"`
	Value           int    `json:"value"`
	Comment         string `json:"comment,omitempty"`
}

// document is the wire shape of an identity document.
type document struct {
	Version            int               `json:"version"`
	Nickname           *string           `json:"nickname,omitempty"`
	PublishesTrustList bool              `json:"publishes_trust_list"`
	Contexts           []string          `json:"contexts,omitempty"`
	Properties         map[string]string `json:"properties,omitempty"`
	TrustList          []trustListEntry  `json:"trust_list,omitempty"`
}

// ParsedDocument is a decoded document plus the source identity's request
// address, the shape internal/engine.ApplyDocument consumes (spec §4.4
// "carries the same fields plus the source identity's address").
type ParsedDocument struct {
	SourceAddress      string
	Nickname           *string
	PublishesTrustList bool
	Contexts           []string
	Properties         map[string]string
	TrustList          []ParsedTrustEntry
}

// ParsedTrustEntry is one decoded outgoing edge, addressed by the
// trustee's request address rather than its identity id: the codec layer
// doesn't know identity ids, only addresses (the fetcher resolves
// addresses to ids before calling engine.ApplyDocument).
type ParsedTrustEntry struct {
	TrusteeAddress string
	Value          int
	Comment        string
}

// EncodeOwnIdentity renders own's published attributes and (if it
// publishes one) trust list to bytes. Element ordering is not required to
// be deterministic (spec §4.4).
func EncodeOwnIdentity(own *graph.OwnIdentity, trustList []ParsedTrustEntry) ([]byte, error) {
	doc := document{
		Version:            CurrentVersion,
		Nickname:           own.Nickname,
		PublishesTrustList: own.PublishesTrustList,
		Contexts:           own.Contexts,
		Properties:         own.Properties,
	}
	if own.PublishesTrustList {
		for _, t := range trustList {
			doc.TrustList = append(doc.TrustList, trustListEntry{
				IdentityAddress: t.TrusteeAddress,
				Value:           t.Value,
				Comment:         t.Comment,
			})
		}
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode identity document: %w", err)
	}
	return b, nil
}

// Decode parses body into a ParsedDocument, validating version, field
// bounds, charset, duplicate trustees, and trust list size (spec §4.4).
// Every rejection wraps woterrors.ErrInvalidParameter; callers (the
// fetcher) treat this as "mark edition ParsingFailed", not as a fatal
// error (spec §4.4 "Codec errors are non-fatal to the engine").
func Decode(sourceAddress string, body []byte) (*ParsedDocument, error) {
	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode identity document: malformed json: %w", woterrors.ErrInvalidParameter)
	}

	if doc.Version > CurrentVersion {
		return nil, fmt.Errorf("decode identity document: version %d exceeds supported %d: %w",
			doc.Version, CurrentVersion, woterrors.ErrInvalidParameter)
	}

	if err := graph.ValidateNickname(doc.Nickname); err != nil {
		return nil, err
	}
	if err := graph.ValidateContexts(doc.Contexts); err != nil {
		return nil, err
	}
	if err := graph.ValidateProperties(doc.Properties); err != nil {
		return nil, err
	}

	if len(doc.TrustList) > MaxTrustListSize {
		return nil, fmt.Errorf("decode identity document: trust list size %d exceeds bound %d: %w",
			len(doc.TrustList), MaxTrustListSize, woterrors.ErrInvalidParameter)
	}

	seen := make(map[string]bool, len(doc.TrustList))
	parsed := make([]ParsedTrustEntry, 0, len(doc.TrustList))
	for _, e := range doc.TrustList {
		if e.IdentityAddress == "" {
			return nil, fmt.Errorf("decode identity document: empty trust list entry address: %w", woterrors.ErrInvalidParameter)
		}
		if seen[e.IdentityAddress] {
			return nil, fmt.Errorf("decode identity document: duplicate trustee %s: %w", e.IdentityAddress, woterrors.ErrInvalidParameter)
		}
		seen[e.IdentityAddress] = true
		if err := graph.ValidateTrustComment(e.Comment); err != nil {
			return nil, err
		}
		clamped := int(graph.ClampTrustValue(e.Value))
		parsed = append(parsed, ParsedTrustEntry{TrusteeAddress: e.IdentityAddress, Value: clamped, Comment: e.Comment})
	}

	return &ParsedDocument{
		SourceAddress:      sourceAddress,
		Nickname:           doc.Nickname,
		PublishesTrustList: doc.PublishesTrustList,
		Contexts:           doc.Contexts,
		Properties:         doc.Properties,
		TrustList:          parsed,
	}, nil
}
