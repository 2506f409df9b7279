package graph

import (
	"fmt"
	"regexp"

	"github.com/hyphanet/wot/internal/woterrors"
)

// Field length/cardinality bounds, normative per spec §3/§6.
const (
	MaxNicknameLen    = 30
	MaxContextTags    = 32
	MaxContextTagLen  = 32
	MaxProperties     = 64
	MaxPropertyKeyLen = 256
	MaxPropertyValLen = 10240
	MaxTrustCommentLen = 256
	MinTrustValue     = -100
	MaxTrustValue     = 100
)

// nicknameCharset restricts nicknames to a conservative, display-safe
// character set: letters, digits, space, and a handful of punctuation
// marks commonly seen in pseudonymous handles.
var nicknameCharset = regexp.MustCompile(`^[\p{L}\p{N} ._\-]+$`)

// contextTagCharset restricts context tags to short ASCII identifiers.
var contextTagCharset = regexp.MustCompile(`^[a-zA-Z0-9_.\-]+$`)

// ValidateNickname enforces the length and charset bound on Identity.Nickname.
// A nil nickname (not yet set) is always valid.
func ValidateNickname(nickname *string) error {
	if nickname == nil {
		return nil
	}
	n := *nickname
	if len(n) == 0 || len(n) > MaxNicknameLen {
		return fmt.Errorf("nickname length %d exceeds bound [1,%d]: %w", len(n), MaxNicknameLen, woterrors.ErrInvalidParameter)
	}
	if !nicknameCharset.MatchString(n) {
		return fmt.Errorf("nickname %q contains illegal characters: %w", n, woterrors.ErrInvalidParameter)
	}
	return nil
}

// ValidateContexts enforces the §3 bound: at most 32 tags, each at most 32
// chars, from a restricted charset.
func ValidateContexts(contexts []string) error {
	if len(contexts) > MaxContextTags {
		return fmt.Errorf("contexts count %d exceeds bound %d: %w", len(contexts), MaxContextTags, woterrors.ErrInvalidParameter)
	}
	seen := make(map[string]bool, len(contexts))
	for _, c := range contexts {
		if len(c) == 0 || len(c) > MaxContextTagLen {
			return fmt.Errorf("context tag %q length exceeds bound [1,%d]: %w", c, MaxContextTagLen, woterrors.ErrInvalidParameter)
		}
		if !contextTagCharset.MatchString(c) {
			return fmt.Errorf("context tag %q contains illegal characters: %w", c, woterrors.ErrInvalidParameter)
		}
		if seen[c] {
			return fmt.Errorf("duplicate context tag %q: %w", c, woterrors.ErrInvalidParameter)
		}
		seen[c] = true
	}
	return nil
}

// ValidateProperties enforces the §3 bound: at most 64 entries, key <= 256
// chars, value <= 10240 chars.
func ValidateProperties(props map[string]string) error {
	if len(props) > MaxProperties {
		return fmt.Errorf("properties count %d exceeds bound %d: %w", len(props), MaxProperties, woterrors.ErrInvalidParameter)
	}
	for k, v := range props {
		if len(k) == 0 || len(k) > MaxPropertyKeyLen {
			return fmt.Errorf("property key %q length exceeds bound [1,%d]: %w", k, MaxPropertyKeyLen, woterrors.ErrInvalidParameter)
		}
		if len(v) > MaxPropertyValLen {
			return fmt.Errorf("property %q value length %d exceeds bound %d: %w", k, len(v), MaxPropertyValLen, woterrors.ErrInvalidParameter)
		}
	}
	return nil
}

// ClampTrustValue clamps a signed trust value to [-100, 100] (spec §4.2).
func ClampTrustValue(v int) int8 {
	if v > MaxTrustValue {
		return MaxTrustValue
	}
	if v < MinTrustValue {
		return MinTrustValue
	}
	return int8(v)
}

// ValidateTrustComment enforces the §3 bound on Trust.Comment.
func ValidateTrustComment(comment string) error {
	if len(comment) > MaxTrustCommentLen {
		return fmt.Errorf("trust comment length %d exceeds bound %d: %w", len(comment), MaxTrustCommentLen, woterrors.ErrInvalidParameter)
	}
	return nil
}

// ValidateIdentity runs every field-level validator on an Identity.
func ValidateIdentity(id *Identity) error {
	if id.ID == "" {
		return fmt.Errorf("identity id must not be empty: %w", woterrors.ErrInvalidParameter)
	}
	if id.RequestAddress == "" {
		return fmt.Errorf("identity request address must not be empty: %w", woterrors.ErrInvalidParameter)
	}
	if err := ValidateNickname(id.Nickname); err != nil {
		return err
	}
	if err := ValidateContexts(id.Contexts); err != nil {
		return err
	}
	return ValidateProperties(id.Properties)
}

// ValidateTrust runs every field-level validator on a Trust edge.
func ValidateTrust(t *Trust) error {
	if t.Truster == "" || t.Trustee == "" {
		return fmt.Errorf("trust truster/trustee must not be empty: %w", woterrors.ErrInvalidParameter)
	}
	if t.Truster == t.Trustee {
		return fmt.Errorf("trust truster and trustee must differ: %w", woterrors.ErrInvalidParameter)
	}
	if t.Value < MinTrustValue || t.Value > MaxTrustValue {
		return fmt.Errorf("trust value %d out of bound [%d,%d]: %w", t.Value, MinTrustValue, MaxTrustValue, woterrors.ErrInvalidParameter)
	}
	return ValidateTrustComment(t.Comment)
}
