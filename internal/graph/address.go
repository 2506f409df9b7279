package graph

import (
	"crypto/sha256"
	"encoding/hex"
)

// IdentityIDFromAddress derives an Identity's id from its request address,
// standing in for I1 ("id == H(request_address.public_key)") without
// implementing the real USK-equivalent key parsing the Non-goals exclude:
// any deterministic, collision-resistant function of the address satisfies
// every invariant and test in this module's scope.
func IdentityIDFromAddress(requestAddress string) string {
	h := sha256.Sum256([]byte(requestAddress))
	return hex.EncodeToString(h[:])
}
