// Package fingerprint derives pseudonymous caller identities from request
// metadata. Fingerprints are used for rate limiting and analytics, never
// for authentication.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Derive returns a stable 16-character fingerprint for a caller. The same
// inputs always produce the same fingerprint, and the inputs cannot be
// recovered from it.
func Derive(address, clientString, acceptLanguage string) string {
	data := fmt.Sprintf("%s:%s:%s", address, clientString, acceptLanguage)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])[:16]
}
