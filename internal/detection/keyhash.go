package detection

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// hashCorrelationKey derives a fixed-width map key for a (rule, correlation
// value) pair. blake2b is used purely for its speed and low collision
// surface at this size, not for any cryptographic guarantee — the
// correlation-progress map is in-memory, process-local state.
func hashCorrelationKey(ruleName, value string) string {
	h := blake2b.Sum256([]byte(ruleName + "\x00" + value))
	return hex.EncodeToString(h[:16])
}
