package common

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint hashes the "|"-joined parts into a stable hex key. Redis keys
// and dedup keys built from caller input (tokens, addresses) go through it so
// raw values never end up in key names.
func Fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
