package analytics

import (
	"crypto/sha256"
	"encoding/hex"
)

// fingerprintLength is the number of hex characters kept from the digest.
// Enough to distinguish visitors, too little to reverse.
const fingerprintLength = 16

// Fingerprint derives a privacy-reduced client identifier: a truncated
// one-way hash of the IP plus a server-side salt. The raw IP must never be
// stored or logged; this is its only durable representation.
func Fingerprint(ip, salt string) string {
	sum := sha256.Sum256([]byte(ip + salt))
	return hex.EncodeToString(sum[:])[:fingerprintLength]
}
