package canonical

import (
	"crypto/sha256"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainRuleGraph = "strata/rulegraph/v1"
	DomainAction    = "strata/action/v1"
	DomainKey       = "strata/key/v1"
)

// HashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// Hash canonically encodes v and hashes it under domain.
func Hash(domain string, v any) ([32]byte, error) {
	data, err := Marshal(v)
	if err != nil {
		return [32]byte{}, fmt.Errorf("canonical hash: %w", err)
	}
	return HashWithDomain(domain, data), nil
}
