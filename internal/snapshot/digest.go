package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for digests. The version suffix leaves room for changing
// the canonical form later without colliding with old digests.
const (
	DomainState  = "statestore/state/v1"
	DomainAction = "statestore/action/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest returns the hex SHA-256 digest of v's canonical JSON under domain.
func Digest(domain string, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", domain, err)
	}
	return hashWithDomain(domain, data), nil
}

// StateDigest is Digest under DomainState.
func StateDigest(state any) (string, error) {
	return Digest(DomainState, state)
}

// MustStateDigest is StateDigest for trees known to be canonicalizable.
// It panics otherwise.
func MustStateDigest(state any) string {
	d, err := StateDigest(state)
	if err != nil {
		panic(err)
	}
	return d
}
