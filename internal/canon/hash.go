package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes keep hashes of different record kinds from colliding.
const (
	DomainState    = "titlechain/state/v1"
	DomainProposal = "titlechain/proposal/v1"
)

// HashWithDomain computes SHA256(domain || 0x00 || data) as lowercase hex.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Pair is one committed key and its stored bytes.
type Pair struct {
	Key   string
	Value []byte
}

// StateHash fingerprints a peer's world state. pairs must already be in key
// order (as a range scan yields them). Stored bytes are hashed as opaque
// strings so a corrupted value still contributes deterministically.
func StateHash(pairs []Pair) (string, error) {
	arr := make(Array, len(pairs))
	for i, p := range pairs {
		arr[i] = Array{String(p.Key), String(p.Value)}
	}
	data, err := Marshal(arr)
	if err != nil {
		return "", fmt.Errorf("state hash: %w", err)
	}
	return HashWithDomain(DomainState, data), nil
}

// ProposalHash identifies a transaction proposal's content independent of its
// transaction ID, so a replayed ID can be checked against what it was first
// used for.
func ProposalHash(fn string, args []string) (string, error) {
	data, err := Marshal(Object{
		"args": toStringArray(args),
		"fn":   String(fn),
	})
	if err != nil {
		return "", fmt.Errorf("proposal hash: %w", err)
	}
	return HashWithDomain(DomainProposal, data), nil
}

func toStringArray(ss []string) Array {
	arr := make(Array, len(ss))
	for i, s := range ss {
		arr[i] = String(s)
	}
	return arr
}
