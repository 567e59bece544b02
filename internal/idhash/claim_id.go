// Package idhash derives deterministic identifiers for claims and events.
package idhash

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"

	"dtp-claims/internal/domain"
)

// ComputeClaimID identifies the slot a claim occupies: one issuer's claim of
// one type about one subject in one scope and context. Republishing into the
// same slot yields the same id, whatever the value.
// Formula: SHA256(typeId|issuer|subject|scope|context), base58-encoded.
//
// A signer issuer hashes as the zero address; resolve it before computing
// ids for published claims.
func ComputeClaimID(c domain.Claim) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%s",
		string(c.TypeID),
		strings.ToLower(c.Issuer.Wire().Hex()),
		strings.ToLower(c.Subject.Hex()),
		string(c.Scope),
		c.Context,
	)

	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}
