package idhash

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"

	"dtp-claims/internal/domain"
)

// ComputeEventID identifies one ClaimPublished log.
// Formula: SHA256(chain_id|tx_hash|log_index), base58-encoded.
func ComputeEventID(chainID int64, e domain.Provenance) string {
	data := fmt.Sprintf("%d|%s|%d", chainID, strings.ToLower(e.TxHash.Hex()), e.LogIndex)

	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}
