package domain

import (
	"github.com/ethereum/go-ethereum/common"
)

// Provenance locates a published claim on the ledger.
type Provenance struct {
	BlockNumber uint64
	BlockHash   common.Hash
	TxHash      common.Hash
	TxIndex     uint
	LogIndex    uint
}

// PublishedClaimEvent is a claim as recorded by the registry's ClaimPublished event.
// The issuer is always explicit here: the registry resolved the signer sentinel.
type PublishedClaimEvent struct {
	ChainID  int64
	Registry common.Address
	Claim    Claim
	Provenance
}

// CompareEvents orders events by (block, tx index, log index).
// Returns negative if a < b, zero if equal, positive if a > b.
func CompareEvents(a, b *PublishedClaimEvent) int {
	if a.BlockNumber != b.BlockNumber {
		if a.BlockNumber < b.BlockNumber {
			return -1
		}
		return 1
	}
	if a.TxIndex != b.TxIndex {
		if a.TxIndex < b.TxIndex {
			return -1
		}
		return 1
	}
	if a.LogIndex != b.LogIndex {
		if a.LogIndex < b.LogIndex {
			return -1
		}
		return 1
	}
	return 0
}
