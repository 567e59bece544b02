package domain

// ClaimBatch is an ordered group of claims from one issuer, submitted as one transaction.
// It is not mutated after construction; Claims returns a copy.
type ClaimBatch struct {
	issuerKey int
	claims    []Claim
}

// NewClaimBatch creates a batch for the signer at issuerKey. The claims slice is copied.
func NewClaimBatch(issuerKey int, claims []Claim) *ClaimBatch {
	cp := make([]Claim, len(claims))
	copy(cp, claims)
	return &ClaimBatch{issuerKey: issuerKey, claims: cp}
}

// IssuerKey is the index of the signing account in the caller's signer list.
func (b *ClaimBatch) IssuerKey() int {
	return b.issuerKey
}

// Len returns the number of claims.
func (b *ClaimBatch) Len() int {
	return len(b.claims)
}

// Claims returns the claims in submission order.
func (b *ClaimBatch) Claims() []Claim {
	cp := make([]Claim, len(b.claims))
	copy(cp, b.claims)
	return cp
}
