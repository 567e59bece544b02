package batch

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"dtp-claims/internal/domain"
)

const opBuild = "build batches"

// Builder groups raw claims by issuer into validated batches.
type Builder struct {
	// Signers resolves issuer and subject indices.
	Signers []common.Address
	// Context is stamped on every claim, e.g. domain.ChainContext(1337).
	Context string
	// ChainID, when set, is the chain an EVM Context must name.
	ChainID int64

	// Optional claim fields, empty/zero unless set.
	Comment  string
	Link     string
	Activate uint64
	Expire   uint64
}

// Build groups raw by issuer index in first-seen order, preserving input
// order within each group. Any unresolvable reference or invalid claim
// aborts the whole build; no partial output is returned.
func (b *Builder) Build(raw []RawClaim) ([]*domain.ClaimBatch, error) {
	if b.ChainID > 0 {
		if err := domain.CheckChainContext(b.Context, b.ChainID); err != nil {
			return nil, &domain.Error{Kind: domain.KindValidation, Op: opBuild, ChainID: b.ChainID, Field: "context", Index: -1, Err: err}
		}
	}

	var (
		order  []int
		groups = make(map[int][]domain.Claim)
	)

	for pos, rc := range raw {
		if rc.IssuerIndex < 0 || rc.IssuerIndex >= len(b.Signers) {
			return nil, b.resolutionError(pos, "issuer", fmt.Errorf("issuer index %d out of range [0,%d)", rc.IssuerIndex, len(b.Signers)))
		}

		subject, err := b.resolveSubject(rc.Subject)
		if err != nil {
			return nil, b.resolutionError(pos, "subject", err)
		}

		claim := domain.Claim{
			TypeID:   domain.TypeID(rc.TypeID),
			Issuer:   domain.SignerIssuer(),
			Subject:  subject,
			Value:    rc.Value,
			Scope:    domain.ScopeContract,
			Context:  b.Context,
			Comment:  b.Comment,
			Link:     b.Link,
			Activate: b.Activate,
			Expire:   b.Expire,
		}
		if err := claim.Validate(); err != nil {
			var e *domain.Error
			if errors.As(err, &e) {
				e.Op = opBuild
				e.Index = pos
			}
			return nil, err
		}

		if _, seen := groups[rc.IssuerIndex]; !seen {
			order = append(order, rc.IssuerIndex)
		}
		groups[rc.IssuerIndex] = append(groups[rc.IssuerIndex], claim)
	}

	batches := make([]*domain.ClaimBatch, 0, len(order))
	for _, key := range order {
		batches = append(batches, domain.NewClaimBatch(key, groups[key]))
	}
	return batches, nil
}

func (b *Builder) resolveSubject(ref SubjectRef) (common.Address, error) {
	if idx, ok := ref.Index(); ok {
		if idx < 0 || idx >= len(b.Signers) {
			return common.Address{}, fmt.Errorf("subject index %d out of range [0,%d)", idx, len(b.Signers))
		}
		return b.Signers[idx], nil
	}
	return domain.ParseAddress(ref.String())
}

func (b *Builder) resolutionError(pos int, field string, err error) error {
	return &domain.Error{
		Kind:  domain.KindResolution,
		Op:    opBuild,
		Field: field,
		Index: pos,
		Err:   err,
	}
}
