package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// TypeID identifies the kind of relationship a claim asserts.
type TypeID string

// Claim types understood by the registry.
const (
	TypeDelegate1   TypeID = "Delegate1"   // delegate the graph to another entity
	TypeTrust1      TypeID = "Trust1"      // trust (-x..+x, 1/0/-1 primary)
	TypeDistance    TypeID = "Distance"    // distance between two entities
	TypeAudit100    TypeID = "Audit100"    // audited by the issuer, 0-100
	TypeRating100   TypeID = "Rating100"   // rated by the issuer, 0-100
	TypeConfirm     TypeID = "Confirm"     // subject exists and is not a fake
	TypeFollow      TypeID = "Follow"      // issuer follows the subject
	TypeDisplayName TypeID = "DisplayName" // display name given by the issuer
	TypeName        TypeID = "Name"        // subject address derived from a name
)

// KnownTypeIDs lists the claim type vocabulary in declaration order.
func KnownTypeIDs() []TypeID {
	return []TypeID{
		TypeDelegate1,
		TypeTrust1,
		TypeDistance,
		TypeAudit100,
		TypeRating100,
		TypeConfirm,
		TypeFollow,
		TypeDisplayName,
		TypeName,
	}
}

// Known reports whether t is part of the vocabulary.
func (t TypeID) Known() bool {
	for _, k := range KnownTypeIDs() {
		if k == t {
			return true
		}
	}
	return false
}

// TextValued reports whether claims of this type carry free text instead of an integer.
func (t TypeID) TextValued() bool {
	return t == TypeDisplayName || t == TypeName
}

// valueRange returns the inclusive bounds for integer values. A nil bound is open.
func (t TypeID) valueRange() (min, max *big.Int) {
	switch t {
	case TypeAudit100, TypeRating100:
		return big.NewInt(0), big.NewInt(100)
	case TypeDistance:
		return big.NewInt(0), nil
	default:
		return nil, nil
	}
}

// Scope tells whether a claim is bound to one registry instance or to the entity globally.
type Scope string

// Scope values.
const (
	ScopeContract Scope = "contract"
	ScopeEntity   Scope = "entity"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == ScopeContract || s == ScopeEntity
}

// Issuer is the entity a claim is attributed to.
// The zero value is the unset variant: the registry fills in the transaction signer.
type Issuer struct {
	addr common.Address
	set  bool
}

// SignerIssuer returns the unset issuer, resolved by the registry at acceptance time.
func SignerIssuer() Issuer {
	return Issuer{}
}

// IssuedBy returns an issuer bound to addr.
func IssuedBy(addr common.Address) Issuer {
	return Issuer{addr: addr, set: true}
}

// Address returns the explicit issuer address and whether one was set.
func (i Issuer) Address() (common.Address, bool) {
	return i.addr, i.set
}

// IsSigner reports whether the issuer is left to the transaction signer.
func (i Issuer) IsSigner() bool {
	return !i.set
}

// Wire returns the on-ledger encoding. The unset variant encodes as the zero address.
func (i Issuer) Wire() common.Address {
	if !i.set {
		return common.Address{}
	}
	return i.addr
}

func (i Issuer) String() string {
	if !i.set {
		return "<signer>"
	}
	return i.addr.Hex()
}

// Claim is a typed assertion from an issuer about a subject.
type Claim struct {
	TypeID   TypeID
	Issuer   Issuer
	Subject  common.Address
	Value    string // decimal integer, or free text for text-valued types
	Scope    Scope
	Context  string // e.g. crypto.evm.chain:1337
	Comment  string
	Link     string
	Activate uint64 // 0 = always active
	Expire   uint64 // 0 = never expires
}

// Validate checks the claim fields without touching the network.
func (c Claim) Validate() error {
	if c.TypeID == "" {
		return invalidField("typeId", "must not be empty")
	}
	if !c.TypeID.Known() {
		return invalidField("typeId", fmt.Sprintf("unknown claim type %q", c.TypeID))
	}
	if addr, ok := c.Issuer.Address(); ok && addr == (common.Address{}) {
		return invalidField("issuer", "explicit issuer must not be the zero address, use SignerIssuer")
	}
	if c.Subject == (common.Address{}) {
		return invalidField("subject", "must not be the zero address")
	}
	if !c.Scope.Valid() {
		return invalidField("scope", fmt.Sprintf("unknown scope %q", c.Scope))
	}
	if err := c.validateValue(); err != nil {
		return err
	}
	if c.Expire != 0 && c.Expire < c.Activate {
		return invalidField("expire", fmt.Sprintf("expire %d is before activate %d", c.Expire, c.Activate))
	}
	return nil
}

func (c Claim) validateValue() error {
	if c.TypeID.TextValued() {
		if strings.TrimSpace(c.Value) == "" {
			return invalidField("value", "must not be empty")
		}
		return nil
	}

	n, err := ParseValue(c.Value)
	if err != nil {
		return invalidField("value", err.Error())
	}

	min, max := c.TypeID.valueRange()
	if min != nil && n.Cmp(min) < 0 {
		return invalidField("value", fmt.Sprintf("%s below %s minimum %s", n, c.TypeID, min))
	}
	if max != nil && n.Cmp(max) > 0 {
		return invalidField("value", fmt.Sprintf("%s above %s maximum %s", n, c.TypeID, max))
	}
	return nil
}

// ParseValue parses a decimal integer claim value of arbitrary size.
func ParseValue(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty value")
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%q is not a decimal integer", s)
	}
	return n, nil
}

// ParseAddress parses a 0x-prefixed or bare 40 hex digit address.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%q is not a 20-byte hex address", s)
	}
	return common.HexToAddress(s), nil
}

func invalidField(field, msg string) error {
	return &Error{
		Kind:  KindValidation,
		Field: field,
		Index: -1,
		Err:   fmt.Errorf("%s", msg),
	}
}
