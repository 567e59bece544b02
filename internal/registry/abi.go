// Package registry encodes calls to and decodes events from the claims registry contract.
package registry

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"dtp-claims/internal/domain"
)

// Method and event names.
const (
	MethodPublishClaim  = "publishClaim"
	MethodPublishClaims = "publishClaims"
	EventClaimPublished = "ClaimPublished"
)

const claimComponents = `[
	{"name": "typeId", "type": "string"},
	{"name": "issuer", "type": "address"},
	{"name": "subject", "type": "address"},
	{"name": "value", "type": "string"},
	{"name": "scope", "type": "string"},
	{"name": "context", "type": "string"},
	{"name": "comment", "type": "string"},
	{"name": "link", "type": "string"},
	{"name": "activate", "type": "uint256"},
	{"name": "expire", "type": "uint256"}
]`

const registryJSON = `[
	{
		"type": "function",
		"name": "publishClaim",
		"stateMutability": "payable",
		"inputs": [
			{"name": "claim", "type": "tuple", "internalType": "struct Claim", "components": ` + claimComponents + `},
			{"name": "feeAsset", "type": "address"},
			{"name": "feeAmount", "type": "uint256"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "publishClaims",
		"stateMutability": "payable",
		"inputs": [
			{"name": "claims", "type": "tuple[]", "internalType": "struct Claim[]", "components": ` + claimComponents + `},
			{"name": "feeAsset", "type": "address"},
			{"name": "feeAmount", "type": "uint256"}
		],
		"outputs": []
	},
	{
		"type": "event",
		"name": "ClaimPublished",
		"anonymous": false,
		"inputs": [
			{"name": "claim", "type": "tuple", "indexed": false, "internalType": "struct Claim", "components": ` + claimComponents + `}
		]
	}
]`

// ABI is the parsed registry interface.
var ABI = mustParse(registryJSON)

// ClaimPublishedTopic is topic 0 of every ClaimPublished log.
var ClaimPublishedTopic = ABI.Events[EventClaimPublished].ID

func mustParse(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("registry abi: %v", err))
	}
	return parsed
}

// claimTuple mirrors the on-chain Claim struct. Field names follow the ABI component names.
type claimTuple struct {
	TypeId   string
	Issuer   common.Address
	Subject  common.Address
	Value    string
	Scope    string
	Context  string
	Comment  string
	Link     string
	Activate *big.Int
	Expire   *big.Int
}

func toTuple(c domain.Claim) claimTuple {
	return claimTuple{
		TypeId:   string(c.TypeID),
		Issuer:   c.Issuer.Wire(),
		Subject:  c.Subject,
		Value:    c.Value,
		Scope:    string(c.Scope),
		Context:  c.Context,
		Comment:  c.Comment,
		Link:     c.Link,
		Activate: new(big.Int).SetUint64(c.Activate),
		Expire:   new(big.Int).SetUint64(c.Expire),
	}
}

func fromTuple(t claimTuple) domain.Claim {
	c := domain.Claim{
		TypeID:   domain.TypeID(t.TypeId),
		Issuer:   domain.SignerIssuer(),
		Subject:  t.Subject,
		Value:    t.Value,
		Scope:    domain.Scope(t.Scope),
		Context:  t.Context,
		Comment:  t.Comment,
		Link:     t.Link,
		Activate: clampUint64(t.Activate),
		Expire:   clampUint64(t.Expire),
	}
	if t.Issuer != (common.Address{}) {
		c.Issuer = domain.IssuedBy(t.Issuer)
	}
	return c
}

func clampUint64(v *big.Int) uint64 {
	if v == nil || v.Sign() <= 0 {
		return 0
	}
	if !v.IsUint64() {
		return ^uint64(0)
	}
	return v.Uint64()
}

// Call is a decoded publication call.
type Call struct {
	Method string
	Claims []domain.Claim
	Fee    domain.Fee
}

var errNoClaims = errors.New("no claims to publish")

// PackPublishClaim encodes publishClaim(claim, feeAsset, feeAmount).
func PackPublishClaim(c domain.Claim, fee domain.Fee) ([]byte, error) {
	data, err := ABI.Pack(MethodPublishClaim, toTuple(c), fee.Asset, fee.AmountOrZero())
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", MethodPublishClaim, err)
	}
	return data, nil
}

// PackPublishClaims encodes publishClaims(claims, feeAsset, feeAmount) preserving claim order.
func PackPublishClaims(claims []domain.Claim, fee domain.Fee) ([]byte, error) {
	if len(claims) == 0 {
		return nil, errNoClaims
	}
	tuples := make([]claimTuple, len(claims))
	for i, c := range claims {
		tuples[i] = toTuple(c)
	}
	data, err := ABI.Pack(MethodPublishClaims, tuples, fee.Asset, fee.AmountOrZero())
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", MethodPublishClaims, err)
	}
	return data, nil
}

// UnpackCall decodes calldata produced by PackPublishClaim or PackPublishClaims.
func UnpackCall(data []byte) (*Call, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("calldata too short: %d bytes", len(data))
	}
	method, err := ABI.MethodById(data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method.Name, err)
	}
	if len(args) != 3 {
		return nil, fmt.Errorf("unpack %s: got %d arguments", method.Name, len(args))
	}

	call := &Call{Method: method.Name}
	switch method.Name {
	case MethodPublishClaim:
		t, ok := abi.ConvertType(args[0], new(claimTuple)).(*claimTuple)
		if !ok {
			return nil, fmt.Errorf("unpack %s: unexpected claim type %T", method.Name, args[0])
		}
		call.Claims = []domain.Claim{fromTuple(*t)}
	case MethodPublishClaims:
		ts, ok := abi.ConvertType(args[0], new([]claimTuple)).(*[]claimTuple)
		if !ok {
			return nil, fmt.Errorf("unpack %s: unexpected claims type %T", method.Name, args[0])
		}
		for _, t := range *ts {
			call.Claims = append(call.Claims, fromTuple(t))
		}
	default:
		return nil, fmt.Errorf("unexpected method %s", method.Name)
	}

	asset, _ := args[1].(common.Address)
	amount, _ := args[2].(*big.Int)
	call.Fee = domain.Fee{Asset: asset, Amount: amount}
	return call, nil
}

// EncodeClaimPublished builds the topics and data of a ClaimPublished log.
func EncodeClaimPublished(c domain.Claim) ([]common.Hash, []byte, error) {
	data, err := ABI.Events[EventClaimPublished].Inputs.Pack(toTuple(c))
	if err != nil {
		return nil, nil, fmt.Errorf("pack %s: %w", EventClaimPublished, err)
	}
	return []common.Hash{ClaimPublishedTopic}, data, nil
}

// DecodeClaimPublished decodes a ClaimPublished log.
func DecodeClaimPublished(topics []common.Hash, data []byte) (domain.Claim, error) {
	if len(topics) == 0 || topics[0] != ClaimPublishedTopic {
		return domain.Claim{}, fmt.Errorf("not a %s log", EventClaimPublished)
	}
	args, err := ABI.Unpack(EventClaimPublished, data)
	if err != nil {
		return domain.Claim{}, fmt.Errorf("unpack %s: %w", EventClaimPublished, err)
	}
	if len(args) != 1 {
		return domain.Claim{}, fmt.Errorf("unpack %s: got %d values", EventClaimPublished, len(args))
	}
	t, ok := abi.ConvertType(args[0], new(claimTuple)).(*claimTuple)
	if !ok {
		return domain.Claim{}, fmt.Errorf("unpack %s: unexpected type %T", EventClaimPublished, args[0])
	}
	return fromTuple(*t), nil
}
