package batch

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtp-claims/internal/domain"
)

var signers = []common.Address{
	common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
	common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
	common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"),
}

const sampleFile = `{
  "claims": [
    [0, 1, "Trust1", 1],
    [1, 2, "Trust1", -1],
    [0, 2, "Rating100", "85"],
    [2, "0x90F79bf6EB2c4f870365E785982E1f101E93b906", "Trust1", 1],
    [1, 0, "Audit100", 100],
    [0, "0x90F79bf6EB2c4f870365E785982E1f101E93b906", "Follow", 123456789012345678901234567890]
  ]
}`

func TestDecode_TupleForms(t *testing.T) {
	raw, err := Decode(strings.NewReader(sampleFile))
	require.NoError(t, err)
	require.Len(t, raw, 6)

	assert.Equal(t, RawClaim{IssuerIndex: 0, Subject: SubjectIndex(1), TypeID: "Trust1", Value: "1"}, raw[0])
	assert.Equal(t, "85", raw[2].Value)
	assert.Equal(t, SubjectAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906"), raw[3].Subject)
	assert.Equal(t, "123456789012345678901234567890", raw[5].Value, "large numbers kept verbatim")
}

func TestDecode_IntegralNumberNotations(t *testing.T) {
	raw, err := Decode(strings.NewReader(`{"claims": [
		[0, 1, "Trust1", 1e2],
		[0.0, 1.0, "Trust1", 1],
		[1, 2, "Rating100", 1.0],
		[1E0, 3, "Trust1", -5e1],
		[0, 1, "Rating100", 12345678901234567890123e3]
	]}`))
	require.NoError(t, err)
	require.Len(t, raw, 5)

	assert.Equal(t, "100", raw[0].Value)
	assert.Equal(t, RawClaim{IssuerIndex: 0, Subject: SubjectIndex(1), TypeID: "Trust1", Value: "1"}, raw[1])
	assert.Equal(t, "1", raw[2].Value)
	assert.Equal(t, 1, raw[3].IssuerIndex)
	assert.Equal(t, "-50", raw[3].Value)
	assert.Equal(t, "12345678901234567890123000", raw[4].Value)

	// Normalised values pass validation.
	builder := Builder{Signers: signers, Context: "crypto.evm.chain:1337"}
	_, err = builder.Build(raw[:4])
	require.NoError(t, err)
}

func TestDecode_NonIntegralNumbers(t *testing.T) {
	raw, err := Decode(strings.NewReader(`{"claims": [[0, 1, "Rating100", 1.5]]}`))
	require.NoError(t, err)
	assert.Equal(t, "1.5", raw[0].Value, "fractions are left for validation to reject")

	for _, doc := range []string{
		`{"claims": [[0.5, 1, "Trust1", 1]]}`,
		`{"claims": [[0, 1.5, "Trust1", 1]]}`,
		`{"claims": [[1e999999, 1, "Trust1", 1]]}`,
	} {
		_, err := Decode(strings.NewReader(doc))
		assert.Error(t, err, doc)
	}
}

func TestDecode_RejectsMalformedTuples(t *testing.T) {
	for _, doc := range []string{
		`{"claims": [[0, 1, "Trust1"]]}`,
		`{"claims": [["a", 1, "Trust1", 1]]}`,
		`{"claims": [[0, true, "Trust1", 1]]}`,
		`{"claims": [[0, 1, 7, 1]]}`,
		`{"claims": [[0, 1, "Trust1", null]]}`,
		`{"claims": [[0.5, 1, "Trust1", 1]]}`,
	} {
		_, err := Decode(strings.NewReader(doc))
		assert.Error(t, err, doc)
	}
}

func TestBuild_GroupsStablyInFirstSeenOrder(t *testing.T) {
	raw, err := Decode(strings.NewReader(sampleFile))
	require.NoError(t, err)

	b := &Builder{Signers: signers, Context: domain.ChainContext(1337)}
	batches, err := b.Build(raw)
	require.NoError(t, err)
	require.Len(t, batches, 3)

	assert.Equal(t, []int{0, 1, 2}, []int{batches[0].IssuerKey(), batches[1].IssuerKey(), batches[2].IssuerKey()})

	first := batches[0].Claims()
	require.Len(t, first, 3)
	assert.Equal(t, signers[1], first[0].Subject)
	assert.Equal(t, domain.TypeRating100, first[1].TypeID)
	assert.Equal(t, domain.TypeFollow, first[2].TypeID)

	second := batches[1].Claims()
	require.Len(t, second, 2)
	assert.Equal(t, "-1", second[0].Value)
	assert.Equal(t, signers[0], second[1].Subject)

	total := 0
	for _, batch := range batches {
		for _, c := range batch.Claims() {
			assert.True(t, c.Issuer.IsSigner())
			assert.Equal(t, domain.ScopeContract, c.Scope)
			assert.Equal(t, "crypto.evm.chain:1337", c.Context)
			assert.Zero(t, c.Activate)
			assert.Zero(t, c.Expire)
			assert.Empty(t, c.Comment)
		}
		total += batch.Len()
	}
	assert.Equal(t, len(raw), total)
}

func TestBuild_IssuerOrderFollowsFirstAppearance(t *testing.T) {
	raw := []RawClaim{
		{IssuerIndex: 2, Subject: SubjectIndex(0), TypeID: "Trust1", Value: "1"},
		{IssuerIndex: 0, Subject: SubjectIndex(2), TypeID: "Trust1", Value: "1"},
		{IssuerIndex: 2, Subject: SubjectIndex(1), TypeID: "Trust1", Value: "0"},
	}
	b := &Builder{Signers: signers, Context: domain.ChainContext(1), Comment: "bulk", Expire: 10}

	batches, err := b.Build(raw)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, 2, batches[0].IssuerKey())
	assert.Equal(t, 0, batches[1].IssuerKey())

	claims := batches[0].Claims()
	assert.Equal(t, signers[0], claims[0].Subject)
	assert.Equal(t, signers[1], claims[1].Subject)
	assert.Equal(t, "bulk", claims[0].Comment)
	assert.Equal(t, uint64(10), claims[0].Expire)
}

func TestBuild_ResolutionFailures(t *testing.T) {
	tests := []struct {
		name  string
		raw   RawClaim
		field string
	}{
		{"subject index out of range", RawClaim{IssuerIndex: 0, Subject: SubjectIndex(3), TypeID: "Trust1", Value: "1"}, "subject"},
		{"negative subject index", RawClaim{IssuerIndex: 0, Subject: SubjectIndex(-1), TypeID: "Trust1", Value: "1"}, "subject"},
		{"issuer index out of range", RawClaim{IssuerIndex: 9, Subject: SubjectIndex(0), TypeID: "Trust1", Value: "1"}, "issuer"},
		{"malformed address", RawClaim{IssuerIndex: 0, Subject: SubjectAddress("0x1234"), TypeID: "Trust1", Value: "1"}, "subject"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok := RawClaim{IssuerIndex: 1, Subject: SubjectIndex(0), TypeID: "Trust1", Value: "1"}
			b := &Builder{Signers: signers, Context: domain.ChainContext(1337)}

			batches, err := b.Build([]RawClaim{ok, tt.raw})
			require.Error(t, err)
			assert.Nil(t, batches, "no partial output")
			assert.True(t, errors.Is(err, domain.ErrResolution))

			var e *domain.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, 1, e.Index)
			assert.Equal(t, tt.field, e.Field)
		})
	}
}

func TestBuild_ValidationFailure(t *testing.T) {
	raw := []RawClaim{{IssuerIndex: 0, Subject: SubjectIndex(1), TypeID: "Rating100", Value: "150"}}
	b := &Builder{Signers: signers, Context: domain.ChainContext(1337)}

	_, err := b.Build(raw)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	var e *domain.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 0, e.Index)
	assert.Equal(t, "value", e.Field)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trustdata.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleFile), 0o600))

	raw, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, raw, 6)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestBuild_ContextMustNameChain(t *testing.T) {
	raw := []RawClaim{{IssuerIndex: 0, Subject: SubjectIndex(1), TypeID: "Trust1", Value: "1"}}

	builder := Builder{Signers: signers, Context: domain.ChainContext(1), ChainID: 1337}
	_, err := builder.Build(raw)
	require.ErrorIs(t, err, domain.ErrValidation)
	var e *domain.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "context", e.Field)
	assert.Equal(t, int64(1337), e.ChainID)

	builder.Context = domain.ChainContext(1337)
	batches, err := builder.Build(raw)
	require.NoError(t, err)
	assert.Equal(t, domain.ChainContext(1337), batches[0].Claims()[0].Context)

	builder.Context = "crypto.btc:mainnet"
	_, err = builder.Build(raw)
	assert.NoError(t, err)
}
