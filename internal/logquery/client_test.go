package logquery

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtp-claims/internal/domain"
	"dtp-claims/internal/evm"
	"dtp-claims/internal/evm/stub"
	"dtp-claims/internal/publisher"
	"dtp-claims/internal/registry"
	"dtp-claims/internal/settings"
	"dtp-claims/internal/signer"
)

const testChainID = 1337

var (
	registryHex  = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	registryAddr = common.HexToAddress(registryHex)
	accountA     = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	accountB     = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	subjectC     = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	quiet        = log.New(io.Discard, "", 0)
)

func ptr[T any](v T) *T {
	return &v
}

func testResolver(registryAddress string, pageSize uint64) *settings.Resolver {
	layer := settings.Layer{RPCURL: ptr("http://stub.invalid")}
	if registryAddress != "" {
		layer.RegistryAddress = ptr(registryAddress)
	}
	if pageSize > 0 {
		layer.LogPageSize = ptr(pageSize)
	}
	return settings.NewResolver(settings.Table{
		Networks: map[int64]settings.Layer{testChainID: layer},
	})
}

func claim(subject common.Address, value string) domain.Claim {
	return domain.Claim{
		TypeID:  domain.TypeTrust1,
		Issuer:  domain.SignerIssuer(),
		Subject: subject,
		Value:   value,
		Scope:   domain.ScopeContract,
		Context: domain.ChainContext(testChainID),
	}
}

// publish sends claims from account straight to the stub, one block per call.
func publish(t *testing.T, chain *stub.Chain, account common.Address, claims ...domain.Claim) {
	t.Helper()
	data, err := registry.PackPublishClaims(claims, domain.NoFee())
	require.NoError(t, err)
	to := registryAddr
	_, err = signer.NewNodeSigner(account).Send(context.Background(), chain, evm.TxArgs{To: &to, Data: data})
	require.NoError(t, err)
}

func assertLedgerOrder(t *testing.T, events []domain.PublishedClaimEvent) {
	t.Helper()
	for i := 1; i < len(events); i++ {
		assert.Negative(t, domain.CompareEvents(&events[i-1], &events[i]), "events %d and %d out of order", i-1, i)
	}
}

func TestQuery_RoundTripWithPublisher(t *testing.T) {
	chain := stub.NewChain(testChainID, registryAddr, accountA, accountB)
	resolver := testResolver(registryHex, 0)
	pub := publisher.NewClient(resolver, chain, publisher.Options{
		Logger: quiet,
		Wait:   publisher.WaitConfig{PollInterval: 5 * time.Millisecond},
	})

	original := claim(accountB, "1")
	original.Comment = "This is a test trust claim"
	original.Link = "https://example.org/claims/1"
	original.Activate = 1700000000
	original.Expire = 1800000000

	receipt, err := pub.Publish(context.Background(), testChainID, signer.NewNodeSigner(accountA), original, domain.NoFee())
	require.NoError(t, err)

	client := NewClient(resolver, chain, Options{Logger: quiet})
	events, err := client.Query(context.Background(), testChainID, Range{From: 0, To: ptr(receipt.BlockNumber)})
	require.NoError(t, err)
	require.Len(t, events, 1)

	want := original
	want.Issuer = domain.IssuedBy(accountA)
	got := events[0]
	assert.Equal(t, want, got.Claim)
	assert.Equal(t, receipt.TxHash, got.TxHash)
	assert.Equal(t, receipt.BlockNumber, got.BlockNumber)
	assert.Equal(t, registryAddr, got.Registry)
	assert.Equal(t, int64(testChainID), got.ChainID)
}

func TestQuery_ConcurrentIssuersReturnAllInOrder(t *testing.T) {
	chain := stub.NewChain(testChainID, registryAddr, accountA, accountB)
	chain.SetMineDelay(2 * time.Millisecond)
	resolver := testResolver(registryHex, 0)
	pub := publisher.NewClient(resolver, chain, publisher.Options{
		Logger: quiet,
		Wait:   publisher.WaitConfig{PollInterval: 2 * time.Millisecond},
	})

	batches := []*domain.ClaimBatch{
		domain.NewClaimBatch(0, []domain.Claim{claim(subjectC, "1"), claim(subjectC, "2"), claim(subjectC, "3")}),
		domain.NewClaimBatch(1, []domain.Claim{claim(subjectC, "4"), claim(subjectC, "5")}),
	}
	signers := []signer.Signer{signer.NewNodeSigner(accountA), signer.NewNodeSigner(accountB)}
	_, err := pub.PublishAll(context.Background(), testChainID, batches, signers, domain.NoFee())
	require.NoError(t, err)

	client := NewClient(resolver, chain, Options{Logger: quiet})
	events, err := client.Query(context.Background(), testChainID, Range{})
	require.NoError(t, err)
	require.Len(t, events, 5)
	assertLedgerOrder(t, events)

	// Each issuer's claims keep their submission order.
	values := map[common.Address][]string{}
	for _, e := range events {
		issuer, ok := e.Claim.Issuer.Address()
		require.True(t, ok)
		values[issuer] = append(values[issuer], e.Claim.Value)
	}
	assert.Equal(t, []string{"1", "2", "3"}, values[accountA])
	assert.Equal(t, []string{"4", "5"}, values[accountB])
}

func TestEvents_PageBoundaries(t *testing.T) {
	chain := stub.NewChain(testChainID, registryAddr, accountA)
	// Blocks 1..7 each carry one claim; block 8 is empty.
	for i := 1; i <= 7; i++ {
		publish(t, chain, accountA, claim(subjectC, "1"))
	}
	chain.Mine()

	client := NewClient(testResolver(registryHex, 3), chain, Options{Logger: quiet})
	events, err := client.Query(context.Background(), testChainID, Range{From: 1, To: ptr(uint64(8))})
	require.NoError(t, err)
	require.Len(t, events, 7, "no event dropped or duplicated across pages")

	for i, e := range events {
		assert.Equal(t, uint64(i+1), e.BlockNumber)
	}
	// [1,3] [4,6] [7,8]
	assert.Equal(t, 3, chain.GetLogsCalls())
}

func TestEvents_SplitsWindowOnProviderLimit(t *testing.T) {
	chain := stub.NewChain(testChainID, registryAddr, accountA)
	for i := 0; i < 6; i++ {
		publish(t, chain, accountA, claim(subjectC, "1"), claim(accountB, "-1"))
	}
	chain.SetMaxLogResults(4)

	client := NewClient(testResolver(registryHex, 100), chain, Options{Logger: quiet})
	events, err := client.Query(context.Background(), testChainID, Range{})
	require.NoError(t, err)
	require.Len(t, events, 12)
	assertLedgerOrder(t, events)
	assert.Greater(t, chain.GetLogsCalls(), 3)
}

func TestEvents_SingleBlockOverLimitFails(t *testing.T) {
	chain := stub.NewChain(testChainID, registryAddr, accountA)
	publish(t, chain, accountA, claim(subjectC, "1"), claim(accountB, "1"), claim(accountB, "0"))
	chain.SetMaxLogResults(2)

	client := NewClient(testResolver(registryHex, 10), chain, Options{Logger: quiet})
	_, err := client.Query(context.Background(), testChainID, Range{})
	require.ErrorIs(t, err, domain.ErrQuery)
	assert.True(t, evm.IsLimitExceeded(err))
}

func TestEvents_MissingRegistry(t *testing.T) {
	chain := stub.NewChain(testChainID, registryAddr)
	client := NewClient(testResolver("", 0), chain, Options{Logger: quiet})

	_, err := client.Query(context.Background(), testChainID, Range{})
	require.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Zero(t, chain.GetLogsCalls())
}

func TestEvents_LazyAndRestartable(t *testing.T) {
	chain := stub.NewChain(testChainID, registryAddr, accountA)
	for i := 0; i < 4; i++ {
		publish(t, chain, accountA, claim(subjectC, "1"))
	}
	client := NewClient(testResolver(registryHex, 2), chain, Options{Logger: quiet})

	seq := client.Events(context.Background(), testChainID, Range{From: 1})
	assert.Zero(t, chain.GetLogsCalls(), "nothing fetched before iteration")

	collect := func() []common.Hash {
		var hashes []common.Hash
		for e, err := range seq {
			require.NoError(t, err)
			hashes = append(hashes, e.TxHash)
		}
		return hashes
	}
	first := collect()
	second := collect()
	assert.Len(t, first, 4)
	assert.Equal(t, first, second)

	// Stopping early does not fetch further pages.
	before := chain.GetLogsCalls()
	for range seq {
		break
	}
	assert.Equal(t, before+1, chain.GetLogsCalls())
}

func TestEvents_EmptyAndInvertedRange(t *testing.T) {
	chain := stub.NewChain(testChainID, registryAddr, accountA)
	publish(t, chain, accountA, claim(subjectC, "1"))
	client := NewClient(testResolver(registryHex, 0), chain, Options{Logger: quiet})

	events, err := client.Query(context.Background(), testChainID, Range{From: 5, To: ptr(uint64(2))})
	require.NoError(t, err)
	assert.Empty(t, events)

	// From beyond the latest block
	events, err = client.Query(context.Background(), testChainID, Range{From: 100})
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Zero(t, chain.GetLogsCalls())
}

func TestEvents_Cancelled(t *testing.T) {
	chain := stub.NewChain(testChainID, registryAddr, accountA)
	publish(t, chain, accountA, claim(subjectC, "1"))
	client := NewClient(testResolver(registryHex, 0), chain, Options{Logger: quiet})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Query(ctx, testChainID, Range{To: ptr(uint64(1))})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDecodePage_SkipsRemovedAndForeignLogs(t *testing.T) {
	topics, data, err := registry.EncodeClaimPublished(domain.Claim{
		TypeID:  domain.TypeTrust1,
		Issuer:  domain.IssuedBy(accountA),
		Subject: subjectC,
		Value:   "1",
		Scope:   domain.ScopeContract,
	})
	require.NoError(t, err)

	logs := []evm.Log{
		{Address: registryAddr, Topics: topics, Data: data, BlockNumber: 5, TxIndex: 1, LogIndex: 3},
		{Address: registryAddr, Topics: topics, Data: data, BlockNumber: 5, TxIndex: 0, LogIndex: 0},
		{Address: registryAddr, Topics: topics, Data: data, BlockNumber: 4, Removed: true},
		{Address: accountB, Topics: topics, Data: data, BlockNumber: 4},
	}
	page, err := decodePage(testChainID, registryAddr, logs)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint(0), page[0].TxIndex)
	assert.Equal(t, uint(1), page[1].TxIndex)

	_, err = decodePage(testChainID, registryAddr, []evm.Log{{Address: registryAddr, Topics: topics, Data: []byte{1}}})
	assert.Error(t, err)
}
