package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtp-claims/internal/domain"
	"dtp-claims/internal/evm"
	"dtp-claims/internal/evm/stub"
	"dtp-claims/internal/settings"
)

var (
	registryHex = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	accountA    = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	accountB    = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	subjectC    = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
)

func newTestChain() *stub.Chain {
	return stub.NewChain(1337, common.HexToAddress(registryHex), accountA, accountB)
}

// run executes the command line against chain and returns stdout.
func run(t *testing.T, chain *stub.Chain, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	a := &app{
		v:      viper.New(),
		dial:   func(*log.Logger, float64) evm.Connector { return chain },
		logOut: io.Discard,
	}
	cmd := newRootCmd(a)

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--registry", registryHex}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func decodeEvents(t *testing.T, out string) []eventJSON {
	t.Helper()
	var events []eventJSON
	dec := json.NewDecoder(strings.NewReader(out))
	for dec.More() {
		var e eventJSON
		require.NoError(t, dec.Decode(&e))
		events = append(events, e)
	}
	return events
}

func TestAccounts(t *testing.T) {
	out, err := run(t, newTestChain(), "accounts")
	require.NoError(t, err)
	assert.Equal(t, accountA.Hex()+"\n"+accountB.Hex()+"\n", out)
}

func TestAccounts_PrivateKey(t *testing.T) {
	// Well-known development key of 0xf39F...2266.
	out, err := run(t, newTestChain(), "accounts",
		"--private-key", "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)
	assert.Equal(t, accountA.Hex()+"\n", out)
}

func TestGetLatestBlock(t *testing.T) {
	chain := newTestChain()
	chain.Mine()
	chain.Mine()

	out, err := run(t, chain, "getlatestblock")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)
}

func TestCreateTrust_ThenLogs(t *testing.T) {
	chain := newTestChain()

	out, err := run(t, chain, "create-trust")
	require.NoError(t, err)
	assert.Contains(t, out, "Transaction receipt: 0x")
	assert.Contains(t, out, "success")

	out, err = run(t, chain, "logs", "--json")
	require.NoError(t, err)
	events := decodeEvents(t, out)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, "Trust1", e.TypeID)
	assert.Equal(t, accountA.Hex(), e.Issuer)
	assert.Equal(t, accountB.Hex(), e.Subject)
	assert.Equal(t, "1", e.Value)
	assert.Equal(t, "contract", e.Scope)
	assert.Equal(t, domain.ChainContext(1337), e.Context)
	assert.Equal(t, "This is a test trust claim", e.Comment)
	assert.NotEmpty(t, e.EventID)
	assert.NotEmpty(t, e.ClaimID)

	out, err = run(t, chain, "logs")
	require.NoError(t, err)
	assert.Contains(t, out, "Trust1")
	assert.Contains(t, out, "1 event(s)")
}

func TestCreateTrust_InvalidValue(t *testing.T) {
	chain := newTestChain()
	_, err := run(t, chain, "create-trust", "--value", "lots")
	require.ErrorIs(t, err, domain.ErrValidation)

	out, err := run(t, chain, "getlatestblock")
	require.NoError(t, err)
	assert.Equal(t, "0\n", out, "nothing was submitted")
}

func TestCreateTrust_ContextFlag(t *testing.T) {
	chain := newTestChain()

	_, err := run(t, chain, "create-trust", "--context", domain.ChainContext(1))
	require.ErrorContains(t, err, "names chain 1")
	out, err := run(t, chain, "getlatestblock")
	require.NoError(t, err)
	assert.Equal(t, "0\n", out, "nothing was submitted")

	_, err = run(t, chain, "create-trust", "--context", "crypto.btc:mainnet")
	require.NoError(t, err)
	out, err = run(t, chain, "logs", "--json")
	require.NoError(t, err)
	events := decodeEvents(t, out)
	require.Len(t, events, 1)
	assert.Equal(t, "crypto.btc:mainnet", events[0].Context)
}

func TestCreateClaims_ContextForOtherChain(t *testing.T) {
	chain := newTestChain()
	file := filepath.Join(t.TempDir(), "trustdata.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"claims": [[0, 1, "Trust1", 1]]}`), 0o644))

	_, err := run(t, chain, "create-claims", "--file", file, "--context", domain.ChainContext(56))
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreateDisplayName(t *testing.T) {
	chain := newTestChain()

	_, err := run(t, chain, "create-displayname")
	require.NoError(t, err)

	out, err := run(t, chain, "logs", "--json")
	require.NoError(t, err)
	events := decodeEvents(t, out)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, "DisplayName", e.TypeID)
	assert.Equal(t, "John Doe", e.Value)
	assert.Equal(t, accountA.Hex(), e.Subject)
	assert.Equal(t, "entity", e.Scope)
	assert.Empty(t, e.Context)
}

func TestCreateClaims(t *testing.T) {
	chain := newTestChain()
	file := filepath.Join(t.TempDir(), "trustdata.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"claims": [
		[0, 1, "Trust1", 1],
		[1, 0, "Trust1", -1],
		[0, "`+subjectC.Hex()+`", "Rating100", 80]
	]}`), 0o644))

	out, err := run(t, chain, "create-claims", "--file", file)
	require.NoError(t, err)
	assert.Contains(t, out, "Run: ")
	assert.Equal(t, 2, strings.Count(out, "Transaction receipt:"))

	out, err = run(t, chain, "logs", "--json")
	require.NoError(t, err)
	events := decodeEvents(t, out)
	require.Len(t, events, 3)

	byIssuer := map[string]int{}
	for _, e := range events {
		byIssuer[e.Issuer]++
	}
	assert.Equal(t, 2, byIssuer[accountA.Hex()])
	assert.Equal(t, 1, byIssuer[accountB.Hex()])

	out, err = run(t, chain, "logs", "--json", "--subject", subjectC.Hex())
	require.NoError(t, err)
	events = decodeEvents(t, out)
	require.Len(t, events, 1)
	assert.Equal(t, "80", events[0].Value)
}

func TestCreateClaims_UnknownIssuerIndex(t *testing.T) {
	chain := newTestChain()
	file := filepath.Join(t.TempDir(), "trustdata.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"claims": [[5, 0, "Trust1", 1]]}`), 0o644))

	_, err := run(t, chain, "create-claims", "--file", file)
	require.ErrorIs(t, err, domain.ErrResolution)
}

func TestLogs_RangeAndSourceFlags(t *testing.T) {
	chain := newTestChain()
	_, err := run(t, chain, "create-trust")
	require.NoError(t, err)
	_, err = run(t, chain, "create-trust", "--value", "0")
	require.NoError(t, err)

	out, err := run(t, chain, "logs", "--json", "--start", "2")
	require.NoError(t, err)
	events := decodeEvents(t, out)
	require.Len(t, events, 1)
	assert.Equal(t, "0", events[0].Value)

	_, err = run(t, chain, "logs", "--source", "kafka")
	assert.ErrorContains(t, err, "unknown source")

	_, err = run(t, chain, "logs", "--source", "postgres")
	assert.ErrorContains(t, err, "postgres-dsn")
}

func TestNetworksShow(t *testing.T) {
	out, err := run(t, newTestChain(), "networks", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "chainId: 1337")
	assert.Contains(t, out, strings.ToLower(registryHex)[2:])

	out, err = run(t, newTestChain(), "networks", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "1337")
}

func TestSyncOnce_MemoryStore(t *testing.T) {
	chain := newTestChain()
	_, err := run(t, chain, "create-trust")
	require.NoError(t, err)

	out, err := run(t, chain, "sync", "--once", "--store", "memory")
	require.NoError(t, err)
	assert.Contains(t, out, "indexed blocks 0-1: 1 event(s), 1 stored")

	_, err = run(t, chain, "sync", "--once", "--store", "redis")
	assert.ErrorContains(t, err, "unknown store")
}

func TestSubmissions_NeedJournal(t *testing.T) {
	_, err := run(t, newTestChain(), "submissions", "reconcile")
	assert.ErrorContains(t, err, "postgres-dsn")
}

func TestChainIDFromEnv(t *testing.T) {
	t.Setenv("DTP_CHAIN_ID", "-3")
	_, err := run(t, newTestChain(), "accounts")
	assert.ErrorContains(t, err, "chain-id")
}

func TestResolveFee(t *testing.T) {
	table, err := settings.Default()
	require.NoError(t, err)
	resolver := settings.NewResolver(table)
	mainnet := resolver.Resolve(1)

	fee, err := (&publishFlags{}).resolveFee(mainnet)
	require.NoError(t, err)
	assert.True(t, fee.IsNative())
	assert.Zero(t, fee.AmountOrZero().Sign(), "no flags must not attach a fee")
	assert.Zero(t, fee.TxValue().Sign())

	fee, err = (&publishFlags{baseFee: true}).resolveFee(mainnet)
	require.NoError(t, err)
	assert.True(t, fee.IsNative())
	assert.Equal(t, mainnet.BaseCostFee, fee.Amount)

	_, err = (&publishFlags{baseFee: true, fee: "1"}).resolveFee(mainnet)
	assert.Error(t, err)

	// A token amount is never derived from the native base cost.
	_, err = (&publishFlags{feeToken: "usdc"}).resolveFee(mainnet)
	assert.ErrorContains(t, err, "--fee-token requires --fee")

	fee, err = (&publishFlags{fee: "2500000", feeToken: "usdc"}).resolveFee(mainnet)
	require.NoError(t, err)
	assert.False(t, fee.IsNative())
	assert.Equal(t, int64(2500000), fee.Amount.Int64())
	assert.Zero(t, fee.TxValue().Sign())

	fee, err = (&publishFlags{fee: "5"}).resolveFee(mainnet)
	require.NoError(t, err)
	assert.True(t, fee.IsNative())
	assert.Equal(t, int64(5), fee.Amount.Int64())

	fee, err = (&publishFlags{fee: "7", feeToken: "DAI"}).resolveFee(mainnet)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), fee.Asset)
	assert.Equal(t, int64(7), fee.Amount.Int64())

	fee, err = (&publishFlags{fee: "1", feeToken: subjectC.Hex()}).resolveFee(mainnet)
	require.NoError(t, err)
	assert.Equal(t, subjectC, fee.Asset)

	_, err = (&publishFlags{fee: "-1"}).resolveFee(mainnet)
	assert.Error(t, err)

	_, err = (&publishFlags{fee: "1", feeToken: "doge"}).resolveFee(mainnet)
	assert.Error(t, err)
}
