package domain

import (
	"fmt"
	"strconv"
	"strings"
)

const evmChainContextPrefix = "crypto.evm.chain:"

// ChainContext returns the conventional context descriptor for an EVM chain.
func ChainContext(chainID int64) string {
	return evmChainContextPrefix + strconv.FormatInt(chainID, 10)
}

// ParseChainContext extracts the chain id from a crypto.evm.chain:<id> context.
func ParseChainContext(ctx string) (int64, error) {
	rest, ok := strings.CutPrefix(ctx, evmChainContextPrefix)
	if !ok {
		return 0, fmt.Errorf("context %q is not an EVM chain context", ctx)
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("context %q: %w", ctx, err)
	}
	return id, nil
}

// CheckChainContext rejects an EVM chain context naming a chain other than
// chainID. Contexts outside the crypto.evm.chain namespace pass.
func CheckChainContext(ctx string, chainID int64) error {
	if !strings.HasPrefix(ctx, evmChainContextPrefix) {
		return nil
	}
	id, err := ParseChainContext(ctx)
	if err != nil {
		return err
	}
	if id != chainID {
		return fmt.Errorf("context %q names chain %d, not %d", ctx, id, chainID)
	}
	return nil
}

// KnownContexts maps short network names to their claim context.
var KnownContexts = map[string]string{
	"local":       ChainContext(1337),
	"ethereum":    ChainContext(1),
	"bsc":         ChainContext(56),
	"polygon":     ChainContext(137),
	"arbitrum":    ChainContext(42161),
	"fantom":      ChainContext(250),
	"avalanche":   ChainContext(43114),
	"harmony":     ChainContext(1666600000),
	"xdai":        ChainContext(100),
	"moonbeam":    ChainContext(1287),
	"celo":        ChainContext(42220),
	"optimism":    ChainContext(10),
	"kovan":       ChainContext(42),
	"rinkeby":     ChainContext(4),
	"ropsten":     ChainContext(3),
	"goerli":      ChainContext(5),
	"bsc-testnet": ChainContext(97),
}
