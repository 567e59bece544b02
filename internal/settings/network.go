package settings

import (
	"errors"
	"maps"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"dtp-claims/internal/domain"
)

// Defaults applied when neither the generic record nor the chain record sets a value.
const (
	DefaultConfirmations uint64 = 1
	DefaultLogPageSize   uint64 = 2000
)

var errNoRegistry = errors.New("no registry address configured")

// Asset is resolved stable coin metadata.
type Asset struct {
	Decimals uint8           `yaml:"decimals"`
	Symbol   string          `yaml:"symbol"`
	Name     string          `yaml:"name"`
	Icon     string          `yaml:"icon,omitempty"`
	Address  *common.Address `yaml:"address,omitempty"`
	Price    *big.Int        `yaml:"price"`
}

// Network is the resolved settings for one chain.
type Network struct {
	ChainID         int64            `yaml:"chainId"`
	Name            string           `yaml:"name,omitempty"`
	RegistryAddress *common.Address  `yaml:"dtpContract,omitempty"`
	RPCURL          string           `yaml:"rpcUrl,omitempty"`
	WSURL           string           `yaml:"wsUrl,omitempty"`
	FallbackRPCURLs []string         `yaml:"fallbackRpcUrls,omitempty"`
	NativeToken     bool             `yaml:"nativeToken"`
	BaseCostFee     *big.Int         `yaml:"baseCostFee"`
	Confirmations   uint64           `yaml:"confirmations"`
	LogPageSize     uint64           `yaml:"logPageSize"`
	StableCoins     map[string]Asset `yaml:"stableCoins,omitempty"`
	Context         string           `yaml:"context"`
}

// Registry returns the registry address or a configuration error.
func (n Network) Registry() (common.Address, error) {
	if n.RegistryAddress == nil || *n.RegistryAddress == (common.Address{}) {
		return common.Address{}, domain.NewError(domain.KindConfiguration, "resolve registry", n.ChainID, errNoRegistry)
	}
	return *n.RegistryAddress, nil
}

// DefaultFee is the fee charged when the caller does not pick one:
// the base cost in the native token when native fees are enabled, otherwise nothing.
func (n Network) DefaultFee() domain.Fee {
	if !n.NativeToken || n.BaseCostFee == nil {
		return domain.NoFee()
	}
	return domain.NativeFee(new(big.Int).Set(n.BaseCostFee))
}

// Endpoints returns the primary RPC URL followed by the fallbacks.
func (n Network) Endpoints() []string {
	out := make([]string, 0, 1+len(n.FallbackRPCURLs))
	if n.RPCURL != "" {
		out = append(out, n.RPCURL)
	}
	return append(out, n.FallbackRPCURLs...)
}

// Clone returns a deep copy.
func (n Network) Clone() Network {
	out := n
	if n.RegistryAddress != nil {
		addr := *n.RegistryAddress
		out.RegistryAddress = &addr
	}
	if n.FallbackRPCURLs != nil {
		out.FallbackRPCURLs = append([]string{}, n.FallbackRPCURLs...)
	}
	if n.BaseCostFee != nil {
		out.BaseCostFee = new(big.Int).Set(n.BaseCostFee)
	}
	if n.StableCoins != nil {
		out.StableCoins = maps.Clone(n.StableCoins)
		for key, asset := range out.StableCoins {
			out.StableCoins[key] = asset.clone()
		}
	}
	return out
}

func (a Asset) clone() Asset {
	out := a
	if a.Address != nil {
		addr := *a.Address
		out.Address = &addr
	}
	if a.Price != nil {
		out.Price = new(big.Int).Set(a.Price)
	}
	return out
}

// finalize turns a merged layer into resolved settings.
func finalize(chainID int64, l Layer) Network {
	n := Network{
		ChainID:       chainID,
		Name:          deref(l.Name),
		RPCURL:        deref(l.RPCURL),
		WSURL:         deref(l.WSURL),
		NativeToken:   deref(l.NativeToken),
		BaseCostFee:   l.BaseCostFee.Big(),
		Confirmations: DefaultConfirmations,
		LogPageSize:   DefaultLogPageSize,
		Context:       domain.ChainContext(chainID),
	}
	if l.RegistryAddress != nil && common.IsHexAddress(*l.RegistryAddress) {
		addr := common.HexToAddress(*l.RegistryAddress)
		n.RegistryAddress = &addr
	}
	if l.FallbackRPCURLs != nil {
		n.FallbackRPCURLs = append([]string{}, l.FallbackRPCURLs...)
	}
	if l.Confirmations != nil && *l.Confirmations > 0 {
		n.Confirmations = *l.Confirmations
	}
	if l.LogPageSize != nil && *l.LogPageSize > 0 {
		n.LogPageSize = *l.LogPageSize
	}
	if len(l.StableCoins) > 0 {
		n.StableCoins = make(map[string]Asset, len(l.StableCoins))
		for key, layer := range l.StableCoins {
			asset := Asset{
				Decimals: deref(layer.Decimals),
				Symbol:   deref(layer.Symbol),
				Name:     deref(layer.Name),
				Icon:     deref(layer.Icon),
				Price:    layer.Price.Big(),
			}
			if layer.Address != nil && common.IsHexAddress(*layer.Address) {
				addr := common.HexToAddress(*layer.Address)
				asset.Address = &addr
			}
			n.StableCoins[key] = asset
		}
	}
	return n
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
