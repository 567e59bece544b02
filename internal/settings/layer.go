package settings

import (
	"fmt"
	"math/big"
	"strings"

	"gopkg.in/yaml.v3"
)

// Amount is a base-unit integer decoded from a YAML string or integer.
type Amount struct {
	v *big.Int
}

// NewAmount wraps n. A nil n is zero.
func NewAmount(n *big.Int) *Amount {
	if n == nil {
		n = new(big.Int)
	}
	return &Amount{v: new(big.Int).Set(n)}
}

// Big returns a copy of the amount.
func (a *Amount) Big() *big.Int {
	if a == nil || a.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.v)
}

// UnmarshalYAML accepts decimal strings and integers.
func (a *Amount) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: amount must be a scalar", node.Line)
	}
	n, ok := new(big.Int).SetString(strings.TrimSpace(node.Value), 10)
	if !ok {
		return fmt.Errorf("line %d: amount %q is not a decimal integer", node.Line, node.Value)
	}
	a.v = n
	return nil
}

// MarshalYAML renders the amount as a decimal string.
func (a Amount) MarshalYAML() (interface{}, error) {
	return a.Big().String(), nil
}

// AssetLayer is one layer of stable coin metadata. Nil fields are absent.
type AssetLayer struct {
	Decimals *uint8  `yaml:"decimals,omitempty"`
	Symbol   *string `yaml:"symbol,omitempty"`
	Name     *string `yaml:"name,omitempty"`
	Icon     *string `yaml:"icon,omitempty"`
	Address  *string `yaml:"address,omitempty"`
	Price    *Amount `yaml:"price,omitempty"`
}

// Layer is one layer of network settings: the generic record or a chain override.
// Nil pointers and nil maps/slices are absent and never override anything.
type Layer struct {
	Name            *string               `yaml:"name,omitempty"`
	RegistryAddress *string               `yaml:"dtpContract,omitempty"`
	RPCURL          *string               `yaml:"rpcUrl,omitempty"`
	WSURL           *string               `yaml:"wsUrl,omitempty"`
	FallbackRPCURLs []string              `yaml:"fallbackRpcUrls,omitempty"`
	NativeToken     *bool                 `yaml:"nativeToken,omitempty"`
	BaseCostFee     *Amount               `yaml:"baseCostFee,omitempty"`
	Confirmations   *uint64               `yaml:"confirmations,omitempty"`
	LogPageSize     *uint64               `yaml:"logPageSize,omitempty"`
	StableCoins     map[string]AssetLayer `yaml:"stableCoins,omitempty"`
}

// Table is the full settings table: generic defaults plus chain-keyed overrides.
type Table struct {
	Generic  Layer           `yaml:"generic"`
	Networks map[int64]Layer `yaml:"networks"`
}

// Merge returns base overlaid with override. Mappings merge key by key,
// scalars take the override value when present, lists are replaced wholesale.
// Neither argument is modified and the result shares no mutable state with them.
func Merge(base, override Layer) Layer {
	out := Layer{
		Name:            mergeScalar(base.Name, override.Name),
		RegistryAddress: mergeScalar(base.RegistryAddress, override.RegistryAddress),
		RPCURL:          mergeScalar(base.RPCURL, override.RPCURL),
		WSURL:           mergeScalar(base.WSURL, override.WSURL),
		NativeToken:     mergeScalar(base.NativeToken, override.NativeToken),
		Confirmations:   mergeScalar(base.Confirmations, override.Confirmations),
		LogPageSize:     mergeScalar(base.LogPageSize, override.LogPageSize),
		BaseCostFee:     mergeAmount(base.BaseCostFee, override.BaseCostFee),
	}

	switch {
	case override.FallbackRPCURLs != nil:
		out.FallbackRPCURLs = append([]string{}, override.FallbackRPCURLs...)
	case base.FallbackRPCURLs != nil:
		out.FallbackRPCURLs = append([]string{}, base.FallbackRPCURLs...)
	}

	if base.StableCoins != nil || override.StableCoins != nil {
		out.StableCoins = make(map[string]AssetLayer, len(base.StableCoins)+len(override.StableCoins))
		for key, asset := range base.StableCoins {
			out.StableCoins[key] = mergeAsset(asset, AssetLayer{})
		}
		for key, asset := range override.StableCoins {
			out.StableCoins[key] = mergeAsset(out.StableCoins[key], asset)
		}
	}

	return out
}

// MergeTables overlays override on base using the layer merge rule for
// the generic record and for every chain present in either table.
func MergeTables(base, override Table) Table {
	out := Table{
		Generic:  Merge(base.Generic, override.Generic),
		Networks: make(map[int64]Layer, len(base.Networks)+len(override.Networks)),
	}
	for id, layer := range base.Networks {
		out.Networks[id] = Merge(layer, Layer{})
	}
	for id, layer := range override.Networks {
		out.Networks[id] = Merge(out.Networks[id], layer)
	}
	return out
}

func mergeAsset(base, override AssetLayer) AssetLayer {
	return AssetLayer{
		Decimals: mergeScalar(base.Decimals, override.Decimals),
		Symbol:   mergeScalar(base.Symbol, override.Symbol),
		Name:     mergeScalar(base.Name, override.Name),
		Icon:     mergeScalar(base.Icon, override.Icon),
		Address:  mergeScalar(base.Address, override.Address),
		Price:    mergeAmount(base.Price, override.Price),
	}
}

func mergeScalar[T any](base, override *T) *T {
	src := base
	if override != nil {
		src = override
	}
	if src == nil {
		return nil
	}
	v := *src
	return &v
}

func mergeAmount(base, override *Amount) *Amount {
	src := base
	if override != nil {
		src = override
	}
	if src == nil {
		return nil
	}
	return NewAmount(src.Big())
}
