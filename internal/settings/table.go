package settings

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

//go:embed networks.yaml
var defaultTable []byte

// Default returns the built-in settings table.
func Default() (Table, error) {
	return Load(bytes.NewReader(defaultTable))
}

// Load decodes a settings table from YAML and checks it.
func Load(r io.Reader) (Table, error) {
	var t Table
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil && err != io.EOF {
		return Table{}, fmt.Errorf("decode settings: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Table{}, err
	}
	return t, nil
}

// LoadFile layers the table in path over the built-in defaults.
// An empty path returns the defaults.
func LoadFile(path string) (Table, error) {
	base, err := Default()
	if err != nil {
		return Table{}, err
	}
	if path == "" {
		return base, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Table{}, fmt.Errorf("open settings: %w", err)
	}
	defer f.Close()

	override, err := Load(f)
	if err != nil {
		return Table{}, fmt.Errorf("%s: %w", path, err)
	}
	return MergeTables(base, override), nil
}

// Validate checks address fields of every layer.
func (t Table) Validate() error {
	if err := t.Generic.validate(); err != nil {
		return fmt.Errorf("generic: %w", err)
	}
	for id, layer := range t.Networks {
		if id <= 0 {
			return fmt.Errorf("networks: invalid chain id %d", id)
		}
		if err := layer.validate(); err != nil {
			return fmt.Errorf("networks.%d: %w", id, err)
		}
	}
	return nil
}

func (l Layer) validate() error {
	if l.RegistryAddress != nil && *l.RegistryAddress != "" && !common.IsHexAddress(*l.RegistryAddress) {
		return fmt.Errorf("dtpContract %q is not an address", *l.RegistryAddress)
	}
	for key, asset := range l.StableCoins {
		if asset.Address != nil && *asset.Address != "" && !common.IsHexAddress(*asset.Address) {
			return fmt.Errorf("stableCoins.%s.address %q is not an address", key, *asset.Address)
		}
	}
	return nil
}
