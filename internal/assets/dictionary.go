// Package assets loads the asset dictionary: per-asset decimals and ERC-20
// addresses, plus the registry of deployed position tokens.
package assets

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/alanyoungcy/fulcrumbot/internal/domain"
)

// Asset is one dictionary entry.
type Asset struct {
	Symbol   domain.Asset `yaml:"symbol"`
	Decimals int          `yaml:"decimals"`
	Address  string       `yaml:"address"`
	Native   bool         `yaml:"native"`
	// Wrapped names the ERC-20 used in place of a native asset.
	Wrapped domain.Asset `yaml:"wrapped"`
}

// PositionToken maps a token key to its deployed contract.
type PositionToken struct {
	Key     domain.TradeTokenKey `yaml:",inline"`
	Address string               `yaml:"address"`
}

type file struct {
	Assets         []Asset         `yaml:"assets"`
	PositionTokens []PositionToken `yaml:"position_tokens"`
}

// Dictionary is an immutable, in-memory view of the asset file.
type Dictionary struct {
	assets    map[domain.Asset]Asset
	positions map[domain.TradeTokenKey]common.Address
}

// Load reads and parses the dictionary at path.
func Load(path string) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("assets: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Dictionary from YAML bytes.
func Parse(data []byte) (*Dictionary, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("assets: parse: %w", err)
	}

	d := &Dictionary{
		assets:    make(map[domain.Asset]Asset, len(f.Assets)),
		positions: make(map[domain.TradeTokenKey]common.Address, len(f.PositionTokens)),
	}
	var errs []string
	for _, a := range f.Assets {
		a.Symbol = domain.Asset(strings.ToUpper(string(a.Symbol)))
		if a.Symbol == "" {
			errs = append(errs, "asset with empty symbol")
			continue
		}
		if a.Address != "" && !common.IsHexAddress(a.Address) {
			errs = append(errs, fmt.Sprintf("%s: invalid address %q", a.Symbol, a.Address))
		}
		if a.Decimals < 0 {
			errs = append(errs, fmt.Sprintf("%s: negative decimals", a.Symbol))
		}
		d.assets[a.Symbol] = a
	}
	for _, p := range f.PositionTokens {
		if p.Key.Version == 0 {
			p.Key.Version = 1
		}
		if !common.IsHexAddress(p.Address) {
			errs = append(errs, fmt.Sprintf("%s: invalid address %q", p.Key, p.Address))
			continue
		}
		d.positions[p.Key] = common.HexToAddress(p.Address)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("assets: invalid dictionary:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return d, nil
}

// Lookup returns the entry for asset.
func (d *Dictionary) Lookup(asset domain.Asset) (Asset, error) {
	a, ok := d.assets[asset]
	if !ok {
		return Asset{}, fmt.Errorf("assets: %s: %w", asset, domain.ErrUnknownAsset)
	}
	return a, nil
}

// Decimals returns the precision of asset, or 0 when unknown.
func (d *Dictionary) Decimals(asset domain.Asset) int {
	return d.assets[asset].Decimals
}

// IsNative reports whether asset is the chain's native currency.
func (d *Dictionary) IsNative(asset domain.Asset) bool {
	return d.assets[asset].Native
}

// TokenAddress returns the ERC-20 address of asset. A native asset resolves
// to its wrapped token.
func (d *Dictionary) TokenAddress(asset domain.Asset) (common.Address, bool) {
	a, ok := d.assets[asset]
	if !ok {
		return common.Address{}, false
	}
	if a.Native {
		if a.Wrapped == "" {
			return common.Address{}, false
		}
		return d.TokenAddress(a.Wrapped)
	}
	if a.Address == "" {
		return common.Address{}, false
	}
	return common.HexToAddress(a.Address), true
}

// PositionAddress returns the deployed contract for key.
func (d *Dictionary) PositionAddress(key domain.TradeTokenKey) (common.Address, bool) {
	addr, ok := d.positions[key]
	return addr, ok
}

// Symbols lists the known assets.
func (d *Dictionary) Symbols() []domain.Asset {
	out := make([]domain.Asset, 0, len(d.assets))
	for s := range d.assets {
		out = append(out, s)
	}
	return out
}
