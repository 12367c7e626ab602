package subscription

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// TierInfo describes the commercial terms and limits of a single tier.
type TierInfo struct {
	DisplayName  string          `yaml:"display_name" json:"display_name"`
	PriceMonthly decimal.Decimal `yaml:"price_monthly" json:"price_monthly"`
	PriceYearly  decimal.Decimal `yaml:"price_yearly" json:"price_yearly"`
	Currency     string          `yaml:"currency" json:"currency"`
	MaxProjects  int             `yaml:"max_projects" json:"max_projects"` // 0 means unlimited
	MaxCatalogs  int             `yaml:"max_catalogs" json:"max_catalogs"` // 0 means unlimited
	Features     []string        `yaml:"features" json:"features"`
}

// TierTable is an immutable lookup keyed by tier. A valid table has an entry for every tier.
type TierTable struct {
	entries map[Tier]TierInfo
}

// DefaultTierTable returns the built-in tier table.
func DefaultTierTable() TierTable {
	t, err := NewTierTable(map[Tier]TierInfo{
		TierFree: {
			DisplayName: "Free",
			Currency:    "EUR",
			MaxProjects: 10,
			MaxCatalogs: 1,
			Features:    []string{"projects", "materials"},
		},
		Tier1: {
			DisplayName:  "Maker",
			PriceMonthly: decimal.RequireFromString("9.99"),
			PriceYearly:  decimal.RequireFromString("99.00"),
			Currency:     "EUR",
			MaxProjects:  100,
			MaxCatalogs:  5,
			Features:     []string{"projects", "materials", "catalogs", "orders"},
		},
		Tier2: {
			DisplayName:  "Business",
			PriceMonthly: decimal.RequireFromString("24.99"),
			PriceYearly:  decimal.RequireFromString("249.00"),
			Currency:     "EUR",
			Features:     []string{"projects", "materials", "catalogs", "orders", "branding", "analytics"},
		},
	})
	if err != nil {
		panic(err)
	}
	return t
}

// NewTierTable validates entries and returns an immutable table.
// Every tier must be present and no unknown tier may appear.
func NewTierTable(entries map[Tier]TierInfo) (TierTable, error) {
	var errs []error
	for _, tier := range Tiers {
		info, ok := entries[tier]
		if !ok {
			errs = append(errs, fmt.Errorf("missing entry for tier %q", tier))
			continue
		}
		if info.DisplayName == "" {
			errs = append(errs, fmt.Errorf("tier %q: display_name is required", tier))
		}
		if info.PriceMonthly.IsNegative() || info.PriceYearly.IsNegative() {
			errs = append(errs, fmt.Errorf("tier %q: prices must not be negative", tier))
		}
		if tier.IsPaid() && !info.PriceMonthly.IsPositive() {
			errs = append(errs, fmt.Errorf("tier %q: paid tier needs a monthly price", tier))
		}
	}
	for tier := range entries {
		if !tier.Valid() {
			errs = append(errs, fmt.Errorf("unknown tier %q", tier))
		}
	}
	if len(errs) > 0 {
		return TierTable{}, errors.Join(append([]error{ErrInvalidTierTable}, errs...)...)
	}

	copied := make(map[Tier]TierInfo, len(entries))
	for k, v := range entries {
		v.Features = append([]string(nil), v.Features...)
		copied[k] = v
	}
	return TierTable{entries: copied}, nil
}

// LoadTierTable reads a YAML document mapping tier names to TierInfo.
func LoadTierTable(r io.Reader) (TierTable, error) {
	raw := map[string]TierInfo{}
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		return TierTable{}, errors.Join(ErrInvalidTierTable, err)
	}
	entries := make(map[Tier]TierInfo, len(raw))
	for name, info := range raw {
		entries[Tier(name)] = info
	}
	return NewTierTable(entries)
}

// LoadTierTableFile is LoadTierTable for a file path. An empty path yields DefaultTierTable.
func LoadTierTableFile(path string) (TierTable, error) {
	if path == "" {
		return DefaultTierTable(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return TierTable{}, errors.Join(ErrInvalidTierTable, err)
	}
	defer f.Close()
	return LoadTierTable(f)
}

// Info returns the entry for tier. It panics for unknown tiers since a valid table is exhaustive.
func (t TierTable) Info(tier Tier) TierInfo {
	info, ok := t.entries[tier]
	if !ok {
		panic(fmt.Sprintf("subscription: tier %q missing from tier table", tier))
	}
	return info
}

// DisplayName returns the human readable tier name, falling back to the raw value.
func (t TierTable) DisplayName(tier Tier) string {
	if info, ok := t.entries[tier]; ok {
		return info.DisplayName
	}
	return string(tier)
}
