package automation

import (
	"fmt"
	"math/big"

	"github.com/BurntSushi/toml"
)

// Config captures the runtime parameters for the automation module. Offsets
// are expressed in basis points of collateralization ratio so deployments can
// tune them without touching code.
type Config struct {
	// MinColRatioOffsetBps separates a stop-loss from the liquidation ratio
	// floor and from sibling sell triggers.
	MinColRatioOffsetBps uint64 `toml:"MinColRatioOffsetBps"`
	// NextColRatioOffsetBps keeps the slider maximum reachable after the next
	// oracle price tick.
	NextColRatioOffsetBps uint64 `toml:"NextColRatioOffsetBps"`
	// DefaultLevelOffsetBps seeds the initial stop-loss level above the
	// slider minimum when no trigger exists yet.
	DefaultLevelOffsetBps uint64 `toml:"DefaultLevelOffsetBps"`
	// MaxDebtForStopLoss caps the debt size eligible for automated stop-loss
	// protection, denominated in the debt token.
	MaxDebtForStopLoss int64 `toml:"MaxDebtForStopLoss"`
}

// EnsureDefaults populates unset fields with the canonical offsets.
func (c *Config) EnsureDefaults() {
	if c.MinColRatioOffsetBps == 0 {
		c.MinColRatioOffsetBps = 500
	}
	if c.NextColRatioOffsetBps == 0 {
		c.NextColRatioOffsetBps = 300
	}
	if c.DefaultLevelOffsetBps == 0 {
		c.DefaultLevelOffsetBps = 500
	}
	if c.MaxDebtForStopLoss == 0 {
		c.MaxDebtForStopLoss = 20_000_000
	}
}

// LoadConfig reads the module configuration from a TOML file and applies
// defaults for unset fields.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("automation: load config: %w", err)
	}
	cfg.EnsureDefaults()
	return cfg, nil
}

// MinOffset returns the liquidation-floor offset on the percent scale.
func (c Config) MinOffset() *big.Rat {
	return bpsToPercent(c.MinColRatioOffsetBps)
}

// NextRatioOffset returns the next-tick offset on the percent scale.
func (c Config) NextRatioOffset() *big.Rat {
	return bpsToPercent(c.NextColRatioOffsetBps)
}

// DefaultLevelOffset returns the initial-level offset on the percent scale.
func (c Config) DefaultLevelOffset() *big.Rat {
	return bpsToPercent(c.DefaultLevelOffsetBps)
}

// MaxStopLossDebt returns the stop-loss debt cap as a rational.
func (c Config) MaxStopLossDebt() *big.Rat {
	return big.NewRat(c.MaxDebtForStopLoss, 1)
}

// bpsToPercent converts basis points of ratio to percent points, the scale
// trigger levels are expressed on (500 bps -> 5 percent points).
func bpsToPercent(bps uint64) *big.Rat {
	return new(big.Rat).SetFrac64(int64(bps), 100)
}
