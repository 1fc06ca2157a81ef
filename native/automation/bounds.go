package automation

import (
	"math/big"

	"vaultguard/native/vault"
)

// Bounds is the advisory slider range for a proposed trigger level, on the
// percent scale. Out-of-range candidates are not rejected here; validation
// owns that call.
type Bounds struct {
	Min *big.Rat
	Max *big.Rat
}

// Contains reports whether a candidate level falls inside the range.
func (b Bounds) Contains(level *big.Rat) bool {
	if level == nil || b.Min == nil || b.Max == nil {
		return false
	}
	return level.Cmp(b.Min) >= 0 && level.Cmp(b.Max) <= 0
}

// StopLossBounds derives the valid stop-loss range for a position given its
// sibling triggers. The minimum sits a fixed offset above the liquidation
// ratio so the stop-loss always pre-empts forced liquidation. The maximum is
// the lowest of the sell-side trigger executions minus the same offset, or
// the next-tick collateralization ratio minus a smaller offset, so the
// stop-loss both fires before any automated sell and stays reachable after
// the next oracle update. The maximum is floored to a whole percent.
func StopLossBounds(position *vault.PositionData, triggers TriggerSet, cfg Config) Bounds {
	if position == nil {
		return Bounds{Min: new(big.Rat), Max: new(big.Rat)}
	}
	min := new(big.Rat).Mul(orZero(position.LiquidationRatio), big.NewRat(100, 1))
	min.Add(min, cfg.MinOffset())

	var max *big.Rat
	switch {
	case triggers.AutoSell.Enabled:
		max = new(big.Rat).Sub(orZero(triggers.AutoSell.ExecCollRatio), cfg.MinOffset())
	case triggers.ConstantMultiple.Enabled:
		max = new(big.Rat).Sub(orZero(triggers.ConstantMultiple.SellExecutionCollRatio), cfg.MinOffset())
	default:
		max = new(big.Rat).Mul(orZero(position.NextPositionRatio), big.NewRat(100, 1))
		max.Sub(max, cfg.NextRatioOffset())
	}
	return Bounds{Min: min, Max: floorWholePercent(max)}
}

// InitialStopLossLevel seeds the stop-loss form: an existing trigger keeps
// its level, otherwise the level starts a configured offset above the slider
// minimum, floored to a whole percent.
func InitialStopLossLevel(bounds Bounds, stopLoss StopLossState, cfg Config) *big.Rat {
	seed := new(big.Rat).Add(orZero(bounds.Min), cfg.DefaultLevelOffset())
	if stopLoss.Enabled && stopLoss.Level != nil && stopLoss.Level.Sign() > 0 {
		seed = stopLoss.Level
	}
	return floorWholePercent(seed)
}

// SellTriggersOverlap reports whether the configured sell-side triggers have
// overlapping execution ranges. Auto-sell must execute strictly below
// auto-buy, and constant-multiple supersedes both basic triggers.
func SellTriggersOverlap(triggers TriggerSet) bool {
	if triggers.ConstantMultiple.Enabled && (triggers.AutoSell.Enabled || triggers.AutoBuy.Enabled) {
		return true
	}
	if triggers.AutoSell.Enabled && triggers.AutoBuy.Enabled {
		sell := orZero(triggers.AutoSell.ExecCollRatio)
		buy := orZero(triggers.AutoBuy.ExecCollRatio)
		if sell.Cmp(buy) >= 0 {
			return true
		}
	}
	return false
}

func floorWholePercent(x *big.Rat) *big.Rat {
	if x == nil || x.Sign() <= 0 {
		return new(big.Rat)
	}
	whole := new(big.Int).Quo(x.Num(), x.Denom())
	return new(big.Rat).SetInt(whole)
}

func orZero(x *big.Rat) *big.Rat {
	if x == nil {
		return new(big.Rat)
	}
	return x
}
