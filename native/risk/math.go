// Package risk provides the pure position math shared by the automation and
// pipeline engines. All arithmetic is exact rational arithmetic over big.Rat;
// results are freshly allocated so callers can mutate them safely.
//
// Every function fails closed: nil operands, zero denominators and negative
// intermediates degrade to zero instead of returning an error, so callers
// holding transiently inconsistent snapshots never observe a failure. A zero
// result means "no meaningful value at these inputs".
package risk

import "math/big"

var (
	one     = big.NewRat(1, 1)
	hundred = big.NewRat(100, 1)
)

// CollateralPriceAtRatio returns the collateral price at which a position with
// the supplied collateral and debt sits exactly at colRatio. Stop-loss levels
// are ratios, so this doubles as the execution price for a candidate level.
func CollateralPriceAtRatio(colRatio, collateral, debt *big.Rat) *big.Rat {
	if colRatio == nil || collateral == nil || debt == nil || collateral.Sign() == 0 {
		return new(big.Rat)
	}
	price := new(big.Rat).Mul(colRatio, debt)
	price.Quo(price, collateral)
	return clampZero(price)
}

// CollateralizationRatio returns collateral value over debt value at the
// supplied collateral price. Zero-debt positions report a zero ratio.
func CollateralizationRatio(collateral, price, debt *big.Rat) *big.Rat {
	if collateral == nil || price == nil || debt == nil || debt.Sign() == 0 {
		return new(big.Rat)
	}
	ratio := new(big.Rat).Mul(collateral, price)
	ratio.Quo(ratio, debt)
	return clampZero(ratio)
}

// CollateralDuringLiquidation returns the collateral a vault owner retains
// after a forced liquidation at liquidationPrice, net of the protocol penalty.
func CollateralDuringLiquidation(lockedCollateral, debt, liquidationPrice, liquidationPenalty *big.Rat) *big.Rat {
	if lockedCollateral == nil || debt == nil || liquidationPrice == nil || liquidationPrice.Sign() == 0 {
		return new(big.Rat)
	}
	factor := new(big.Rat).Set(one)
	if liquidationPenalty != nil && liquidationPenalty.Sign() > 0 {
		factor.Add(factor, liquidationPenalty)
	}
	seized := new(big.Rat).Quo(debt, liquidationPrice)
	seized.Mul(seized, factor)
	remaining := new(big.Rat).Sub(lockedCollateral, seized)
	return clampZero(remaining)
}

// DynamicStopLossPrice returns the effective oracle price at which a stop-loss
// configured at stopLossLevel fires, scaled from the liquidation price by the
// ratio of the two levels. Levels are expressed on the percent scale, so a
// 150% liquidation ratio corresponds to a level of 150. The result decreases
// as the level increases.
func DynamicStopLossPrice(liquidationPrice, liquidationRatio, stopLossLevel *big.Rat) *big.Rat {
	if liquidationPrice == nil || liquidationRatio == nil || stopLossLevel == nil || stopLossLevel.Sign() <= 0 {
		return new(big.Rat)
	}
	price := new(big.Rat).Mul(liquidationRatio, hundred)
	price.Mul(price, liquidationPrice)
	price.Quo(price, stopLossLevel)
	return clampZero(price)
}

// MaxRecoverableToken returns the collateral recoverable when a stop-loss
// fires at stopLossLevel. The protocol liquidation penalty is deliberately
// excluded: a stop-loss closes the position before forced liquidation, so the
// penalty is never charged.
func MaxRecoverableToken(stopLossLevel, lockedCollateral, liquidationRatio, liquidationPrice, debt *big.Rat) *big.Rat {
	dynPrice := DynamicStopLossPrice(liquidationPrice, liquidationRatio, stopLossLevel)
	if dynPrice.Sign() == 0 || lockedCollateral == nil || debt == nil {
		return new(big.Rat)
	}
	value := new(big.Rat).Mul(lockedCollateral, dynPrice)
	value.Sub(value, debt)
	if value.Sign() < 0 {
		return new(big.Rat)
	}
	return value.Quo(value, dynPrice)
}

// SliderPercentageFill linearly interpolates value between min and max onto
// [0, 100], clamping out-of-range inputs rather than rejecting them.
func SliderPercentageFill(value, min, max *big.Rat) *big.Rat {
	if value == nil || min == nil || max == nil {
		return new(big.Rat)
	}
	span := new(big.Rat).Sub(max, min)
	if span.Sign() <= 0 {
		return new(big.Rat)
	}
	fill := new(big.Rat).Sub(value, min)
	fill.Quo(fill, span)
	fill.Mul(fill, hundred)
	if fill.Sign() < 0 {
		return new(big.Rat)
	}
	if fill.Cmp(hundred) > 0 {
		return new(big.Rat).Set(hundred)
	}
	return fill
}

// StartingStopLossLevel seeds a stop-loss form. An already configured trigger
// keeps its level; otherwise the caller-selected initial level is used so the
// form never defaults to zero and downstream deltas stay meaningful.
func StartingStopLossLevel(stopLossLevel *big.Rat, triggerEnabled bool, initialSelected *big.Rat) *big.Rat {
	if triggerEnabled && stopLossLevel != nil && stopLossLevel.Sign() > 0 {
		return new(big.Rat).Set(stopLossLevel)
	}
	if initialSelected == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(initialSelected)
}

func clampZero(x *big.Rat) *big.Rat {
	if x == nil || x.Sign() < 0 {
		return new(big.Rat)
	}
	return x
}
