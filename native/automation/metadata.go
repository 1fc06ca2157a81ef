package automation

import (
	"fmt"
	"math/big"

	"vaultguard/native/risk"
	"vaultguard/native/vault"
)

// Methods are pure closures over one position snapshot, re-evaluable at an
// arbitrary candidate level for live slider feedback without rebuilding the
// whole descriptor.
type Methods struct {
	// ExecutionPrice is the collateral price at which a trigger set to the
	// candidate level fires.
	ExecutionPrice func(level *big.Rat) *big.Rat
	// MaxToken is the collateral recoverable when the trigger fires at the
	// candidate level.
	MaxToken func(level *big.Rat) *big.Rat
	// SliderPercentageFill maps the candidate level onto the slider range.
	SliderPercentageFill func(level *big.Rat) *big.Rat
	// RightBoundary is the projected liquidation price shown at the right
	// edge of the slider for the candidate level.
	RightBoundary func(level *big.Rat) *big.Rat
}

// ResetData restores the form to its defaults when the user discards edits.
type ResetData struct {
	Level          *big.Rat
	IsToCollateral bool
}

// Values are the bounds and current-level figures precomputed once per
// snapshot.
type Values struct {
	SliderMin                   *big.Rat
	SliderMax                   *big.Rat
	InitialLevel                *big.Rat
	Reset                       ResetData
	CollateralDuringLiquidation *big.Rat
	TriggerMaxToken             *big.Rat
	DynamicStopLossPrice        *big.Rat
}

// Settings are presentation hints that vary per trigger type but not per
// protocol.
type Settings struct {
	SliderStep int64
}

// StopLossMetadata is the complete stop-loss descriptor handed to
// presentation code. Its shape is identical across protocols; only the
// values and the rule set differ, so callers stay protocol-agnostic. The
// descriptor is rebuilt wholesale whenever any input changes and is never
// mutated in place.
type StopLossMetadata struct {
	Protocol vault.Protocol
	Methods  Methods
	Rules    RuleSet
	Values   Values
	Settings Settings
}

// Validate evaluates the protocol rule set at a candidate level.
func (m *StopLossMetadata) Validate(position *vault.PositionData, triggers TriggerSet, level *big.Rat, env Env, cfg Config) Result {
	return m.Rules.Evaluate(RuleContext{
		Position: position,
		Triggers: triggers,
		Level:    level,
		Bounds:   Bounds{Min: m.Values.SliderMin, Max: m.Values.SliderMax},
		Env:      env,
		Config:   cfg,
	})
}

// StopLossMetadataFor composes bounds, risk math and the protocol rule set
// into one descriptor for the supplied snapshot.
func StopLossMetadataFor(protocol vault.Protocol, position *vault.PositionData, triggers TriggerSet, env Env, cfg Config) (*StopLossMetadata, error) {
	if position == nil {
		return nil, fmt.Errorf("automation: nil position")
	}
	rules, err := RulesFor(protocol)
	if err != nil {
		return nil, err
	}
	cfg.EnsureDefaults()

	bounds := StopLossBounds(position, triggers, cfg)
	initialLevel := InitialStopLossLevel(bounds, triggers.StopLoss, cfg)
	currentLevel := risk.StartingStopLossLevel(triggers.StopLoss.Level, triggers.StopLoss.Enabled, initialLevel)

	locked := orZero(position.LockedCollateral)
	debt := orZero(position.Debt)
	liqRatio := orZero(position.LiquidationRatio)
	liqPrice := orZero(position.LiquidationPrice)
	nextRatio := orZero(position.NextPositionRatio)
	nextPrice := orZero(env.NextCollateralPrice)

	metadata := &StopLossMetadata{
		Protocol: protocol,
		Rules:    rules,
		Methods: Methods{
			ExecutionPrice: func(level *big.Rat) *big.Rat {
				return risk.CollateralPriceAtRatio(percentToRatio(level), locked, debt)
			},
			MaxToken: func(level *big.Rat) *big.Rat {
				return risk.MaxRecoverableToken(level, locked, liqRatio, liqPrice, debt)
			},
			SliderPercentageFill: func(level *big.Rat) *big.Rat {
				return risk.SliderPercentageFill(level, bounds.Min, bounds.Max)
			},
			RightBoundary: func(level *big.Rat) *big.Rat {
				if nextRatio.Sign() == 0 {
					return new(big.Rat)
				}
				boundary := new(big.Rat).Mul(percentToRatio(level), nextPrice)
				boundary.Quo(boundary, nextRatio)
				return boundary
			},
		},
		Values: Values{
			SliderMin:    bounds.Min,
			SliderMax:    bounds.Max,
			InitialLevel: initialLevel,
			Reset: ResetData{
				Level:          initialLevel,
				IsToCollateral: triggers.StopLoss.IsToCollateral,
			},
			CollateralDuringLiquidation: risk.CollateralDuringLiquidation(locked, debt, liqPrice, position.LiquidationPenalty),
			TriggerMaxToken:             risk.MaxRecoverableToken(currentLevel, locked, liqRatio, liqPrice, debt),
			DynamicStopLossPrice:        risk.DynamicStopLossPrice(liqPrice, liqRatio, currentLevel),
		},
		Settings: Settings{SliderStep: 1},
	}
	return metadata, nil
}

// AutoSellMetadata is the structurally identical sibling descriptor for the
// auto-sell trigger. It reuses the same methods and values shapes; only the
// bounds derivation differs, since an auto-sell must execute above the
// stop-loss and below the auto-buy.
type AutoSellMetadata struct {
	Protocol vault.Protocol
	Methods  Methods
	Rules    RuleSet
	Values   Values
	Settings Settings
}

// AutoSellMetadataFor composes the auto-sell descriptor. The minimum keeps
// the execution ratio clear of the stop-loss (or the liquidation floor when
// no stop-loss exists); the maximum stays under the auto-buy execution.
func AutoSellMetadataFor(protocol vault.Protocol, position *vault.PositionData, triggers TriggerSet, env Env, cfg Config) (*AutoSellMetadata, error) {
	if position == nil {
		return nil, fmt.Errorf("automation: nil position")
	}
	rules, err := RulesFor(protocol)
	if err != nil {
		return nil, err
	}
	cfg.EnsureDefaults()

	min := new(big.Rat).Mul(orZero(position.LiquidationRatio), big.NewRat(100, 1))
	min.Add(min, cfg.MinOffset())
	if triggers.StopLoss.Enabled && triggers.StopLoss.Level != nil {
		withStopLoss := new(big.Rat).Add(triggers.StopLoss.Level, cfg.MinOffset())
		if withStopLoss.Cmp(min) > 0 {
			min = withStopLoss
		}
	}
	var max *big.Rat
	if triggers.AutoBuy.Enabled {
		max = new(big.Rat).Sub(orZero(triggers.AutoBuy.ExecCollRatio), cfg.MinOffset())
	} else {
		max = new(big.Rat).Mul(orZero(position.NextPositionRatio), big.NewRat(100, 1))
		max.Sub(max, cfg.NextRatioOffset())
	}
	bounds := Bounds{Min: min, Max: floorWholePercent(max)}

	locked := orZero(position.LockedCollateral)
	debt := orZero(position.Debt)

	metadata := &AutoSellMetadata{
		Protocol: protocol,
		Rules:    rules,
		Methods: Methods{
			ExecutionPrice: func(level *big.Rat) *big.Rat {
				return risk.CollateralPriceAtRatio(percentToRatio(level), locked, debt)
			},
			MaxToken: func(level *big.Rat) *big.Rat {
				return risk.MaxRecoverableToken(level, locked, orZero(position.LiquidationRatio), orZero(position.LiquidationPrice), debt)
			},
			SliderPercentageFill: func(level *big.Rat) *big.Rat {
				return risk.SliderPercentageFill(level, bounds.Min, bounds.Max)
			},
			RightBoundary: func(level *big.Rat) *big.Rat {
				return risk.CollateralPriceAtRatio(percentToRatio(level), locked, debt)
			},
		},
		Values: Values{
			SliderMin:    bounds.Min,
			SliderMax:    bounds.Max,
			InitialLevel: floorWholePercent(new(big.Rat).Add(bounds.Min, cfg.DefaultLevelOffset())),
		},
		Settings: Settings{SliderStep: 1},
	}
	return metadata, nil
}

func percentToRatio(level *big.Rat) *big.Rat {
	if level == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Quo(level, big.NewRat(100, 1))
}
