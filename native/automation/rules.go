package automation

import (
	"fmt"

	"vaultguard/native/vault"
)

// MakerRules returns the validation rule set for Maker-style vaults. Dust
// vaults are closed-only, so protecting them is a blocking error; debt above
// the automation cap blocks as well because the close transaction would not
// fit the keeper network's execution window.
func MakerRules() RuleSet {
	return RuleSet{
		Errors: map[Kind]Predicate{
			KindInsufficientGasFunds: insufficientGasFunds,
			KindDebtExceedsStopLossMax: func(ctx RuleContext) bool {
				if ctx.Position == nil || ctx.Position.Debt == nil {
					return false
				}
				return ctx.Position.Debt.Cmp(ctx.Config.MaxStopLossDebt()) > 0
			},
			KindStopLossAboveAutoBuyTarget: stopLossAboveAutoBuyTarget,
			KindVaultBelowDebtFloor: func(ctx RuleContext) bool {
				return ctx.Position.BelowDebtFloor()
			},
		},
		Warnings: map[Kind]Predicate{
			KindPotentialGasShortfall:               potentialGasShortfall,
			KindStopLossCloseToAutoSell:             stopLossCloseToAutoSell,
			KindStopLossCloseToConstantMultipleSell: stopLossCloseToConstantMultipleSell,
			KindSellTriggersOverlap:                 sellTriggersOverlap,
		},
		CancelErrors:   []Kind{KindInsufficientGasFunds, KindVaultBelowDebtFloor},
		CancelWarnings: []Kind{KindPotentialGasShortfall},
	}
}

// AaveRules returns the validation rule set for Aave-style positions. Aave
// has no dust limit, but zero-debt positions have nothing for a stop-loss to
// anchor on and therefore block.
func AaveRules() RuleSet {
	return RuleSet{
		Errors: map[Kind]Predicate{
			KindInsufficientGasFunds: insufficientGasFunds,
			KindPositionWithoutDebt: func(ctx RuleContext) bool {
				return ctx.Position == nil || ctx.Position.Debt == nil || ctx.Position.Debt.Sign() == 0
			},
			KindStopLossAboveAutoBuyTarget: stopLossAboveAutoBuyTarget,
		},
		Warnings: map[Kind]Predicate{
			KindPotentialGasShortfall:   potentialGasShortfall,
			KindStopLossCloseToAutoSell: stopLossCloseToAutoSell,
			KindSellTriggersOverlap:     sellTriggersOverlap,
		},
		CancelErrors:   []Kind{KindInsufficientGasFunds, KindPositionWithoutDebt},
		CancelWarnings: []Kind{KindPotentialGasShortfall},
	}
}

// RulesFor resolves the protocol's rule set.
func RulesFor(protocol vault.Protocol) (RuleSet, error) {
	switch protocol {
	case vault.ProtocolMaker:
		return MakerRules(), nil
	case vault.ProtocolAave:
		return AaveRules(), nil
	default:
		return RuleSet{}, fmt.Errorf("automation: no rules for protocol %q", protocol)
	}
}
