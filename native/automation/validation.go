package automation

import (
	"math/big"
	"sort"

	"vaultguard/native/vault"
)

// Kind names a validation outcome. Kinds are plain data: the engine never
// raises them as errors, presentation code switches on them by name.
type Kind string

const (
	// KindInsufficientGasFunds fires when the owner cannot cover the
	// transaction's gas cost.
	KindInsufficientGasFunds Kind = "insufficientGasFunds"
	// KindDebtExceedsStopLossMax fires when the position's debt is above the
	// size the automation network will reliably close.
	KindDebtExceedsStopLossMax Kind = "debtExceedsStopLossMax"
	// KindStopLossAboveAutoBuyTarget fires when the candidate level crosses
	// the auto-buy target, which would make the two triggers fight.
	KindStopLossAboveAutoBuyTarget Kind = "stopLossAboveAutoBuyTarget"
	// KindPositionWithoutDebt fires on zero-debt positions, which have no
	// liquidation price for a stop-loss to anchor on.
	KindPositionWithoutDebt Kind = "positionWithoutDebt"
	// KindVaultBelowDebtFloor fires on dust-limited vaults that can only be
	// closed, never protected.
	KindVaultBelowDebtFloor Kind = "vaultBelowDebtFloor"
	// KindPotentialGasShortfall warns when the gas balance covers the
	// estimate without headroom.
	KindPotentialGasShortfall Kind = "potentialGasShortfall"
	// KindStopLossCloseToAutoSell warns when the candidate level crowds the
	// auto-sell execution ratio.
	KindStopLossCloseToAutoSell Kind = "stopLossCloseToAutoSell"
	// KindStopLossCloseToConstantMultipleSell warns when the candidate level
	// crowds the constant-multiple sell execution ratio.
	KindStopLossCloseToConstantMultipleSell Kind = "stopLossCloseToConstantMultipleSell"
	// KindSellTriggersOverlap warns when the configured sell-side triggers
	// have overlapping execution ranges.
	KindSellTriggersOverlap Kind = "sellTriggersOverlap"
)

// Env carries the host-supplied environment the predicates need beyond the
// position snapshot itself.
type Env struct {
	// GasBalance is the owner's balance available for gas.
	GasBalance *big.Rat
	// GasEstimate is the projected cost of the pending transaction.
	GasEstimate *big.Rat
	// NextCollateralPrice is the oracle price at the next tick.
	NextCollateralPrice *big.Rat
}

// RuleContext is the full input to a validation predicate.
type RuleContext struct {
	Position *vault.PositionData
	Triggers TriggerSet
	Level    *big.Rat
	Bounds   Bounds
	Env      Env
	Config   Config
}

// Predicate is a pure check over a rule context.
type Predicate func(RuleContext) bool

// RuleSet groups the named predicates for one protocol together with the
// kinds that block submission. Warnings listed under CancelWarnings escalate
// to blocking.
type RuleSet struct {
	Errors         map[Kind]Predicate
	Warnings       map[Kind]Predicate
	CancelErrors   []Kind
	CancelWarnings []Kind
}

// Result holds the evaluated outcome per kind, in stable order.
type Result struct {
	Errors   []Kind
	Warnings []Kind
	Blocking bool
}

// Evaluate runs every predicate and collects the kinds that fired. The
// blocking flag is set when any cancelling error or escalated warning fired.
func (r RuleSet) Evaluate(ctx RuleContext) Result {
	var result Result
	for kind, predicate := range r.Errors {
		if predicate != nil && predicate(ctx) {
			result.Errors = append(result.Errors, kind)
		}
	}
	for kind, predicate := range r.Warnings {
		if predicate != nil && predicate(ctx) {
			result.Warnings = append(result.Warnings, kind)
		}
	}
	sortKinds(result.Errors)
	sortKinds(result.Warnings)
	result.Blocking = containsAny(result.Errors, r.CancelErrors) || containsAny(result.Warnings, r.CancelWarnings)
	return result
}

// Has reports whether the kind fired as either an error or a warning.
func (res Result) Has(kind Kind) bool {
	for _, k := range res.Errors {
		if k == kind {
			return true
		}
	}
	for _, k := range res.Warnings {
		if k == kind {
			return true
		}
	}
	return false
}

func sortKinds(kinds []Kind) {
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
}

func containsAny(fired []Kind, cancelling []Kind) bool {
	for _, kind := range fired {
		for _, cancel := range cancelling {
			if kind == cancel {
				return true
			}
		}
	}
	return false
}

// Shared predicates used by both protocol rule sets.

func insufficientGasFunds(ctx RuleContext) bool {
	if ctx.Env.GasBalance == nil || ctx.Env.GasEstimate == nil || ctx.Env.GasEstimate.Sign() == 0 {
		return false
	}
	return ctx.Env.GasBalance.Cmp(ctx.Env.GasEstimate) < 0
}

func potentialGasShortfall(ctx RuleContext) bool {
	if ctx.Env.GasBalance == nil || ctx.Env.GasEstimate == nil || ctx.Env.GasEstimate.Sign() == 0 {
		return false
	}
	buffered := new(big.Rat).Mul(ctx.Env.GasEstimate, big.NewRat(3, 2))
	return ctx.Env.GasBalance.Cmp(buffered) < 0 && !insufficientGasFunds(ctx)
}

func stopLossAboveAutoBuyTarget(ctx RuleContext) bool {
	if !ctx.Triggers.AutoBuy.Enabled || ctx.Level == nil {
		return false
	}
	return ctx.Level.Cmp(orZero(ctx.Triggers.AutoBuy.TargetCollRatio)) > 0
}

func stopLossCloseToAutoSell(ctx RuleContext) bool {
	if !ctx.Triggers.AutoSell.Enabled || ctx.Level == nil || ctx.Bounds.Max == nil {
		return false
	}
	return ctx.Level.Cmp(ctx.Bounds.Max) >= 0
}

func stopLossCloseToConstantMultipleSell(ctx RuleContext) bool {
	if !ctx.Triggers.ConstantMultiple.Enabled || ctx.Level == nil || ctx.Bounds.Max == nil {
		return false
	}
	return ctx.Level.Cmp(ctx.Bounds.Max) >= 0
}

func sellTriggersOverlap(ctx RuleContext) bool {
	return SellTriggersOverlap(ctx.Triggers)
}
