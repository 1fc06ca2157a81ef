package automation

import "math/big"

// Patch is a typed partial update to a TriggerSet. Only the fields a patch
// declares are touched, so concurrent edits from different forms merge at the
// field level instead of overwriting sibling trigger state wholesale.
type Patch interface {
	apply(*TriggerSet)
}

// StopLossPatch updates the stop-loss trigger. Nil fields are left untouched.
type StopLossPatch struct {
	Enabled        *bool
	Level          *big.Rat
	IsToCollateral *bool
}

func (p StopLossPatch) apply(set *TriggerSet) {
	if p.Enabled != nil {
		set.StopLoss.Enabled = *p.Enabled
	}
	if p.Level != nil {
		set.StopLoss.Level = new(big.Rat).Set(p.Level)
	}
	if p.IsToCollateral != nil {
		set.StopLoss.IsToCollateral = *p.IsToCollateral
	}
}

// AutoSellPatch updates the auto-sell trigger.
type AutoSellPatch struct {
	Enabled         *bool
	ExecCollRatio   *big.Rat
	TargetCollRatio *big.Rat
	Deviation       *big.Rat
}

func (p AutoSellPatch) apply(set *TriggerSet) {
	if p.Enabled != nil {
		set.AutoSell.Enabled = *p.Enabled
	}
	if p.ExecCollRatio != nil {
		set.AutoSell.ExecCollRatio = new(big.Rat).Set(p.ExecCollRatio)
	}
	if p.TargetCollRatio != nil {
		set.AutoSell.TargetCollRatio = new(big.Rat).Set(p.TargetCollRatio)
	}
	if p.Deviation != nil {
		set.AutoSell.Deviation = new(big.Rat).Set(p.Deviation)
	}
}

// AutoBuyPatch updates the auto-buy trigger.
type AutoBuyPatch struct {
	Enabled         *bool
	ExecCollRatio   *big.Rat
	TargetCollRatio *big.Rat
	Deviation       *big.Rat
}

func (p AutoBuyPatch) apply(set *TriggerSet) {
	if p.Enabled != nil {
		set.AutoBuy.Enabled = *p.Enabled
	}
	if p.ExecCollRatio != nil {
		set.AutoBuy.ExecCollRatio = new(big.Rat).Set(p.ExecCollRatio)
	}
	if p.TargetCollRatio != nil {
		set.AutoBuy.TargetCollRatio = new(big.Rat).Set(p.TargetCollRatio)
	}
	if p.Deviation != nil {
		set.AutoBuy.Deviation = new(big.Rat).Set(p.Deviation)
	}
}

// ConstantMultiplePatch updates the constant-multiple trigger.
type ConstantMultiplePatch struct {
	Enabled                *bool
	BuyExecutionCollRatio  *big.Rat
	SellExecutionCollRatio *big.Rat
	TargetCollRatio        *big.Rat
}

func (p ConstantMultiplePatch) apply(set *TriggerSet) {
	if p.Enabled != nil {
		set.ConstantMultiple.Enabled = *p.Enabled
	}
	if p.BuyExecutionCollRatio != nil {
		set.ConstantMultiple.BuyExecutionCollRatio = new(big.Rat).Set(p.BuyExecutionCollRatio)
	}
	if p.SellExecutionCollRatio != nil {
		set.ConstantMultiple.SellExecutionCollRatio = new(big.Rat).Set(p.SellExecutionCollRatio)
	}
	if p.TargetCollRatio != nil {
		set.ConstantMultiple.TargetCollRatio = new(big.Rat).Set(p.TargetCollRatio)
	}
}

// Apply merges patches into the set in order; later patches win on the fields
// they touch.
func (s *TriggerSet) Apply(patches ...Patch) {
	if s == nil {
		return
	}
	for _, patch := range patches {
		if patch != nil {
			patch.apply(s)
		}
	}
}

// Bool is a helper for building patches from literals.
func Bool(v bool) *bool { return &v }
