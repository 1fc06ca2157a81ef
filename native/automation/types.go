package automation

import (
	"math/big"

	"vaultguard/native/vault"
)

// StopLossState describes the single stop-loss trigger a position may carry.
// Level is a collateralization ratio on the percent scale (a 2.0 ratio is a
// level of 200).
type StopLossState struct {
	Enabled bool
	Level   *big.Rat
	// IsToCollateral selects whether the closed position pays out in
	// collateral or in the debt token.
	IsToCollateral bool
}

// AutoSellState describes the auto-sell trigger rebalancing a position down
// toward its target ratio.
type AutoSellState struct {
	Enabled         bool
	ExecCollRatio   *big.Rat
	TargetCollRatio *big.Rat
	Deviation       *big.Rat
}

// AutoBuyState describes the auto-buy trigger rebalancing a position up
// toward its target ratio.
type AutoBuyState struct {
	Enabled         bool
	ExecCollRatio   *big.Rat
	TargetCollRatio *big.Rat
	Deviation       *big.Rat
}

// ConstantMultipleState describes the combined buy/sell trigger holding a
// position at a constant leverage multiple.
type ConstantMultipleState struct {
	Enabled                bool
	BuyExecutionCollRatio  *big.Rat
	SellExecutionCollRatio *big.Rat
	TargetCollRatio        *big.Rat
}

// TriggerSet groups every trigger configured for one position. At most one
// stop-loss is active; the sell-side triggers must keep disjoint ranges,
// which the bounds calculator enforces.
type TriggerSet struct {
	StopLoss         StopLossState
	AutoBuy          AutoBuyState
	AutoSell         AutoSellState
	ConstantMultiple ConstantMultipleState
}

// DefaultTriggers returns the trigger set assumed when no on-chain trigger
// exists yet. Aave positions default to collateral payouts because closing to
// the debt token requires a swap the protocol does not bundle.
func DefaultTriggers(protocol vault.Protocol) TriggerSet {
	set := TriggerSet{
		StopLoss: StopLossState{Level: new(big.Rat)},
		AutoBuy: AutoBuyState{
			ExecCollRatio:   new(big.Rat),
			TargetCollRatio: new(big.Rat),
			Deviation:       new(big.Rat),
		},
		AutoSell: AutoSellState{
			ExecCollRatio:   new(big.Rat),
			TargetCollRatio: new(big.Rat),
			Deviation:       new(big.Rat),
		},
		ConstantMultiple: ConstantMultipleState{
			BuyExecutionCollRatio:  new(big.Rat),
			SellExecutionCollRatio: new(big.Rat),
			TargetCollRatio:        new(big.Rat),
		},
	}
	if protocol == vault.ProtocolAave {
		set.StopLoss.IsToCollateral = true
	}
	return set
}

// Clone returns a deep copy of the trigger set.
func (s TriggerSet) Clone() TriggerSet {
	clone := s
	clone.StopLoss.Level = cloneRat(s.StopLoss.Level)
	clone.AutoBuy.ExecCollRatio = cloneRat(s.AutoBuy.ExecCollRatio)
	clone.AutoBuy.TargetCollRatio = cloneRat(s.AutoBuy.TargetCollRatio)
	clone.AutoBuy.Deviation = cloneRat(s.AutoBuy.Deviation)
	clone.AutoSell.ExecCollRatio = cloneRat(s.AutoSell.ExecCollRatio)
	clone.AutoSell.TargetCollRatio = cloneRat(s.AutoSell.TargetCollRatio)
	clone.AutoSell.Deviation = cloneRat(s.AutoSell.Deviation)
	clone.ConstantMultiple.BuyExecutionCollRatio = cloneRat(s.ConstantMultiple.BuyExecutionCollRatio)
	clone.ConstantMultiple.SellExecutionCollRatio = cloneRat(s.ConstantMultiple.SellExecutionCollRatio)
	clone.ConstantMultiple.TargetCollRatio = cloneRat(s.ConstantMultiple.TargetCollRatio)
	return clone
}

func cloneRat(x *big.Rat) *big.Rat {
	if x == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(x)
}
