package vault

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Protocol identifies the lending protocol a position lives on.
type Protocol string

const (
	ProtocolMaker Protocol = "maker"
	ProtocolAave  Protocol = "aave"
)

// Valid reports whether the protocol tag is one of the supported variants.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolMaker, ProtocolAave:
		return true
	default:
		return false
	}
}

// PositionData is the protocol-agnostic snapshot of a collateralized debt
// position consumed by the risk and automation engines. It is immutable:
// upstream observers build a fresh snapshot whenever price or position state
// changes, and downstream code only ever reads it.
type PositionData struct {
	// LockedCollateral is the collateral amount currently pledged.
	LockedCollateral *big.Rat
	// Debt is the outstanding debt denominated in the protocol's debt token.
	Debt *big.Rat
	// DebtFloor is the dust limit below which the position must be fully
	// closed rather than partially repaid.
	DebtFloor *big.Rat
	// LiquidationRatio is the collateralization ratio at which forced
	// liquidation becomes possible. Always strictly above one.
	LiquidationRatio *big.Rat
	// LiquidationPrice is the collateral price at which the position reaches
	// the liquidation ratio.
	LiquidationPrice *big.Rat
	// LiquidationPenalty is the fractional fee charged on forced liquidation.
	LiquidationPenalty *big.Rat
	// PositionRatio is the collateralization ratio at the current oracle
	// price.
	PositionRatio *big.Rat
	// NextPositionRatio is the collateralization ratio at the next oracle
	// price tick.
	NextPositionRatio *big.Rat
	// Token is the collateral token symbol.
	Token string
	// Owner is the account (or proxy) controlling the position.
	Owner common.Address
}

// Clone returns a deep copy so callers can hold the snapshot across ticks
// without aliasing the producer's rationals.
func (p *PositionData) Clone() *PositionData {
	if p == nil {
		return nil
	}
	clone := *p
	clone.LockedCollateral = cloneRat(p.LockedCollateral)
	clone.Debt = cloneRat(p.Debt)
	clone.DebtFloor = cloneRat(p.DebtFloor)
	clone.LiquidationRatio = cloneRat(p.LiquidationRatio)
	clone.LiquidationPrice = cloneRat(p.LiquidationPrice)
	clone.LiquidationPenalty = cloneRat(p.LiquidationPenalty)
	clone.PositionRatio = cloneRat(p.PositionRatio)
	clone.NextPositionRatio = cloneRat(p.NextPositionRatio)
	return &clone
}

// BelowDebtFloor reports whether the position carries debt under the dust
// limit. Such positions are closed-only on Maker-style protocols.
func (p *PositionData) BelowDebtFloor() bool {
	if p == nil || p.Debt == nil || p.DebtFloor == nil {
		return false
	}
	return p.Debt.Sign() > 0 && p.Debt.Cmp(p.DebtFloor) < 0
}

// SanitizePosition validates and normalises a snapshot, returning a clone with
// non-nil rationals. The invariants guard the automation engine's inputs:
// liquidation ratio strictly above one, penalty inside [0,1), and non-negative
// collateral and debt.
func SanitizePosition(p *PositionData) (*PositionData, error) {
	if p == nil {
		return nil, fmt.Errorf("nil position")
	}
	clone := p.Clone()
	fillRat(&clone.LockedCollateral)
	fillRat(&clone.Debt)
	fillRat(&clone.DebtFloor)
	fillRat(&clone.LiquidationRatio)
	fillRat(&clone.LiquidationPrice)
	fillRat(&clone.LiquidationPenalty)
	fillRat(&clone.PositionRatio)
	fillRat(&clone.NextPositionRatio)

	if clone.LiquidationRatio.Cmp(big.NewRat(1, 1)) <= 0 {
		return nil, fmt.Errorf("liquidation ratio must exceed one: %s", clone.LiquidationRatio.RatString())
	}
	if clone.LiquidationPenalty.Sign() < 0 || clone.LiquidationPenalty.Cmp(big.NewRat(1, 1)) >= 0 {
		return nil, fmt.Errorf("liquidation penalty out of range: %s", clone.LiquidationPenalty.RatString())
	}
	if clone.Debt.Sign() < 0 {
		return nil, fmt.Errorf("debt must be non-negative")
	}
	if clone.LockedCollateral.Sign() < 0 {
		return nil, fmt.Errorf("locked collateral must be non-negative")
	}
	clone.Token = strings.ToUpper(strings.TrimSpace(clone.Token))
	if clone.Token == "" {
		return nil, fmt.Errorf("collateral token required")
	}
	return clone, nil
}

// CollateralToken extracts the collateral token symbol from a market
// identifier such as "ETH-A".
func CollateralToken(marketID string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(marketID))
	if idx := strings.Index(trimmed, "-"); idx > 0 {
		return trimmed[:idx]
	}
	return trimmed
}

func cloneRat(x *big.Rat) *big.Rat {
	if x == nil {
		return nil
	}
	return new(big.Rat).Set(x)
}

func fillRat(x **big.Rat) {
	if *x == nil {
		*x = new(big.Rat)
	}
}
