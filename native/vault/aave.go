package vault

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"vaultguard/native/risk"
)

// AaveState is the native snapshot of an Aave-style position. The collateral
// factor (liquidation threshold) is a per-reserve fraction that varies over
// time, unlike Maker's fixed per-market ratio.
type AaveState struct {
	Token                string
	Owner                common.Address
	Collateral           *big.Rat
	Debt                 *big.Rat
	LiquidationThreshold *big.Rat
	LiquidationBonus     *big.Rat
	CurrentPrice         *big.Rat
	NextPrice            *big.Rat
}

// Protocol tags the snapshot for adapter routing.
func (AaveState) Protocol() Protocol { return ProtocolAave }

// AaveAdapter translates Aave reserve snapshots. Zero-debt positions with
// live collateral are legitimate here; their ratios and liquidation price
// degrade to zero rather than erroring.
type AaveAdapter struct{}

func (AaveAdapter) Protocol() Protocol { return ProtocolAave }

func (AaveAdapter) ToPositionData(state NativeState) (*PositionData, error) {
	aave, ok := state.(*AaveState)
	if !ok || aave == nil {
		return nil, fmt.Errorf("vault: expected aave state, got %T", state)
	}
	threshold := aave.LiquidationThreshold
	if threshold == nil || threshold.Sign() <= 0 || threshold.Cmp(big.NewRat(1, 1)) >= 0 {
		return nil, fmt.Errorf("vault: aave liquidation threshold out of range")
	}
	liquidationRatio := new(big.Rat).Inv(threshold)
	position := &PositionData{
		LockedCollateral:   aave.Collateral,
		Debt:               aave.Debt,
		DebtFloor:          new(big.Rat),
		LiquidationRatio:   liquidationRatio,
		LiquidationPenalty: aave.LiquidationBonus,
		LiquidationPrice:   risk.CollateralPriceAtRatio(liquidationRatio, aave.Collateral, aave.Debt),
		PositionRatio:      risk.CollateralizationRatio(aave.Collateral, aave.CurrentPrice, aave.Debt),
		NextPositionRatio:  risk.CollateralizationRatio(aave.Collateral, aave.NextPrice, aave.Debt),
		Token:              aave.Token,
		Owner:              aave.Owner,
	}
	return SanitizePosition(position)
}
