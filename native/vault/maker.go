package vault

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"vaultguard/native/risk"
)

// MakerState is the native snapshot of a Maker-style vault: a fixed
// liquidation ratio per market plus oracle prices for the current and next
// tick.
type MakerState struct {
	Ilk                string
	Owner              common.Address
	Collateral         *big.Rat
	Debt               *big.Rat
	DebtFloor          *big.Rat
	LiquidationRatio   *big.Rat
	LiquidationPenalty *big.Rat
	CurrentPrice       *big.Rat
	NextPrice          *big.Rat
}

// Protocol tags the snapshot for adapter routing.
func (MakerState) Protocol() Protocol { return ProtocolMaker }

// MakerAdapter translates Maker vault snapshots. The liquidation ratio is
// market configuration, so the liquidation price is derived from it and the
// vault's own figures.
type MakerAdapter struct{}

func (MakerAdapter) Protocol() Protocol { return ProtocolMaker }

func (MakerAdapter) ToPositionData(state NativeState) (*PositionData, error) {
	maker, ok := state.(*MakerState)
	if !ok || maker == nil {
		return nil, fmt.Errorf("vault: expected maker state, got %T", state)
	}
	if maker.Ilk == "" {
		return nil, fmt.Errorf("vault: maker state missing ilk")
	}
	position := &PositionData{
		LockedCollateral:   maker.Collateral,
		Debt:               maker.Debt,
		DebtFloor:          maker.DebtFloor,
		LiquidationRatio:   maker.LiquidationRatio,
		LiquidationPenalty: maker.LiquidationPenalty,
		LiquidationPrice:   risk.CollateralPriceAtRatio(maker.LiquidationRatio, maker.Collateral, maker.Debt),
		PositionRatio:      risk.CollateralizationRatio(maker.Collateral, maker.CurrentPrice, maker.Debt),
		NextPositionRatio:  risk.CollateralizationRatio(maker.Collateral, maker.NextPrice, maker.Debt),
		Token:              CollateralToken(maker.Ilk),
		Owner:              maker.Owner,
	}
	return SanitizePosition(position)
}
