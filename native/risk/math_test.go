package risk

import (
	"math/big"
	"testing"
)

func rat(num, den int64) *big.Rat {
	return big.NewRat(num, den)
}

func TestCollateralPriceAtRatio(t *testing.T) {
	price := CollateralPriceAtRatio(rat(2, 1), rat(10, 1), rat(5000, 1))
	if price.Cmp(rat(1000, 1)) != 0 {
		t.Fatalf("unexpected price: %s", price.RatString())
	}
	if got := CollateralPriceAtRatio(rat(2, 1), new(big.Rat), rat(5000, 1)); got.Sign() != 0 {
		t.Fatalf("expected zero for zero collateral, got %s", got.RatString())
	}
	if got := CollateralPriceAtRatio(nil, rat(10, 1), rat(5000, 1)); got.Sign() != 0 {
		t.Fatalf("expected zero for nil ratio, got %s", got.RatString())
	}
}

func TestCollateralizationRatio(t *testing.T) {
	ratio := CollateralizationRatio(rat(10, 1), rat(1000, 1), rat(5000, 1))
	if ratio.Cmp(rat(2, 1)) != 0 {
		t.Fatalf("unexpected ratio: %s", ratio.RatString())
	}
	if got := CollateralizationRatio(rat(10, 1), rat(1000, 1), new(big.Rat)); got.Sign() != 0 {
		t.Fatalf("expected zero ratio for zero debt, got %s", got.RatString())
	}
}

func TestCollateralDuringLiquidation(t *testing.T) {
	// 10 ETH locked, 5000 DAI debt, liquidation at 750 with a 13% penalty
	// leaves 10 - (5000/750)*1.13 = 37/15 ETH.
	got := CollateralDuringLiquidation(rat(10, 1), rat(5000, 1), rat(750, 1), rat(13, 100))
	if got.Cmp(rat(37, 15)) != 0 {
		t.Fatalf("unexpected remaining collateral: %s", got.RatString())
	}
}

func TestCollateralDuringLiquidationFailsClosed(t *testing.T) {
	if got := CollateralDuringLiquidation(rat(10, 1), rat(5000, 1), new(big.Rat), rat(13, 100)); got.Sign() != 0 {
		t.Fatalf("expected zero for zero liquidation price, got %s", got.RatString())
	}
	// Underwater position floors at zero instead of going negative.
	if got := CollateralDuringLiquidation(rat(1, 1), rat(5000, 1), rat(750, 1), rat(13, 100)); got.Sign() != 0 {
		t.Fatalf("expected floor at zero, got %s", got.RatString())
	}
}

func TestCollateralDuringLiquidationMonotonic(t *testing.T) {
	base := CollateralDuringLiquidation(rat(10, 1), rat(5000, 1), rat(750, 1), rat(13, 100))
	moreCollateral := CollateralDuringLiquidation(rat(12, 1), rat(5000, 1), rat(750, 1), rat(13, 100))
	if moreCollateral.Cmp(base) < 0 {
		t.Fatalf("expected non-decreasing in locked collateral: %s < %s", moreCollateral.RatString(), base.RatString())
	}
	moreDebt := CollateralDuringLiquidation(rat(10, 1), rat(6000, 1), rat(750, 1), rat(13, 100))
	if moreDebt.Cmp(base) > 0 {
		t.Fatalf("expected non-increasing in debt: %s > %s", moreDebt.RatString(), base.RatString())
	}
}

func TestDynamicStopLossPrice(t *testing.T) {
	// Level 200 with liquidation at 750 and a 1.5 liquidation ratio triggers
	// at 750*150/200 = 562.5.
	got := DynamicStopLossPrice(rat(750, 1), rat(3, 2), rat(200, 1))
	if got.Cmp(rat(1125, 2)) != 0 {
		t.Fatalf("unexpected dynamic stop price: %s", got.RatString())
	}
	if got := DynamicStopLossPrice(rat(750, 1), rat(3, 2), new(big.Rat)); got.Sign() != 0 {
		t.Fatalf("expected zero for zero level, got %s", got.RatString())
	}
}

func TestDynamicStopLossPriceMonotonic(t *testing.T) {
	lower := DynamicStopLossPrice(rat(750, 1), rat(3, 2), rat(160, 1))
	higher := DynamicStopLossPrice(rat(750, 1), rat(3, 2), rat(200, 1))
	// A higher trigger level fires at a lower price threshold.
	if higher.Cmp(lower) >= 0 {
		t.Fatalf("expected price to decrease with level: %s >= %s", higher.RatString(), lower.RatString())
	}
}

func TestMaxRecoverableTokenMatchesLiquidationAtFloor(t *testing.T) {
	locked := rat(10, 1)
	debt := rat(5000, 1)
	liqPrice := rat(750, 1)
	liqRatio := rat(3, 2)

	// At the liquidation-ratio floor and with no penalty the recoverable
	// amount equals what a forced liquidation would leave behind.
	atFloor := MaxRecoverableToken(rat(150, 1), locked, liqRatio, liqPrice, debt)
	during := CollateralDuringLiquidation(locked, debt, liqPrice, new(big.Rat))
	if atFloor.Cmp(during) != 0 {
		t.Fatalf("expected equality at floor: %s != %s", atFloor.RatString(), during.RatString())
	}

	// A positive penalty only applies to forced liquidation, so the
	// stop-loss path recovers strictly more.
	withPenalty := CollateralDuringLiquidation(locked, debt, liqPrice, rat(13, 100))
	if atFloor.Cmp(withPenalty) <= 0 {
		t.Fatalf("expected stop-loss to beat forced liquidation: %s <= %s", atFloor.RatString(), withPenalty.RatString())
	}
}

func TestMaxRecoverableTokenFailsClosed(t *testing.T) {
	if got := MaxRecoverableToken(new(big.Rat), rat(10, 1), rat(3, 2), rat(750, 1), rat(5000, 1)); got.Sign() != 0 {
		t.Fatalf("expected zero for zero level, got %s", got.RatString())
	}
	// Debt above the recoverable value floors at zero.
	if got := MaxRecoverableToken(rat(1000, 1), rat(1, 1), rat(3, 2), rat(100, 1), rat(5000, 1)); got.Sign() != 0 {
		t.Fatalf("expected zero for underwater position, got %s", got.RatString())
	}
}

func TestSliderPercentageFill(t *testing.T) {
	cases := []struct {
		name  string
		value *big.Rat
		want  *big.Rat
	}{
		{"midpoint", rat(175, 1), rat(50, 1)},
		{"at min", rat(150, 1), new(big.Rat)},
		{"at max", rat(200, 1), rat(100, 1)},
		{"below range clamps", rat(100, 1), new(big.Rat)},
		{"above range clamps", rat(300, 1), rat(100, 1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SliderPercentageFill(tc.value, rat(150, 1), rat(200, 1))
			if got.Cmp(tc.want) != 0 {
				t.Fatalf("fill(%s) = %s, want %s", tc.value.RatString(), got.RatString(), tc.want.RatString())
			}
		})
	}
	if got := SliderPercentageFill(rat(175, 1), rat(200, 1), rat(150, 1)); got.Sign() != 0 {
		t.Fatalf("expected zero for inverted range, got %s", got.RatString())
	}
}

func TestStartingStopLossLevel(t *testing.T) {
	existing := StartingStopLossLevel(rat(180, 1), true, rat(160, 1))
	if existing.Cmp(rat(180, 1)) != 0 {
		t.Fatalf("expected existing level, got %s", existing.RatString())
	}
	fresh := StartingStopLossLevel(new(big.Rat), false, rat(160, 1))
	if fresh.Cmp(rat(160, 1)) != 0 {
		t.Fatalf("expected initial selection, got %s", fresh.RatString())
	}
	if got := StartingStopLossLevel(nil, false, nil); got.Sign() != 0 {
		t.Fatalf("expected zero for nil inputs, got %s", got.RatString())
	}
}
