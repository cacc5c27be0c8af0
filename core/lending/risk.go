package lending

import "math/big"

// staticRatio is the un-priced collateral ratio as a plain percent:
// collateral*100/debt. A position with no debt reports unbounded. This
// ratio intentionally ignores the oracle and is only consulted for
// withdrawals, so a price glitch cannot block a pure collateral exit.
func staticRatio(position *Position) (ratio *big.Int, unbounded bool) {
	if position == nil || position.Debt == nil || position.Debt.Sign() == 0 {
		return nil, true
	}
	r := new(big.Int).Mul(position.Collateral, hundred)
	return r.Quo(r, position.Debt), false
}

// dynamicRatio values the collateral at the oracle price before dividing
// by debt: (collateral*price*100/1e8)/debt, as a plain percent. Borrow
// and liquidation decisions use this ratio.
func dynamicRatio(position *Position, price *big.Int) (ratio *big.Int, unbounded bool) {
	if position == nil || position.Debt == nil || position.Debt.Sign() == 0 {
		return nil, true
	}
	value := new(big.Int).Mul(position.Collateral, price)
	value.Mul(value, hundred)
	value.Quo(value, scaleOne)
	return value.Quo(value, position.Debt), false
}

// ratioAtLeast reports whether a computed ratio satisfies the minimum.
// An unbounded ratio always passes.
func ratioAtLeast(ratio *big.Int, unbounded bool, minRatio int64) bool {
	if unbounded {
		return true
	}
	return ratio.Cmp(big.NewInt(minRatio)) >= 0
}

// liquidationAmounts sizes a liquidation. The repay amount is capped by
// the outstanding debt and the close factor; the seized collateral adds
// the liquidation incentive but never exceeds what the position holds.
func liquidationAmounts(position *Position, requested *big.Int, cfg RiskConfig) (repay, seize *big.Int, err error) {
	maxRepay := new(big.Int).Mul(position.Debt, big.NewInt(cfg.CloseFactor))
	maxRepay.Quo(maxRepay, scaleOne)
	repay = new(big.Int).Set(minBigInt(minBigInt(requested, position.Debt), maxRepay))
	if repay.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	incentive := new(big.Int).Mul(repay, big.NewInt(cfg.LiquidationIncentive))
	incentive.Quo(incentive, scaleOne)
	seize = new(big.Int).Add(repay, incentive)
	if seize.Cmp(position.Collateral) > 0 {
		seize = new(big.Int).Set(position.Collateral)
	}
	return repay, seize, nil
}
