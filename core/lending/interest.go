package lending

import "math/big"

// updateRates recomputes the cached utilization, borrow rate and supply
// rate from the pre-mutation aggregates and stamps the refresh time. It
// runs once per mutating call, before any per-position math.
func updateRates(state *InterestRateState, cfg InterestRateConfig, now uint64) {
	if state == nil {
		return
	}
	state.ensureDefaults()
	state.UtilizationRate = calculateUtilization(state.TotalBorrowed, state.TotalSupplied)
	state.CurrentBorrowRate = calculateBorrowRate(state.UtilizationRate, cfg)
	state.CurrentSupplyRate = calculateSupplyRate(state.CurrentBorrowRate, state.UtilizationRate, cfg.ReserveFactor)
	state.LastAccrualTime = now
}

// accrueInterest applies simple linear interest to the position for the
// time elapsed since its last accrual, using the already refreshed global
// rates. The first touch only stamps the clock. Returns the borrow and
// supply interest added so the caller can book the reserve share.
func accrueInterest(position *Position, state *InterestRateState, now uint64) (borrowDelta, supplyDelta *big.Int) {
	borrowDelta = big.NewInt(0)
	supplyDelta = big.NewInt(0)
	if position == nil || state == nil {
		return borrowDelta, supplyDelta
	}
	position.ensureDefaults()
	if position.LastAccrualTime == 0 {
		position.LastAccrualTime = now
		return borrowDelta, supplyDelta
	}
	if now <= position.LastAccrualTime {
		return borrowDelta, supplyDelta
	}
	delta := now - position.LastAccrualTime
	if position.Debt.Sign() > 0 {
		borrowDelta = calculateInterest(position.Debt, state.CurrentBorrowRate, delta)
		position.BorrowInterestAccrued.Add(position.BorrowInterestAccrued, borrowDelta)
	}
	if position.Collateral.Sign() > 0 {
		supplyDelta = calculateInterest(position.Collateral, state.CurrentSupplyRate, delta)
		position.SupplyInterestAccrued.Add(position.SupplyInterestAccrued, supplyDelta)
	}
	position.LastAccrualTime = now
	return borrowDelta, supplyDelta
}
