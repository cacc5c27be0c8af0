package lending

import (
	"fmt"
	"math/big"
)

// collectFeesFromInterest splits freshly accrued interest into the
// protocol fee components. The borrow fee is the reserve cut of borrower
// interest. Supplier interest was already credited net of the reserve
// cut, so its fee is recovered by inverting the supply-rate reduction:
// gross = net*1e8/(1e8-reserveFactor), fee = gross - net.
func collectFeesFromInterest(borrowInterest, supplyInterest *big.Int, reserveFactor int64) (borrowFee, supplyFee *big.Int, err error) {
	if reserveFactor < 0 || reserveFactor >= RateScale {
		return nil, nil, fmt.Errorf("%w: reserve factor must be in [0, 1e8)", ErrConfigurationError)
	}
	borrowFee = big.NewInt(0)
	supplyFee = big.NewInt(0)
	if borrowInterest != nil && borrowInterest.Sign() > 0 {
		borrowFee.Mul(borrowInterest, big.NewInt(reserveFactor))
		borrowFee.Quo(borrowFee, scaleOne)
	}
	if supplyInterest != nil && supplyInterest.Sign() > 0 && reserveFactor > 0 {
		gross := new(big.Int).Mul(supplyInterest, scaleOne)
		gross.Quo(gross, big.NewInt(RateScale-reserveFactor))
		supplyFee.Sub(gross, supplyInterest)
	}
	return borrowFee, supplyFee, nil
}

// credit books collected fees into the reserve accumulators.
func (r *ReserveData) credit(borrowFee, supplyFee *big.Int) {
	if r == nil {
		return
	}
	r.ensureDefaults()
	if borrowFee != nil && borrowFee.Sign() > 0 {
		r.BorrowFeeTotal.Add(r.BorrowFeeTotal, borrowFee)
		r.TotalFeesCollected.Add(r.TotalFeesCollected, borrowFee)
		r.CurrentReserves.Add(r.CurrentReserves, borrowFee)
	}
	if supplyFee != nil && supplyFee.Sign() > 0 {
		r.SupplyFeeTotal.Add(r.SupplyFeeTotal, supplyFee)
		r.TotalFeesCollected.Add(r.TotalFeesCollected, supplyFee)
		r.CurrentReserves.Add(r.CurrentReserves, supplyFee)
	}
}

// distribute moves amount out of current reserves into the distributed
// accumulator. The caller is responsible for the admin and frequency
// gates; this only enforces the balance invariant.
func (r *ReserveData) distribute(amount *big.Int, now uint64) error {
	if r == nil {
		return ErrStorageError
	}
	r.ensureDefaults()
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if amount.Cmp(r.CurrentReserves) > 0 {
		return fmt.Errorf("%w: distribution exceeds current reserves", ErrInsufficientCollateral)
	}
	r.CurrentReserves.Sub(r.CurrentReserves, amount)
	r.TotalFeesDistributed.Add(r.TotalFeesDistributed, amount)
	r.LastDistributionTime = now
	return nil
}
