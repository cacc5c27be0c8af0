package lending

import "math/big"

// secondsPerYear is the accrual denominator for the simple per-second
// interest model (365 days).
const secondsPerYear = 31_536_000

var (
	scaleOne = big.NewInt(RateScale)
	hundred  = big.NewInt(100)
)

// calculateUtilization returns borrowed*1e8/supplied, truncating toward
// zero. Zero supplied capital reports zero utilization.
func calculateUtilization(borrowed, supplied *big.Int) *big.Int {
	if borrowed == nil || supplied == nil || supplied.Sign() == 0 {
		return big.NewInt(0)
	}
	util := new(big.Int).Mul(borrowed, scaleOne)
	return util.Quo(util, supplied)
}

// calculateBorrowRate applies the kinked curve: the base rate everywhere,
// plus the excess utilization above the kink scaled by the multiplier,
// clamped to the configured floor and ceiling.
func calculateBorrowRate(utilization *big.Int, cfg InterestRateConfig) *big.Int {
	rate := big.NewInt(cfg.BaseRate)
	kink := big.NewInt(cfg.KinkUtilization)
	if utilization != nil && utilization.Cmp(kink) > 0 {
		excess := new(big.Int).Sub(utilization, kink)
		excess.Mul(excess, big.NewInt(cfg.Multiplier))
		excess.Quo(excess, scaleOne)
		rate.Add(rate, excess)
	}
	return clampRate(rate, cfg.RateFloor, cfg.RateCeiling)
}

// calculateSupplyRate derives the supplier rate from the borrow rate at
// the current utilization, minus the reserve cut.
func calculateSupplyRate(borrowRate, utilization *big.Int, reserveFactor int64) *big.Int {
	if borrowRate == nil || utilization == nil {
		return big.NewInt(0)
	}
	effective := new(big.Int).Mul(borrowRate, utilization)
	effective.Quo(effective, scaleOne)
	fee := new(big.Int).Mul(effective, big.NewInt(reserveFactor))
	fee.Quo(fee, scaleOne)
	return effective.Sub(effective, fee)
}

// calculateInterest computes simple linear interest over delta seconds:
// principal * rate * delta / (secondsPerYear * 1e8). Intermediates stay
// in big integers so large principals cannot overflow.
func calculateInterest(principal, rate *big.Int, delta uint64) *big.Int {
	if principal == nil || rate == nil || delta == 0 {
		return big.NewInt(0)
	}
	if principal.Sign() == 0 || rate.Sign() == 0 {
		return big.NewInt(0)
	}
	interest := new(big.Int).Mul(principal, rate)
	interest.Mul(interest, new(big.Int).SetUint64(delta))
	denom := new(big.Int).Mul(big.NewInt(secondsPerYear), scaleOne)
	return interest.Quo(interest, denom)
}

func clampRate(rate *big.Int, floor, ceiling int64) *big.Int {
	if rate.Cmp(big.NewInt(floor)) < 0 {
		return big.NewInt(floor)
	}
	if rate.Cmp(big.NewInt(ceiling)) > 0 {
		return big.NewInt(ceiling)
	}
	return rate
}

func minBigInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
