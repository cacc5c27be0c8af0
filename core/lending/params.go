package lending

import (
	"fmt"
	"math/big"

	"vaultlend/crypto"
)

// RateScale is the fixed point unit shared by every rate, utilization and
// price in the protocol: 1e8 == 100%.
const RateScale int64 = 100_000_000

// InterestRateConfig parameterises the kinked borrow-rate curve. All
// fields are fixed point scaled by 1e8.
type InterestRateConfig struct {
	// BaseRate is the annual borrow rate applied below the kink.
	BaseRate int64 `json:"baseRate" toml:"base_rate"`
	// KinkUtilization is the utilization above which the rate climbs.
	KinkUtilization int64 `json:"kinkUtilization" toml:"kink_utilization"`
	// Multiplier scales the excess utilization added above the kink.
	Multiplier int64 `json:"multiplier" toml:"multiplier"`
	// ReserveFactor is the share of borrower interest routed to reserves.
	// Must stay strictly below 1e8.
	ReserveFactor int64 `json:"reserveFactor" toml:"reserve_factor"`
	// RateCeiling and RateFloor clamp the computed borrow rate.
	RateCeiling int64 `json:"rateCeiling" toml:"rate_ceiling"`
	RateFloor   int64 `json:"rateFloor" toml:"rate_floor"`
}

// Validate rejects configurations that would break the rate or fee math.
func (c InterestRateConfig) Validate() error {
	if c.BaseRate < 0 || c.KinkUtilization < 0 || c.Multiplier < 0 {
		return fmt.Errorf("%w: rate parameters must not be negative", ErrConfigurationError)
	}
	if c.RateFloor < 0 || c.RateCeiling < 0 {
		return fmt.Errorf("%w: rate bounds must not be negative", ErrConfigurationError)
	}
	if c.RateFloor > c.RateCeiling {
		return fmt.Errorf("%w: rate floor exceeds ceiling", ErrConfigurationError)
	}
	if c.ReserveFactor < 0 || c.ReserveFactor >= RateScale {
		return fmt.Errorf("%w: reserve factor must be in [0, 1e8)", ErrConfigurationError)
	}
	return nil
}

// PauseFlags switches individual operations off. Repay intentionally has
// no switch so borrowers can always reduce debt.
type PauseFlags struct {
	Deposit   bool `json:"deposit" toml:"deposit"`
	Borrow    bool `json:"borrow" toml:"borrow"`
	Withdraw  bool `json:"withdraw" toml:"withdraw"`
	Liquidate bool `json:"liquidate" toml:"liquidate"`
}

// RiskConfig groups the liquidation safety limits.
type RiskConfig struct {
	// CloseFactor caps the debt fraction repayable in one liquidation,
	// fixed point scaled by 1e8. Must be in (0, 1e8].
	CloseFactor int64 `json:"closeFactor" toml:"close_factor"`
	// LiquidationIncentive is the bonus collateral fraction awarded to a
	// liquidator, fixed point scaled by 1e8.
	LiquidationIncentive int64 `json:"liquidationIncentive" toml:"liquidation_incentive"`
	// Pauses holds the per-operation pause switches.
	Pauses PauseFlags `json:"pauses" toml:"pauses"`
}

// Validate rejects risk settings outside the protocol bounds.
func (c RiskConfig) Validate() error {
	if c.CloseFactor <= 0 || c.CloseFactor > RateScale {
		return fmt.Errorf("%w: close factor must be in (0, 1e8]", ErrConfigurationError)
	}
	if c.LiquidationIncentive < 0 {
		return fmt.Errorf("%w: liquidation incentive must not be negative", ErrConfigurationError)
	}
	return nil
}

// OracleConfig bounds how the engine consumes the price feed.
type OracleConfig struct {
	// MaxDeviationPct is the largest plain-percent move accepted between
	// consecutive prices before the feed is treated as faulty.
	MaxDeviationPct int64 `json:"maxDeviationPct" toml:"max_deviation_pct"`
	// HeartbeatSeconds is the staleness horizon for the last update.
	HeartbeatSeconds uint64 `json:"heartbeatSeconds" toml:"heartbeat_seconds"`
	// FallbackPrice substitutes for a failed or stale feed, fixed point
	// scaled by 1e8. Zero disables the fallback.
	FallbackPrice *big.Int `json:"fallbackPrice" toml:"fallback_price"`
}

// Validate rejects oracle settings that would disable the safety checks.
func (c OracleConfig) Validate() error {
	if c.MaxDeviationPct < 0 || c.MaxDeviationPct > 100 {
		return fmt.Errorf("%w: max deviation must be a percent in [0, 100]", ErrConfigurationError)
	}
	if c.FallbackPrice != nil && c.FallbackPrice.Sign() < 0 {
		return fmt.Errorf("%w: fallback price must not be negative", ErrConfigurationError)
	}
	return nil
}

// Params is the complete admin-controlled protocol configuration. It is
// initialised once at bootstrap and replaced atomically by the admin
// setter operations.
type Params struct {
	// Admin authorises every parameter mutation and fee distribution.
	Admin crypto.Address `json:"admin"`
	// Treasury receives distributed reserves.
	Treasury crypto.Address `json:"treasury"`
	// MinCollateralRatio is the solvency floor as a plain percent, e.g.
	// 150 means 150%.
	MinCollateralRatio int64 `json:"minCollateralRatio"`
	// InterestRate parameterises the kinked rate curve.
	InterestRate InterestRateConfig `json:"interestRate"`
	// Risk holds liquidation limits and pause switches.
	Risk RiskConfig `json:"risk"`
	// Oracle bounds price feed consumption.
	Oracle OracleConfig `json:"oracle"`
	// LargeTxThreshold triggers the compliance large-transaction flag.
	LargeTxThreshold *big.Int `json:"largeTxThreshold"`
	// DistributionFrequency is the minimum spacing between scheduled fee
	// distributions, in seconds.
	DistributionFrequency uint64 `json:"distributionFrequency"`
}

// DefaultParams returns the bootstrap configuration.
func DefaultParams() Params {
	return Params{
		MinCollateralRatio: 150,
		InterestRate: InterestRateConfig{
			BaseRate:        2_000_000,  // 2%
			KinkUtilization: 80_000_000, // 80%
			Multiplier:      10_000_000, // 10%
			ReserveFactor:   10_000_000, // 10%
			RateCeiling:     50_000_000, // 50%
			RateFloor:       100_000,    // 0.1%
		},
		Risk: RiskConfig{
			CloseFactor:          50_000_000, // 50%
			LiquidationIncentive: 10_000_000, // 10%
		},
		Oracle: OracleConfig{
			MaxDeviationPct:  50,
			HeartbeatSeconds: 3600,
			FallbackPrice:    big.NewInt(150_000_000), // 1.5
		},
		LargeTxThreshold:      big.NewInt(100_000_000),
		DistributionFrequency: 86_400,
	}
}

// Normalize fills nil big integers so downstream math never sees one.
func (p *Params) Normalize() {
	if p == nil {
		return
	}
	if p.Oracle.FallbackPrice == nil {
		p.Oracle.FallbackPrice = big.NewInt(0)
	}
	if p.LargeTxThreshold == nil {
		p.LargeTxThreshold = big.NewInt(0)
	}
}

// Validate checks every embedded configuration.
func (p Params) Validate() error {
	if p.MinCollateralRatio <= 0 {
		return fmt.Errorf("%w: minimum collateral ratio must be positive", ErrConfigurationError)
	}
	if err := p.InterestRate.Validate(); err != nil {
		return err
	}
	if err := p.Risk.Validate(); err != nil {
		return err
	}
	if err := p.Oracle.Validate(); err != nil {
		return err
	}
	if p.LargeTxThreshold != nil && p.LargeTxThreshold.Sign() < 0 {
		return fmt.Errorf("%w: large transaction threshold must not be negative", ErrConfigurationError)
	}
	return nil
}

// Clone returns a deep copy safe to mutate independently.
func (p Params) Clone() Params {
	clone := p
	clone.Oracle.FallbackPrice = cloneBigInt(p.Oracle.FallbackPrice)
	clone.LargeTxThreshold = cloneBigInt(p.LargeTxThreshold)
	return clone
}
