package state

import (
	"fmt"
	"math"
	"math/big"

	"github.com/holiman/uint256"

	"vaultlend/core/lending"
	"vaultlend/crypto"
)

// The stored record shapes use uint256 for every amount so a negative or
// overlong balance can never round-trip through the store, and plain
// uint64 for rate parameters for the same reason.

type storedPosition struct {
	Address               []byte
	Collateral            *uint256.Int
	Debt                  *uint256.Int
	BorrowInterestAccrued *uint256.Int
	SupplyInterestAccrued *uint256.Int
	LastAccrualTime       uint64
}

type storedRateState struct {
	CurrentBorrowRate *uint256.Int
	CurrentSupplyRate *uint256.Int
	UtilizationRate   *uint256.Int
	TotalBorrowed     *uint256.Int
	TotalSupplied     *uint256.Int
	LastAccrualTime   uint64
}

type storedReserves struct {
	TotalFeesCollected   *uint256.Int
	TotalFeesDistributed *uint256.Int
	CurrentReserves      *uint256.Int
	BorrowFeeTotal       *uint256.Int
	SupplyFeeTotal       *uint256.Int
	LastDistributionTime uint64
}

type storedActivity struct {
	Address               []byte
	TotalDeposited        *uint256.Int
	TotalWithdrawn        *uint256.Int
	TotalBorrowed         *uint256.Int
	TotalRepaid           *uint256.Int
	LiquidationsPerformed uint64
	LiquidationsReceived  uint64
	ActivityCount         uint64
	LastActivityTime      uint64
}

type storedParams struct {
	Admin                 []byte
	Treasury              []byte
	MinCollateralRatio    uint64
	BaseRate              uint64
	KinkUtilization       uint64
	Multiplier            uint64
	ReserveFactor         uint64
	RateCeiling           uint64
	RateFloor             uint64
	CloseFactor           uint64
	LiquidationIncentive  uint64
	PauseDeposit          bool
	PauseBorrow           bool
	PauseWithdraw         bool
	PauseLiquidate        bool
	MaxDeviationPct       uint64
	HeartbeatSeconds      uint64
	FallbackPrice         *uint256.Int
	LargeTxThreshold      *uint256.Int
	DistributionFrequency uint64
}

func toAmount(v *big.Int, label string) (*uint256.Int, error) {
	if v == nil {
		return uint256.NewInt(0), nil
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("state: %s must not be negative", label)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("state: %s overflow", label)
	}
	return out, nil
}

func fromAmount(v *uint256.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v.ToBig()
}

func toRate(v int64, label string) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("state: %s must not be negative", label)
	}
	return uint64(v), nil
}

func fromRate(v uint64, label string) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("state: %s out of range", label)
	}
	return int64(v), nil
}

func addressBytes(addr crypto.Address) []byte {
	if addr.IsZero() {
		return nil
	}
	return addr.Bytes()
}

func addressFromBytes(raw []byte) (crypto.Address, error) {
	if len(raw) == 0 {
		return crypto.Address{}, nil
	}
	if len(raw) != crypto.AddressLength {
		return crypto.Address{}, fmt.Errorf("state: malformed address length %d", len(raw))
	}
	return crypto.NewAddress(raw), nil
}

func encodePosition(p *lending.Position) (*storedPosition, error) {
	collateral, err := toAmount(p.Collateral, "collateral")
	if err != nil {
		return nil, err
	}
	debt, err := toAmount(p.Debt, "debt")
	if err != nil {
		return nil, err
	}
	borrowAccrued, err := toAmount(p.BorrowInterestAccrued, "borrow interest")
	if err != nil {
		return nil, err
	}
	supplyAccrued, err := toAmount(p.SupplyInterestAccrued, "supply interest")
	if err != nil {
		return nil, err
	}
	return &storedPosition{
		Address:               p.Address.Bytes(),
		Collateral:            collateral,
		Debt:                  debt,
		BorrowInterestAccrued: borrowAccrued,
		SupplyInterestAccrued: supplyAccrued,
		LastAccrualTime:       p.LastAccrualTime,
	}, nil
}

func decodePosition(s *storedPosition) (*lending.Position, error) {
	addr, err := addressFromBytes(s.Address)
	if err != nil {
		return nil, err
	}
	if addr.IsZero() {
		return nil, fmt.Errorf("state: position record missing address")
	}
	return &lending.Position{
		Address:               addr,
		Collateral:            fromAmount(s.Collateral),
		Debt:                  fromAmount(s.Debt),
		BorrowInterestAccrued: fromAmount(s.BorrowInterestAccrued),
		SupplyInterestAccrued: fromAmount(s.SupplyInterestAccrued),
		LastAccrualTime:       s.LastAccrualTime,
	}, nil
}

func encodeRateState(rs *lending.InterestRateState) (*storedRateState, error) {
	borrowRate, err := toAmount(rs.CurrentBorrowRate, "borrow rate")
	if err != nil {
		return nil, err
	}
	supplyRate, err := toAmount(rs.CurrentSupplyRate, "supply rate")
	if err != nil {
		return nil, err
	}
	utilization, err := toAmount(rs.UtilizationRate, "utilization")
	if err != nil {
		return nil, err
	}
	borrowed, err := toAmount(rs.TotalBorrowed, "total borrowed")
	if err != nil {
		return nil, err
	}
	supplied, err := toAmount(rs.TotalSupplied, "total supplied")
	if err != nil {
		return nil, err
	}
	return &storedRateState{
		CurrentBorrowRate: borrowRate,
		CurrentSupplyRate: supplyRate,
		UtilizationRate:   utilization,
		TotalBorrowed:     borrowed,
		TotalSupplied:     supplied,
		LastAccrualTime:   rs.LastAccrualTime,
	}, nil
}

func decodeRateState(s *storedRateState) *lending.InterestRateState {
	return &lending.InterestRateState{
		CurrentBorrowRate: fromAmount(s.CurrentBorrowRate),
		CurrentSupplyRate: fromAmount(s.CurrentSupplyRate),
		UtilizationRate:   fromAmount(s.UtilizationRate),
		TotalBorrowed:     fromAmount(s.TotalBorrowed),
		TotalSupplied:     fromAmount(s.TotalSupplied),
		LastAccrualTime:   s.LastAccrualTime,
	}
}

func encodeReserves(r *lending.ReserveData) (*storedReserves, error) {
	collected, err := toAmount(r.TotalFeesCollected, "fees collected")
	if err != nil {
		return nil, err
	}
	distributed, err := toAmount(r.TotalFeesDistributed, "fees distributed")
	if err != nil {
		return nil, err
	}
	current, err := toAmount(r.CurrentReserves, "current reserves")
	if err != nil {
		return nil, err
	}
	borrowFees, err := toAmount(r.BorrowFeeTotal, "borrow fees")
	if err != nil {
		return nil, err
	}
	supplyFees, err := toAmount(r.SupplyFeeTotal, "supply fees")
	if err != nil {
		return nil, err
	}
	return &storedReserves{
		TotalFeesCollected:   collected,
		TotalFeesDistributed: distributed,
		CurrentReserves:      current,
		BorrowFeeTotal:       borrowFees,
		SupplyFeeTotal:       supplyFees,
		LastDistributionTime: r.LastDistributionTime,
	}, nil
}

func decodeReserves(s *storedReserves) *lending.ReserveData {
	return &lending.ReserveData{
		TotalFeesCollected:   fromAmount(s.TotalFeesCollected),
		TotalFeesDistributed: fromAmount(s.TotalFeesDistributed),
		CurrentReserves:      fromAmount(s.CurrentReserves),
		BorrowFeeTotal:       fromAmount(s.BorrowFeeTotal),
		SupplyFeeTotal:       fromAmount(s.SupplyFeeTotal),
		LastDistributionTime: s.LastDistributionTime,
	}
}

func encodeActivity(a *lending.ActivityCounters) (*storedActivity, error) {
	deposited, err := toAmount(a.TotalDeposited, "total deposited")
	if err != nil {
		return nil, err
	}
	withdrawn, err := toAmount(a.TotalWithdrawn, "total withdrawn")
	if err != nil {
		return nil, err
	}
	borrowed, err := toAmount(a.TotalBorrowed, "total borrowed")
	if err != nil {
		return nil, err
	}
	repaid, err := toAmount(a.TotalRepaid, "total repaid")
	if err != nil {
		return nil, err
	}
	return &storedActivity{
		Address:               a.Address.Bytes(),
		TotalDeposited:        deposited,
		TotalWithdrawn:        withdrawn,
		TotalBorrowed:         borrowed,
		TotalRepaid:           repaid,
		LiquidationsPerformed: a.LiquidationsPerformed,
		LiquidationsReceived:  a.LiquidationsReceived,
		ActivityCount:         a.ActivityCount,
		LastActivityTime:      a.LastActivityTime,
	}, nil
}

func decodeActivity(s *storedActivity) (*lending.ActivityCounters, error) {
	addr, err := addressFromBytes(s.Address)
	if err != nil {
		return nil, err
	}
	return &lending.ActivityCounters{
		Address:               addr,
		TotalDeposited:        fromAmount(s.TotalDeposited),
		TotalWithdrawn:        fromAmount(s.TotalWithdrawn),
		TotalBorrowed:         fromAmount(s.TotalBorrowed),
		TotalRepaid:           fromAmount(s.TotalRepaid),
		LiquidationsPerformed: s.LiquidationsPerformed,
		LiquidationsReceived:  s.LiquidationsReceived,
		ActivityCount:         s.ActivityCount,
		LastActivityTime:      s.LastActivityTime,
	}, nil
}

func encodeParams(p *lending.Params) (*storedParams, error) {
	minRatio, err := toRate(p.MinCollateralRatio, "min collateral ratio")
	if err != nil {
		return nil, err
	}
	baseRate, err := toRate(p.InterestRate.BaseRate, "base rate")
	if err != nil {
		return nil, err
	}
	kink, err := toRate(p.InterestRate.KinkUtilization, "kink utilization")
	if err != nil {
		return nil, err
	}
	multiplier, err := toRate(p.InterestRate.Multiplier, "multiplier")
	if err != nil {
		return nil, err
	}
	reserveFactor, err := toRate(p.InterestRate.ReserveFactor, "reserve factor")
	if err != nil {
		return nil, err
	}
	ceiling, err := toRate(p.InterestRate.RateCeiling, "rate ceiling")
	if err != nil {
		return nil, err
	}
	floor, err := toRate(p.InterestRate.RateFloor, "rate floor")
	if err != nil {
		return nil, err
	}
	closeFactor, err := toRate(p.Risk.CloseFactor, "close factor")
	if err != nil {
		return nil, err
	}
	incentive, err := toRate(p.Risk.LiquidationIncentive, "liquidation incentive")
	if err != nil {
		return nil, err
	}
	deviation, err := toRate(p.Oracle.MaxDeviationPct, "max deviation")
	if err != nil {
		return nil, err
	}
	fallback, err := toAmount(p.Oracle.FallbackPrice, "fallback price")
	if err != nil {
		return nil, err
	}
	threshold, err := toAmount(p.LargeTxThreshold, "large tx threshold")
	if err != nil {
		return nil, err
	}
	return &storedParams{
		Admin:                 addressBytes(p.Admin),
		Treasury:              addressBytes(p.Treasury),
		MinCollateralRatio:    minRatio,
		BaseRate:              baseRate,
		KinkUtilization:       kink,
		Multiplier:            multiplier,
		ReserveFactor:         reserveFactor,
		RateCeiling:           ceiling,
		RateFloor:             floor,
		CloseFactor:           closeFactor,
		LiquidationIncentive:  incentive,
		PauseDeposit:          p.Risk.Pauses.Deposit,
		PauseBorrow:           p.Risk.Pauses.Borrow,
		PauseWithdraw:         p.Risk.Pauses.Withdraw,
		PauseLiquidate:        p.Risk.Pauses.Liquidate,
		MaxDeviationPct:       deviation,
		HeartbeatSeconds:      p.Oracle.HeartbeatSeconds,
		FallbackPrice:         fallback,
		LargeTxThreshold:      threshold,
		DistributionFrequency: p.DistributionFrequency,
	}, nil
}

func decodeParams(s *storedParams) (*lending.Params, error) {
	admin, err := addressFromBytes(s.Admin)
	if err != nil {
		return nil, err
	}
	treasury, err := addressFromBytes(s.Treasury)
	if err != nil {
		return nil, err
	}
	minRatio, err := fromRate(s.MinCollateralRatio, "min collateral ratio")
	if err != nil {
		return nil, err
	}
	baseRate, err := fromRate(s.BaseRate, "base rate")
	if err != nil {
		return nil, err
	}
	kink, err := fromRate(s.KinkUtilization, "kink utilization")
	if err != nil {
		return nil, err
	}
	multiplier, err := fromRate(s.Multiplier, "multiplier")
	if err != nil {
		return nil, err
	}
	reserveFactor, err := fromRate(s.ReserveFactor, "reserve factor")
	if err != nil {
		return nil, err
	}
	ceiling, err := fromRate(s.RateCeiling, "rate ceiling")
	if err != nil {
		return nil, err
	}
	floor, err := fromRate(s.RateFloor, "rate floor")
	if err != nil {
		return nil, err
	}
	closeFactor, err := fromRate(s.CloseFactor, "close factor")
	if err != nil {
		return nil, err
	}
	incentive, err := fromRate(s.LiquidationIncentive, "liquidation incentive")
	if err != nil {
		return nil, err
	}
	deviation, err := fromRate(s.MaxDeviationPct, "max deviation")
	if err != nil {
		return nil, err
	}
	params := &lending.Params{
		Admin:              admin,
		Treasury:           treasury,
		MinCollateralRatio: minRatio,
		InterestRate: lending.InterestRateConfig{
			BaseRate:        baseRate,
			KinkUtilization: kink,
			Multiplier:      multiplier,
			ReserveFactor:   reserveFactor,
			RateCeiling:     ceiling,
			RateFloor:       floor,
		},
		Risk: lending.RiskConfig{
			CloseFactor:          closeFactor,
			LiquidationIncentive: incentive,
			Pauses: lending.PauseFlags{
				Deposit:   s.PauseDeposit,
				Borrow:    s.PauseBorrow,
				Withdraw:  s.PauseWithdraw,
				Liquidate: s.PauseLiquidate,
			},
		},
		Oracle: lending.OracleConfig{
			MaxDeviationPct:  deviation,
			HeartbeatSeconds: s.HeartbeatSeconds,
			FallbackPrice:    fromAmount(s.FallbackPrice),
		},
		LargeTxThreshold:      fromAmount(s.LargeTxThreshold),
		DistributionFrequency: s.DistributionFrequency,
	}
	return params, nil
}
