package lend

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"vaultlend/core/lending"
)

type adminInterestRateParams struct {
	Caller          string `json:"caller"`
	BaseRate        int64  `json:"baseRate"`
	KinkUtilization int64  `json:"kinkUtilization"`
	Multiplier      int64  `json:"multiplier"`
	ReserveFactor   int64  `json:"reserveFactor"`
	RateCeiling     int64  `json:"rateCeiling"`
	RateFloor       int64  `json:"rateFloor"`
}

type adminEmergencyRateParams struct {
	Caller     string `json:"caller"`
	BaseRate   int64  `json:"baseRate"`
	Multiplier int64  `json:"multiplier"`
}

type adminRiskParams struct {
	Caller               string `json:"caller"`
	CloseFactor          int64  `json:"closeFactor"`
	LiquidationIncentive int64  `json:"liquidationIncentive"`
}

type adminPausesParams struct {
	Caller    string `json:"caller"`
	Deposit   bool   `json:"deposit"`
	Borrow    bool   `json:"borrow"`
	Withdraw  bool   `json:"withdraw"`
	Liquidate bool   `json:"liquidate"`
}

type adminRatioParams struct {
	Caller string `json:"caller"`
	Ratio  int64  `json:"ratio"`
}

type adminOracleConfigParams struct {
	Caller           string `json:"caller"`
	MaxDeviationPct  int64  `json:"maxDeviationPct"`
	HeartbeatSeconds uint64 `json:"heartbeatSeconds"`
	FallbackPrice    string `json:"fallbackPrice"`
}

type adminTreasuryParams struct {
	Caller   string `json:"caller"`
	Treasury string `json:"treasury"`
}

type adminThresholdParams struct {
	Caller    string `json:"caller"`
	Threshold string `json:"threshold"`
}

type adminFrequencyParams struct {
	Caller  string `json:"caller"`
	Seconds uint64 `json:"seconds"`
}

type adminCollectFeesParams struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
	Source string `json:"source"`
}

type adminAmountParams struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

// SetInterestRate replaces the full interest rate curve.
func (c *Client) SetInterestRate(ctx context.Context, caller string, cfg lending.InterestRateConfig) (string, error) {
	addr, err := c.adminCaller(caller)
	if err != nil {
		return "", err
	}
	return c.adminOp(ctx, "admin_setInterestRate", adminInterestRateParams{
		Caller:          addr,
		BaseRate:        cfg.BaseRate,
		KinkUtilization: cfg.KinkUtilization,
		Multiplier:      cfg.Multiplier,
		ReserveFactor:   cfg.ReserveFactor,
		RateCeiling:     cfg.RateCeiling,
		RateFloor:       cfg.RateFloor,
	})
}

// EmergencyRateAdjustment overrides the base rate and multiplier
// without touching the rest of the curve.
func (c *Client) EmergencyRateAdjustment(ctx context.Context, caller string, baseRate, multiplier int64) (string, error) {
	addr, err := c.adminCaller(caller)
	if err != nil {
		return "", err
	}
	return c.adminOp(ctx, "admin_emergencyRateAdjustment", adminEmergencyRateParams{
		Caller:     addr,
		BaseRate:   baseRate,
		Multiplier: multiplier,
	})
}

// SetRiskParams updates the liquidation close factor and incentive.
func (c *Client) SetRiskParams(ctx context.Context, caller string, closeFactor, liquidationIncentive int64) (string, error) {
	addr, err := c.adminCaller(caller)
	if err != nil {
		return "", err
	}
	return c.adminOp(ctx, "admin_setRiskParams", adminRiskParams{
		Caller:               addr,
		CloseFactor:          closeFactor,
		LiquidationIncentive: liquidationIncentive,
	})
}

// SetPauses toggles the per-operation pause switches.
func (c *Client) SetPauses(ctx context.Context, caller string, flags lending.PauseFlags) (string, error) {
	addr, err := c.adminCaller(caller)
	if err != nil {
		return "", err
	}
	return c.adminOp(ctx, "admin_setPauses", adminPausesParams{
		Caller:    addr,
		Deposit:   flags.Deposit,
		Borrow:    flags.Borrow,
		Withdraw:  flags.Withdraw,
		Liquidate: flags.Liquidate,
	})
}

// SetMinCollateralRatio updates the minimum collateral ratio in plain
// percent, so 150 means 150%.
func (c *Client) SetMinCollateralRatio(ctx context.Context, caller string, ratio int64) (string, error) {
	addr, err := c.adminCaller(caller)
	if err != nil {
		return "", err
	}
	return c.adminOp(ctx, "admin_setMinCollateralRatio", adminRatioParams{Caller: addr, Ratio: ratio})
}

// SetOracleConfig updates the price staleness and deviation guards.
func (c *Client) SetOracleConfig(ctx context.Context, caller string, cfg lending.OracleConfig) (string, error) {
	addr, err := c.adminCaller(caller)
	if err != nil {
		return "", err
	}
	fallback := ""
	if cfg.FallbackPrice != nil {
		if cfg.FallbackPrice.Sign() < 0 {
			return "", fmt.Errorf("fallback price must not be negative")
		}
		fallback = cfg.FallbackPrice.String()
	}
	return c.adminOp(ctx, "admin_setOracleConfig", adminOracleConfigParams{
		Caller:           addr,
		MaxDeviationPct:  cfg.MaxDeviationPct,
		HeartbeatSeconds: cfg.HeartbeatSeconds,
		FallbackPrice:    fallback,
	})
}

// SetTreasury redirects future fee distributions to a new treasury
// account.
func (c *Client) SetTreasury(ctx context.Context, caller, treasury string) (string, error) {
	addr, err := c.adminCaller(caller)
	if err != nil {
		return "", err
	}
	target, err := requireAddress("treasury", treasury)
	if err != nil {
		return "", err
	}
	return c.adminOp(ctx, "admin_setTreasury", adminTreasuryParams{Caller: addr, Treasury: target})
}

// SetLargeTxThreshold updates the amount above which operations are
// flagged for compliance review. A nil threshold clears it.
func (c *Client) SetLargeTxThreshold(ctx context.Context, caller string, threshold *big.Int) (string, error) {
	addr, err := c.adminCaller(caller)
	if err != nil {
		return "", err
	}
	value := ""
	if threshold != nil {
		if threshold.Sign() < 0 {
			return "", fmt.Errorf("threshold must not be negative")
		}
		value = threshold.String()
	}
	return c.adminOp(ctx, "admin_setLargeTxThreshold", adminThresholdParams{Caller: addr, Threshold: value})
}

// SetDistributionFrequency updates the minimum seconds between fee
// distributions.
func (c *Client) SetDistributionFrequency(ctx context.Context, caller string, seconds uint64) (string, error) {
	addr, err := c.adminCaller(caller)
	if err != nil {
		return "", err
	}
	return c.adminOp(ctx, "admin_setDistributionFrequency", adminFrequencyParams{Caller: addr, Seconds: seconds})
}

// CollectFees books protocol fee revenue into the reserve, tagged with
// its source.
func (c *Client) CollectFees(ctx context.Context, caller string, amount *big.Int, source string) (string, error) {
	addr, err := c.adminCaller(caller)
	if err != nil {
		return "", err
	}
	value, err := ensurePositiveAmount("fee", amount)
	if err != nil {
		return "", err
	}
	return c.adminOp(ctx, "admin_collectFees", adminCollectFeesParams{
		Caller: addr,
		Amount: value,
		Source: strings.TrimSpace(source),
	})
}

// DistributeFees pays accumulated reserves out to the treasury.
func (c *Client) DistributeFees(ctx context.Context, caller string, amount *big.Int) (string, error) {
	return c.adminAmountOp(ctx, "admin_distributeFees", caller, amount)
}

// EmergencyWithdrawFees drains reserves to the treasury outside the
// normal distribution schedule.
func (c *Client) EmergencyWithdrawFees(ctx context.Context, caller string, amount *big.Int) (string, error) {
	return c.adminAmountOp(ctx, "admin_emergencyWithdrawFees", caller, amount)
}

func (c *Client) adminAmountOp(ctx context.Context, method, caller string, amount *big.Int) (string, error) {
	addr, err := c.adminCaller(caller)
	if err != nil {
		return "", err
	}
	value, err := ensurePositiveAmount("fee", amount)
	if err != nil {
		return "", err
	}
	return c.adminOp(ctx, method, adminAmountParams{Caller: addr, Amount: value})
}

func (c *Client) adminCaller(caller string) (string, error) {
	if err := c.privileged(); err != nil {
		return "", err
	}
	return requireAddress("caller", caller)
}

func (c *Client) adminOp(ctx context.Context, method string, params interface{}) (string, error) {
	var receipt txReceipt
	if err := c.call(ctx, method, []interface{}{params}, &receipt); err != nil {
		return "", err
	}
	return receipt.TxHash, nil
}
