package modules

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"vaultlend/core/lending"
	"vaultlend/crypto"
)

// LendingModule adapts the engine to the RPC surface: it translates
// sentinel errors into transport errors and mints receipt hashes for
// committed mutations.
type LendingModule struct {
	engine *lending.Engine
	now    func() time.Time
}

func NewLendingModule(engine *lending.Engine) *LendingModule {
	return &LendingModule{engine: engine, now: time.Now}
}

func (m *LendingModule) moduleUnavailable() *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "lending module not available"}
}

// AccruedInterestResult reports interest earned and owed since the
// position opened.
type AccruedInterestResult struct {
	Address        string   `json:"address"`
	BorrowInterest *big.Int `json:"borrowInterest"`
	SupplyInterest *big.Int `json:"supplyInterest"`
}

// ParamsResult is the JSON form of the protocol parameters, with
// principals rendered in bech32.
type ParamsResult struct {
	Admin                 string                     `json:"admin,omitempty"`
	Treasury              string                     `json:"treasury,omitempty"`
	MinCollateralRatio    int64                      `json:"minCollateralRatio"`
	InterestRate          lending.InterestRateConfig `json:"interestRate"`
	Risk                  lending.RiskConfig         `json:"risk"`
	Oracle                lending.OracleConfig       `json:"oracle"`
	LargeTxThreshold      *big.Int                   `json:"largeTxThreshold"`
	DistributionFrequency uint64                     `json:"distributionFrequency"`
}

func (m *LendingModule) Position(addr crypto.Address) (lending.PositionView, *ModuleError) {
	if m == nil || m.engine == nil {
		return lending.PositionView{}, m.moduleUnavailable()
	}
	view, err := m.engine.GetPosition(addr)
	if err != nil {
		return lending.PositionView{}, m.wrapError(err)
	}
	return view, nil
}

func (m *LendingModule) Rates() (lending.RatesView, *ModuleError) {
	if m == nil || m.engine == nil {
		return lending.RatesView{}, m.moduleUnavailable()
	}
	view, err := m.engine.CurrentRates()
	if err != nil {
		return lending.RatesView{}, m.wrapError(err)
	}
	return view, nil
}

func (m *LendingModule) Reserves() (lending.ReservesView, *ModuleError) {
	if m == nil || m.engine == nil {
		return lending.ReservesView{}, m.moduleUnavailable()
	}
	view, err := m.engine.ReserveSnapshot()
	if err != nil {
		return lending.ReservesView{}, m.wrapError(err)
	}
	return view, nil
}

func (m *LendingModule) Activity(addr crypto.Address) (lending.ActivityView, *ModuleError) {
	if m == nil || m.engine == nil {
		return lending.ActivityView{}, m.moduleUnavailable()
	}
	view, err := m.engine.Activity(addr)
	if err != nil {
		return lending.ActivityView{}, m.wrapError(err)
	}
	return view, nil
}

func (m *LendingModule) AccruedInterest(addr crypto.Address) (AccruedInterestResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return AccruedInterestResult{}, m.moduleUnavailable()
	}
	borrow, supply, err := m.engine.AccruedInterest(addr)
	if err != nil {
		return AccruedInterestResult{}, m.wrapError(err)
	}
	return AccruedInterestResult{Address: addr.String(), BorrowInterest: borrow, SupplyInterest: supply}, nil
}

func (m *LendingModule) Params() (ParamsResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return ParamsResult{}, m.moduleUnavailable()
	}
	params := m.engine.ProtocolParams()
	result := ParamsResult{
		MinCollateralRatio:    params.MinCollateralRatio,
		InterestRate:          params.InterestRate,
		Risk:                  params.Risk,
		Oracle:                params.Oracle,
		LargeTxThreshold:      params.LargeTxThreshold,
		DistributionFrequency: params.DistributionFrequency,
	}
	if !params.Admin.IsZero() {
		result.Admin = params.Admin.String()
	}
	if !params.Treasury.IsZero() {
		result.Treasury = params.Treasury.String()
	}
	return result, nil
}

func (m *LendingModule) RecentErrors(limit int) ([]lending.ErrorContext, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, m.moduleUnavailable()
	}
	return m.engine.RecentErrors(limit), nil
}

func (m *LendingModule) ErrorStats() (lending.ErrorAnalytics, *ModuleError) {
	if m == nil || m.engine == nil {
		return lending.ErrorAnalytics{}, m.moduleUnavailable()
	}
	return m.engine.ErrorStats(), nil
}

func (m *LendingModule) Deposit(addr crypto.Address, amount *big.Int) (string, *ModuleError) {
	if m == nil || m.engine == nil {
		return "", m.moduleUnavailable()
	}
	if err := m.engine.Deposit(addr, amount); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("deposit", addr.String(), amount), nil
}

func (m *LendingModule) Borrow(addr crypto.Address, amount *big.Int) (string, *ModuleError) {
	if m == nil || m.engine == nil {
		return "", m.moduleUnavailable()
	}
	if err := m.engine.Borrow(addr, amount); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("borrow", addr.String(), amount), nil
}

func (m *LendingModule) Repay(addr crypto.Address, amount *big.Int) (string, *ModuleError) {
	if m == nil || m.engine == nil {
		return "", m.moduleUnavailable()
	}
	if err := m.engine.Repay(addr, amount); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("repay", addr.String(), amount), nil
}

func (m *LendingModule) Withdraw(addr crypto.Address, amount *big.Int) (string, *ModuleError) {
	if m == nil || m.engine == nil {
		return "", m.moduleUnavailable()
	}
	if err := m.engine.Withdraw(addr, amount); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("withdraw", addr.String(), amount), nil
}

func (m *LendingModule) Liquidate(liquidator, borrower crypto.Address, amount *big.Int) (string, *ModuleError) {
	if m == nil || m.engine == nil {
		return "", m.moduleUnavailable()
	}
	if err := m.engine.Liquidate(liquidator, borrower, amount); err != nil {
		return "", m.wrapError(err)
	}
	primary := fmt.Sprintf("%s:%s", liquidator.String(), borrower.String())
	return m.makeTxHash("liquidate", primary, amount), nil
}

func (m *LendingModule) Accrue() (string, *ModuleError) {
	if m == nil || m.engine == nil {
		return "", m.moduleUnavailable()
	}
	if err := m.engine.AccrueInterest(); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("accrue", "protocol", nil), nil
}

func (m *LendingModule) SetInterestRateConfig(caller crypto.Address, cfg lending.InterestRateConfig) (string, *ModuleError) {
	if m == nil || m.engine == nil {
		return "", m.moduleUnavailable()
	}
	if err := m.engine.SetInterestRateConfig(caller, cfg); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("set-interest-rate", caller.String(), big.NewInt(cfg.BaseRate)), nil
}

func (m *LendingModule) EmergencyRateAdjustment(caller crypto.Address, baseRate, multiplier int64) (string, *ModuleError) {
	if m == nil || m.engine == nil {
		return "", m.moduleUnavailable()
	}
	if err := m.engine.EmergencyRateAdjustment(caller, baseRate, multiplier); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("emergency-rate", caller.String(), big.NewInt(baseRate), big.NewInt(multiplier)), nil
}

func (m *LendingModule) SetRiskParams(caller crypto.Address, closeFactor, liquidationIncentive int64) (string, *ModuleError) {
	if m == nil || m.engine == nil {
		return "", m.moduleUnavailable()
	}
	if err := m.engine.SetRiskParams(caller, closeFactor, liquidationIncentive); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("set-risk", caller.String(), big.NewInt(closeFactor), big.NewInt(liquidationIncentive)), nil
}

func (m *LendingModule) SetPauses(caller crypto.Address, flags lending.PauseFlags) (string, *ModuleError) {
	if m == nil || m.engine == nil {
		return "", m.moduleUnavailable()
	}
	if err := m.engine.SetPauses(caller, flags); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("set-pauses", caller.String(), nil), nil
}

func (m *LendingModule) SetMinCollateralRatio(caller crypto.Address, ratio int64) (string, *ModuleError) {
	if m == nil || m.engine == nil {
		return "", m.moduleUnavailable()
	}
	if err := m.engine.SetMinCollateralRatio(caller, ratio); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("set-min-collateral-ratio", caller.String(), big.NewInt(ratio)), nil
}

func (m *LendingModule) SetOracleConfig(caller crypto.Address, cfg lending.OracleConfig) (string, *ModuleError) {
	if m == nil || m.engine == nil {
		return "", m.moduleUnavailable()
	}
	if err := m.engine.SetOracleConfig(caller, cfg); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("set-oracle-config", caller.String(), cfg.FallbackPrice), nil
}

func (m *LendingModule) SetTreasury(caller, treasury crypto.Address) (string, *ModuleError) {
	if m == nil || m.engine == nil {
		return "", m.moduleUnavailable()
	}
	if err := m.engine.SetTreasury(caller, treasury); err != nil {
		return "", m.wrapError(err)
	}
	primary := fmt.Sprintf("%s:%s", caller.String(), treasury.String())
	return m.makeTxHash("set-treasury", primary, nil), nil
}

func (m *LendingModule) SetLargeTxThreshold(caller crypto.Address, threshold *big.Int) (string, *ModuleError) {
	if m == nil || m.engine == nil {
		return "", m.moduleUnavailable()
	}
	if err := m.engine.SetLargeTxThreshold(caller, threshold); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("set-large-tx-threshold", caller.String(), threshold), nil
}

func (m *LendingModule) SetDistributionFrequency(caller crypto.Address, seconds uint64) (string, *ModuleError) {
	if m == nil || m.engine == nil {
		return "", m.moduleUnavailable()
	}
	if err := m.engine.SetDistributionFrequency(caller, seconds); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("set-distribution-frequency", caller.String(), new(big.Int).SetUint64(seconds)), nil
}

func (m *LendingModule) CollectFees(caller crypto.Address, amount *big.Int, source string) (string, *ModuleError) {
	if m == nil || m.engine == nil {
		return "", m.moduleUnavailable()
	}
	if err := m.engine.CollectProtocolFees(caller, amount, source); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("collect-fees", caller.String(), amount), nil
}

func (m *LendingModule) DistributeFees(caller crypto.Address, amount *big.Int) (string, *ModuleError) {
	if m == nil || m.engine == nil {
		return "", m.moduleUnavailable()
	}
	if err := m.engine.DistributeFees(caller, amount); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("distribute-fees", caller.String(), amount), nil
}

func (m *LendingModule) EmergencyWithdrawFees(caller crypto.Address, amount *big.Int) (string, *ModuleError) {
	if m == nil || m.engine == nil {
		return "", m.moduleUnavailable()
	}
	if err := m.engine.EmergencyWithdrawFees(caller, amount); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("emergency-withdraw-fees", caller.String(), amount), nil
}

// wrapError maps engine sentinels onto transport errors. The stable
// short code rides in Data so clients never match message text.
func (m *LendingModule) wrapError(err error) *ModuleError {
	if err == nil {
		return nil
	}
	status := http.StatusInternalServerError
	code := codeServerError
	switch {
	case errors.Is(err, lending.ErrPositionNotFound):
		status = http.StatusNotFound
		code = codeNotFound
	case errors.Is(err, lending.ErrProtocolPaused):
		status = http.StatusServiceUnavailable
		code = codeProtocolPaused
	case errors.Is(err, lending.ErrRateLimited):
		status = http.StatusTooManyRequests
		code = codeRateLimited
	case errors.Is(err, lending.ErrReentrancyDetected):
		status = http.StatusConflict
		code = codeEngineBusy
	default:
		switch lending.Class(err) {
		case lending.ClassValidation:
			status = http.StatusBadRequest
			code = codeInvalidParams
		case lending.ClassAuthorization:
			status = http.StatusForbidden
			code = codeUnauthorized
		case lending.ClassSolvency:
			status = http.StatusConflict
			code = codeSolvencyFailure
		case lending.ClassTransient:
			status = http.StatusServiceUnavailable
			code = codeTransientFailure
		}
	}
	return &ModuleError{HTTPStatus: status, Code: code, Message: err.Error(), Data: lending.Code(err)}
}

func (m *LendingModule) makeTxHash(kind, primary string, amount *big.Int, extras ...*big.Int) string {
	parts := []string{kind, primary}
	if amount != nil {
		parts = append(parts, amount.String())
	}
	for _, extra := range extras {
		if extra != nil {
			parts = append(parts, extra.String())
		}
	}
	parts = append(parts, fmt.Sprintf("%d", m.now().UTC().UnixNano()))
	payload := strings.Join(parts, "|")
	hash := ethcrypto.Keccak256([]byte(payload))
	return "0x" + hex.EncodeToString(hash)
}
