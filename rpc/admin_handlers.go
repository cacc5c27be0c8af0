package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"vaultlend/core/lending"
	"vaultlend/crypto"
	"vaultlend/observability/logging"
	"vaultlend/rpc/modules"
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

func (s *Server) handleSetInterestRate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params adminInterestRateParams
	caller, ok := s.adminParams(w, r, req, &params, &params.Caller)
	if !ok {
		return
	}
	cfg := lending.InterestRateConfig{
		BaseRate:        params.BaseRate,
		KinkUtilization: params.KinkUtilization,
		Multiplier:      params.Multiplier,
		ReserveFactor:   params.ReserveFactor,
		RateCeiling:     params.RateCeiling,
		RateFloor:       params.RateFloor,
	}
	s.finishAdminOp(w, req, caller, func() (string, *modules.ModuleError) {
		return s.lending.SetInterestRateConfig(caller, cfg)
	})
}

func (s *Server) handleEmergencyRateAdjustment(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params adminEmergencyRateParams
	caller, ok := s.adminParams(w, r, req, &params, &params.Caller)
	if !ok {
		return
	}
	s.finishAdminOp(w, req, caller, func() (string, *modules.ModuleError) {
		return s.lending.EmergencyRateAdjustment(caller, params.BaseRate, params.Multiplier)
	})
}

func (s *Server) handleSetRiskParams(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params adminRiskParams
	caller, ok := s.adminParams(w, r, req, &params, &params.Caller)
	if !ok {
		return
	}
	s.finishAdminOp(w, req, caller, func() (string, *modules.ModuleError) {
		return s.lending.SetRiskParams(caller, params.CloseFactor, params.LiquidationIncentive)
	})
}

func (s *Server) handleSetPauses(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params adminPausesParams
	caller, ok := s.adminParams(w, r, req, &params, &params.Caller)
	if !ok {
		return
	}
	flags := lending.PauseFlags{
		Deposit:   params.Deposit,
		Borrow:    params.Borrow,
		Withdraw:  params.Withdraw,
		Liquidate: params.Liquidate,
	}
	s.finishAdminOp(w, req, caller, func() (string, *modules.ModuleError) {
		return s.lending.SetPauses(caller, flags)
	})
}

func (s *Server) handleSetMinCollateralRatio(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params adminRatioParams
	caller, ok := s.adminParams(w, r, req, &params, &params.Caller)
	if !ok {
		return
	}
	s.finishAdminOp(w, req, caller, func() (string, *modules.ModuleError) {
		return s.lending.SetMinCollateralRatio(caller, params.Ratio)
	})
}

func (s *Server) handleSetOracleConfig(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params adminOracleConfigParams
	caller, ok := s.adminParams(w, r, req, &params, &params.Caller)
	if !ok {
		return
	}
	fallback, err := parseOptionalAmount(params.FallbackPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("invalid fallbackPrice: %v", err), nil)
		return
	}
	cfg := lending.OracleConfig{
		MaxDeviationPct:  params.MaxDeviationPct,
		HeartbeatSeconds: params.HeartbeatSeconds,
		FallbackPrice:    fallback,
	}
	s.finishAdminOp(w, req, caller, func() (string, *modules.ModuleError) {
		return s.lending.SetOracleConfig(caller, cfg)
	})
}

func (s *Server) handleSetTreasury(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params adminTreasuryParams
	caller, ok := s.adminParams(w, r, req, &params, &params.Caller)
	if !ok {
		return
	}
	treasury, err := decodeAddressField(params.Treasury, "treasury")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	s.finishAdminOp(w, req, caller, func() (string, *modules.ModuleError) {
		return s.lending.SetTreasury(caller, treasury)
	})
}

func (s *Server) handleSetLargeTxThreshold(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params adminThresholdParams
	caller, ok := s.adminParams(w, r, req, &params, &params.Caller)
	if !ok {
		return
	}
	threshold, err := parseOptionalAmount(params.Threshold)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("invalid threshold: %v", err), nil)
		return
	}
	s.finishAdminOp(w, req, caller, func() (string, *modules.ModuleError) {
		return s.lending.SetLargeTxThreshold(caller, threshold)
	})
}

func (s *Server) handleSetDistributionFrequency(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params adminFrequencyParams
	caller, ok := s.adminParams(w, r, req, &params, &params.Caller)
	if !ok {
		return
	}
	s.finishAdminOp(w, req, caller, func() (string, *modules.ModuleError) {
		return s.lending.SetDistributionFrequency(caller, params.Seconds)
	})
}

func (s *Server) handleCollectFees(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params adminCollectFeesParams
	caller, ok := s.adminParams(w, r, req, &params, &params.Caller)
	if !ok {
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	s.finishAdminOp(w, req, caller, func() (string, *modules.ModuleError) {
		return s.lending.CollectFees(caller, amount, strings.TrimSpace(params.Source))
	})
}

func (s *Server) handleDistributeFees(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleAdminAmountOp(w, r, req, s.lending.DistributeFees)
}

func (s *Server) handleEmergencyWithdrawFees(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleAdminAmountOp(w, r, req, s.lending.EmergencyWithdrawFees)
}

func (s *Server) handleAdminAmountOp(w http.ResponseWriter, r *http.Request, req *RPCRequest, fn func(crypto.Address, *big.Int) (string, *modules.ModuleError)) {
	var params adminAmountParams
	caller, ok := s.adminParams(w, r, req, &params, &params.Caller)
	if !ok {
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	s.finishAdminOp(w, req, caller, func() (string, *modules.ModuleError) {
		return fn(caller, amount)
	})
}

// adminParams guards the mutation, unmarshals the single parameter
// object into dst and decodes the caller field it points into.
func (s *Server) adminParams(w http.ResponseWriter, r *http.Request, req *RPCRequest, dst interface{}, callerField *string) (crypto.Address, bool) {
	if !s.guardMutation(w, r, req) {
		return crypto.Address{}, false
	}
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return crypto.Address{}, false
	}
	if err := json.Unmarshal(req.Params[0], dst); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return crypto.Address{}, false
	}
	caller, err := decodeAddressField(*callerField, "caller")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return crypto.Address{}, false
	}
	return caller, true
}

func (s *Server) finishAdminOp(w http.ResponseWriter, req *RPCRequest, caller crypto.Address, fn func() (string, *modules.ModuleError)) {
	txHash, modErr := fn()
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	s.log.Info("admin operation committed", "method", req.Method, "caller", logging.ShortPrincipal(caller.String()))
	writeResult(w, req.ID, lendTxResult{TxHash: txHash})
}

// parseOptionalAmount accepts a non-negative decimal string; empty
// reads as zero so callers can clear a threshold.
func parseOptionalAmount(amount string) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return value, nil
}
