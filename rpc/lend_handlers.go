package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"

	"vaultlend/crypto"
	"vaultlend/observability/logging"
	"vaultlend/rpc/modules"
)

type lendAmountParams struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

type lendLiquidateParams struct {
	Liquidator string `json:"liquidator"`
	Borrower   string `json:"borrower"`
	Amount     string `json:"amount"`
}

type lendTxResult struct {
	TxHash string `json:"txHash"`
}

func (s *Server) handleGetPosition(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := s.addressParam(w, req)
	if !ok {
		return
	}
	view, modErr := s.lending.Position(addr)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, view)
}

func (s *Server) handleGetRates(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !requireNoParams(w, req) {
		return
	}
	view, modErr := s.lending.Rates()
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, view)
}

func (s *Server) handleGetReserves(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !requireNoParams(w, req) {
		return
	}
	view, modErr := s.lending.Reserves()
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, view)
}

func (s *Server) handleGetActivity(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := s.addressParam(w, req)
	if !ok {
		return
	}
	view, modErr := s.lending.Activity(addr)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, view)
}

func (s *Server) handleGetAccruedInterest(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := s.addressParam(w, req)
	if !ok {
		return
	}
	result, modErr := s.lending.AccruedInterest(addr)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetParams(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !requireNoParams(w, req) {
		return
	}
	result, modErr := s.lending.Params()
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleRecentErrors(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	limit := 20
	if len(req.Params) > 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "too many parameters", nil)
		return
	}
	if len(req.Params) == 1 {
		var direct int
		if err := json.Unmarshal(req.Params[0], &direct); err == nil {
			limit = direct
		} else {
			var wrapped struct {
				Limit *int `json:"limit"`
			}
			if err := json.Unmarshal(req.Params[0], &wrapped); err != nil || wrapped.Limit == nil {
				writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid limit parameter", nil)
				return
			}
			limit = *wrapped.Limit
		}
	}
	entries, modErr := s.lending.RecentErrors(limit)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, entries)
}

func (s *Server) handleErrorStats(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !requireNoParams(w, req) {
		return
	}
	stats, modErr := s.lending.ErrorStats()
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, stats)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleAmountOp(w, r, req, s.lending.Deposit)
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleAmountOp(w, r, req, s.lending.Borrow)
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleAmountOp(w, r, req, s.lending.Repay)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleAmountOp(w, r, req, s.lending.Withdraw)
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.guardMutation(w, r, req) {
		return
	}
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return
	}
	var params lendLiquidateParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	liquidator, err := decodeAddressField(params.Liquidator, "liquidator")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	borrower, err := decodeAddressField(params.Borrower, "borrower")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	txHash, modErr := s.lending.Liquidate(liquidator, borrower, amount)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	s.log.Info("lending operation committed", "method", req.Method,
		"principal", logging.ShortPrincipal(liquidator.String()),
		"counterparty", logging.ShortPrincipal(borrower.String()))
	writeResult(w, req.ID, lendTxResult{TxHash: txHash})
}

func (s *Server) handleAccrueInterest(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.guardMutation(w, r, req) {
		return
	}
	if !requireNoParams(w, req) {
		return
	}
	txHash, modErr := s.lending.Accrue()
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, lendTxResult{TxHash: txHash})
}

func (s *Server) handleAmountOp(w http.ResponseWriter, r *http.Request, req *RPCRequest, fn func(crypto.Address, *big.Int) (string, *modules.ModuleError)) {
	if !s.guardMutation(w, r, req) {
		return
	}
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return
	}
	var params lendAmountParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	addr, err := decodeAddressField(params.From, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	txHash, modErr := fn(addr, amount)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	s.log.Info("lending operation committed", "method", req.Method, "principal", logging.ShortPrincipal(addr.String()))
	writeResult(w, req.ID, lendTxResult{TxHash: txHash})
}

func (s *Server) addressParam(w http.ResponseWriter, req *RPCRequest) (crypto.Address, bool) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected address parameter", nil)
		return crypto.Address{}, false
	}
	value, err := parseAddressEnvelope(req.Params[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return crypto.Address{}, false
	}
	addr, err := decodeAddressField(value, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return crypto.Address{}, false
	}
	return addr, true
}

func requireNoParams(w http.ResponseWriter, req *RPCRequest) bool {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return false
	}
	return true
}
