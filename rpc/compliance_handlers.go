package rpc

import (
	"encoding/json"
	"net/http"

	"vaultlend/compliance"
	"vaultlend/crypto"
	"vaultlend/observability/logging"
	"vaultlend/rpc/modules"
)

type complianceKYCParams struct {
	Address string `json:"address"`
	Status  string `json:"status"`
}

// Compliance reads carry KYC data, so they sit behind the bearer token
// like the mutations.

func (s *Server) handleComplianceStatus(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.guardRead(w, r, req) {
		return
	}
	addr, ok := s.addressParam(w, req)
	if !ok {
		return
	}
	record, modErr := s.compliance.Status(addr)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, record)
}

func (s *Server) handleComplianceList(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.guardRead(w, r, req) {
		return
	}
	if !requireNoParams(w, req) {
		return
	}
	records, modErr := s.compliance.List()
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, records)
}

func (s *Server) handleComplianceSetKYCStatus(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.guardMutation(w, r, req) {
		return
	}
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return
	}
	var params complianceKYCParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	addr, err := decodeAddressField(params.Address, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	status, err := compliance.ParseKYCStatus(params.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	record, modErr := s.compliance.SetKYCStatus(addr, status)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	s.log.Info("compliance update committed", "method", req.Method, "principal", logging.ShortPrincipal(addr.String()), "status", status.String())
	writeResult(w, req.ID, record)
}

func (s *Server) handleComplianceFreeze(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleComplianceToggle(w, r, req, s.compliance.Freeze)
}

func (s *Server) handleComplianceUnfreeze(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleComplianceToggle(w, r, req, s.compliance.Unfreeze)
}

func (s *Server) handleComplianceBlacklist(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleComplianceToggle(w, r, req, s.compliance.Blacklist)
}

func (s *Server) handleComplianceUnblacklist(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleComplianceToggle(w, r, req, s.compliance.Unblacklist)
}

func (s *Server) handleComplianceToggle(w http.ResponseWriter, r *http.Request, req *RPCRequest, fn func(crypto.Address) (modules.RecordResult, *modules.ModuleError)) {
	if !s.guardMutation(w, r, req) {
		return
	}
	addr, ok := s.addressParam(w, req)
	if !ok {
		return
	}
	record, modErr := fn(addr)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	s.log.Info("compliance update committed", "method", req.Method, "principal", logging.ShortPrincipal(addr.String()))
	writeResult(w, req.ID, record)
}
