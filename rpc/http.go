package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"vaultlend/compliance"
	"vaultlend/core/lending"
	"vaultlend/crypto"
	"vaultlend/observability"
	"vaultlend/rpc/modules"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	// Mutations are throttled per source; reads are not.
	rateLimitWindow    = time.Minute
	mutationsPerWindow = 60
	mutationBurst      = 10
	limiterIdleTTL     = 15 * time.Minute

	authTokenEnv = "VAULTLEND_RPC_TOKEN"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeNotFound       = -32004
	codeRateLimited    = -32020

	codeSolvencyFailure = -32030
	codeProtocolPaused  = -32031
)

type sourceLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Server struct {
	lending    *modules.LendingModule
	compliance *modules.ComplianceModule
	stream     *eventStream

	mu       sync.Mutex
	limiters map[string]*sourceLimiter

	authToken string
	log       *slog.Logger
}

// NewServer wires the engine and the optional compliance registry into
// the JSON-RPC surface. The server registers itself on the engine's
// event mux so the websocket stream sees every committed operation.
func NewServer(engine *lending.Engine, registry *compliance.Registry) *Server {
	s := &Server{
		lending:   modules.NewLendingModule(engine),
		stream:    newEventStream(eventBacklogSize),
		limiters:  make(map[string]*sourceLimiter),
		authToken: strings.TrimSpace(os.Getenv(authTokenEnv)),
		log:       slog.Default().With("component", "rpc"),
	}
	if registry != nil {
		s.compliance = modules.NewComplianceModule(registry)
	}
	if engine != nil {
		engine.Events().Register(s.stream)
	}
	return s
}

// SetAuthToken overrides the token read from the environment. Call
// before Start.
func (s *Server) SetAuthToken(token string) {
	s.authToken = strings.TrimSpace(token)
}

// Handler returns the HTTP handler so hosts can mount the server on
// their own listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.HandleFunc("/ws/events", s.handleEventsWS)
	return mux
}

func (s *Server) Start(addr string) error {
	s.log.Info("rpc server listening", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeModuleError(w http.ResponseWriter, id interface{}, modErr *modules.ModuleError) {
	if modErr == nil {
		writeError(w, http.StatusInternalServerError, id, codeServerError, "module failure", nil)
		return
	}
	writeError(w, modErr.HTTPStatus, id, modErr.Code, modErr.Message, modErr.Data)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	method := s.serveRPC(rec, r)
	if method == "" {
		method = "invalid"
	}
	observability.ModuleMetrics().Observe("rpc", method, rec.status, time.Since(started))
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) string {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return ""
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return ""
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return ""
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return ""
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return ""
	}

	s.route(w, r, req)
	return req.Method
}

func (s *Server) route(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "lend_getPosition":
		s.handleGetPosition(w, r, req)
	case "lend_getRates":
		s.handleGetRates(w, r, req)
	case "lend_getReserves":
		s.handleGetReserves(w, r, req)
	case "lend_getActivity":
		s.handleGetActivity(w, r, req)
	case "lend_getAccruedInterest":
		s.handleGetAccruedInterest(w, r, req)
	case "lend_getParams":
		s.handleGetParams(w, r, req)
	case "lend_recentErrors":
		s.handleRecentErrors(w, r, req)
	case "lend_errorStats":
		s.handleErrorStats(w, r, req)
	case "lend_deposit":
		s.handleDeposit(w, r, req)
	case "lend_borrow":
		s.handleBorrow(w, r, req)
	case "lend_repay":
		s.handleRepay(w, r, req)
	case "lend_withdraw":
		s.handleWithdraw(w, r, req)
	case "lend_liquidate":
		s.handleLiquidate(w, r, req)
	case "lend_accrueInterest":
		s.handleAccrueInterest(w, r, req)
	case "admin_setInterestRate":
		s.handleSetInterestRate(w, r, req)
	case "admin_emergencyRateAdjustment":
		s.handleEmergencyRateAdjustment(w, r, req)
	case "admin_setRiskParams":
		s.handleSetRiskParams(w, r, req)
	case "admin_setPauses":
		s.handleSetPauses(w, r, req)
	case "admin_setMinCollateralRatio":
		s.handleSetMinCollateralRatio(w, r, req)
	case "admin_setOracleConfig":
		s.handleSetOracleConfig(w, r, req)
	case "admin_setTreasury":
		s.handleSetTreasury(w, r, req)
	case "admin_setLargeTxThreshold":
		s.handleSetLargeTxThreshold(w, r, req)
	case "admin_setDistributionFrequency":
		s.handleSetDistributionFrequency(w, r, req)
	case "admin_collectFees":
		s.handleCollectFees(w, r, req)
	case "admin_distributeFees":
		s.handleDistributeFees(w, r, req)
	case "admin_emergencyWithdrawFees":
		s.handleEmergencyWithdrawFees(w, r, req)
	case "compliance_status":
		s.handleComplianceStatus(w, r, req)
	case "compliance_list":
		s.handleComplianceList(w, r, req)
	case "compliance_setKYCStatus":
		s.handleComplianceSetKYCStatus(w, r, req)
	case "compliance_freeze":
		s.handleComplianceFreeze(w, r, req)
	case "compliance_unfreeze":
		s.handleComplianceUnfreeze(w, r, req)
	case "compliance_blacklist":
		s.handleComplianceBlacklist(w, r, req)
	case "compliance_unblacklist":
		s.handleComplianceUnblacklist(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
}

// guardMutation enforces bearer auth and the per-source mutation
// throttle. It writes the error response itself on failure.
func (s *Server) guardMutation(w http.ResponseWriter, r *http.Request, req *RPCRequest) bool {
	if authErr := s.requireAuth(r); authErr != nil {
		s.log.Warn("rpc auth rejected", "method", req.Method, "source", clientSource(r))
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return false
	}
	source := clientSource(r)
	if !s.allowSource(source, time.Now()) {
		observability.ModuleMetrics().RecordThrottle("rpc", "mutation_rate")
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "mutation rate limit exceeded", source)
		return false
	}
	return true
}

func (s *Server) guardRead(w http.ResponseWriter, r *http.Request, req *RPCRequest) bool {
	if authErr := s.requireAuth(r); authErr != nil {
		s.log.Warn("rpc auth rejected", "method", req.Method, "source", clientSource(r))
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return false
	}
	return true
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) allowSource(source string, now time.Time) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(s.limiters, key)
		}
	}
	entry, ok := s.limiters[source]
	if !ok {
		entry = &sourceLimiter{limiter: rate.NewLimiter(rate.Every(rateLimitWindow/mutationsPerWindow), mutationBurst)}
		s.limiters[source] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseAmount(amount string) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, fmt.Errorf("amount is required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return value, nil
}

// parseAddressEnvelope accepts either a bare bech32 string or an
// {"address": ...} object.
func parseAddressEnvelope(raw json.RawMessage) (string, error) {
	var direct string
	if err := json.Unmarshal(raw, &direct); err == nil {
		return strings.TrimSpace(direct), nil
	}
	var wrapped struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return "", fmt.Errorf("invalid address parameter")
	}
	return strings.TrimSpace(wrapped.Address), nil
}

func decodeAddressField(value, field string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return crypto.Address{}, fmt.Errorf("%s required", field)
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid %s: %v", field, err)
	}
	return addr, nil
}
