package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"vaultlend/crypto"
	"vaultlend/sdk/lend"
)

const lendingRequestLimit = 1 << 20 // 1 MiB

const defaultLendingTimeout = 10 * time.Second

// LendingRoutes bridges the REST surface to the node's JSON-RPC API through
// the lend SDK client. Transfer endpoints require the gateway's node token
// because the node treats them as privileged calls.
type LendingRoutes struct {
	client  *lend.Client
	timeout time.Duration
	logger  *slog.Logger
}

func NewLendingRoutes(client *lend.Client, timeout time.Duration, logger *slog.Logger) *LendingRoutes {
	if timeout <= 0 {
		timeout = defaultLendingTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LendingRoutes{client: client, timeout: timeout, logger: logger}
}

func (lr *LendingRoutes) Mount(r chi.Router) {
	r.Post("/deposit", lr.deposit)
	r.Post("/borrow", lr.borrow)
	r.Post("/repay", lr.repay)
	r.Post("/withdraw", lr.withdraw)
	r.Post("/liquidate", lr.liquidate)
	r.Get("/positions/{address}", lr.position)
	r.Get("/market", lr.market)
	r.Get("/reserves", lr.reserves)
	r.Get("/activity/{address}", lr.activity)
	r.Get("/params", lr.params)
}

func (lr *LendingRoutes) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, lr.timeout)
}

type amountRequest struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

type liquidateRequest struct {
	Liquidator string `json:"liquidator"`
	Borrower   string `json:"borrower"`
	Amount     string `json:"amount"`
}

type txResponse struct {
	TxHash string `json:"txHash"`
}

func (lr *LendingRoutes) deposit(w http.ResponseWriter, r *http.Request) {
	lr.amountOp(w, r, lr.client.Deposit)
}

func (lr *LendingRoutes) borrow(w http.ResponseWriter, r *http.Request) {
	lr.amountOp(w, r, lr.client.Borrow)
}

func (lr *LendingRoutes) repay(w http.ResponseWriter, r *http.Request) {
	lr.amountOp(w, r, lr.client.Repay)
}

func (lr *LendingRoutes) withdraw(w http.ResponseWriter, r *http.Request) {
	lr.amountOp(w, r, lr.client.Withdraw)
}

func (lr *LendingRoutes) amountOp(w http.ResponseWriter, r *http.Request, op func(context.Context, string, *big.Int) (string, error)) {
	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	from, err := requireAddressField("from", req.From)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	ctx, cancel := lr.context(r.Context())
	defer cancel()

	txHash, err := op(ctx, from, amount)
	if err != nil {
		lr.writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, txResponse{TxHash: txHash})
}

func (lr *LendingRoutes) liquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	liquidator, err := requireAddressField("liquidator", req.Liquidator)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	borrower, err := requireAddressField("borrower", req.Borrower)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	ctx, cancel := lr.context(r.Context())
	defer cancel()

	txHash, err := lr.client.Liquidate(ctx, liquidator, borrower, amount)
	if err != nil {
		lr.writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, txResponse{TxHash: txHash})
}

func (lr *LendingRoutes) position(w http.ResponseWriter, r *http.Request) {
	address, err := requireAddressField("address", chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	ctx, cancel := lr.context(r.Context())
	defer cancel()

	view, err := lr.client.Position(ctx, address)
	if err != nil {
		lr.writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, view)
}

func (lr *LendingRoutes) market(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := lr.context(r.Context())
	defer cancel()

	view, err := lr.client.Rates(ctx)
	if err != nil {
		lr.writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, view)
}

func (lr *LendingRoutes) reserves(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := lr.context(r.Context())
	defer cancel()

	view, err := lr.client.Reserves(ctx)
	if err != nil {
		lr.writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, view)
}

func (lr *LendingRoutes) activity(w http.ResponseWriter, r *http.Request) {
	address, err := requireAddressField("address", chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	ctx, cancel := lr.context(r.Context())
	defer cancel()

	view, err := lr.client.Activity(ctx, address)
	if err != nil {
		lr.writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, view)
}

func (lr *LendingRoutes) params(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := lr.context(r.Context())
	defer cancel()

	view, err := lr.client.Params(ctx)
	if err != nil {
		lr.writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, view)
}

func decodeRequest(r *http.Request, out interface{}) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(io.LimitReader(r.Body, lendingRequestLimit))
	if err := decoder.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func requireAddressField(label, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%s address required", label)
	}
	if _, err := crypto.DecodeAddress(trimmed); err != nil {
		return "", fmt.Errorf("invalid %s address: %w", label, err)
	}
	return trimmed, nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, errors.New("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", trimmed)
	}
	if amount.Sign() <= 0 {
		return nil, errors.New("amount must be positive")
	}
	return amount, nil
}

// writeUpstreamError translates SDK failures into the REST error shape. Node
// rejections already carry an HTTP status on lend.Error; everything else is
// reported as a gateway-side failure.
func (lr *LendingRoutes) writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	var rpcErr *lend.Error
	switch {
	case errors.As(err, &rpcErr):
		status := rpcErr.HTTPStatus
		if status == 0 {
			status = http.StatusBadGateway
		}
		writeJSONError(w, status, errors.New(rpcErr.Message))
	case errors.Is(err, lend.ErrNoAuthToken):
		lr.logger.Error("node token missing for privileged call", "path", r.URL.Path)
		writeJSONError(w, http.StatusServiceUnavailable, errors.New("node credentials not configured"))
	case errors.Is(err, context.DeadlineExceeded):
		writeJSONError(w, http.StatusGatewayTimeout, errors.New("upstream timeout"))
	default:
		lr.logger.Error("lending upstream call failed", "path", r.URL.Path, "error", err)
		writeJSONError(w, http.StatusBadGateway, errors.New("upstream error"))
	}
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		writeInternalError(w, fmt.Errorf("marshal response: %w", err))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusInternalServerError, err)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	payload, marshalErr := json.Marshal(map[string]string{"error": message})
	if marshalErr != nil {
		replacer := strings.NewReplacer(
			"\\", "\\\\",
			"\"", "\\\"",
			"\n", "\\n",
			"\r", "\\r",
			"\t", "\\t",
		)
		fallback := fmt.Sprintf("{\"error\":\"%s\"}", replacer.Replace(message))
		payload = []byte(fallback)
	}
	_, _ = w.Write(payload)
}
