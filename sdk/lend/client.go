package lend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"vaultlend/core/lending"
	"vaultlend/crypto"
)

// Responses larger than this are treated as corrupt rather than read
// into memory.
const maxResponseBytes = 8 << 20

// ErrNoAuthToken is returned when a privileged call is attempted on a
// client constructed without an auth token.
var ErrNoAuthToken = errors.New("lend sdk: privileged call requires an auth token")

// Error is a JSON-RPC error returned by the lending node. Data carries
// the engine's stable short code when the failure originated there, so
// callers can branch without matching message text.
type Error struct {
	HTTPStatus int
	Code       int
	Message    string
	Data       string
}

func (e *Error) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("lend rpc: %s (code %d, %s)", e.Message, e.Code, e.Data)
	}
	return fmt.Sprintf("lend rpc: %s (code %d)", e.Message, e.Code)
}

// Client provides typed helpers over the lending node's JSON-RPC API.
type Client struct {
	endpoint   string
	authToken  string
	httpClient *http.Client
	nextID     atomic.Uint64
}

// Option mutates the client configuration during construction.
type Option func(*Client)

// WithAuthToken attaches a bearer token to every request. Mutations and
// compliance reads fail client-side without one.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = strings.TrimSpace(token)
	}
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// New constructs a client pointed at the node's RPC endpoint. The
// default transport is instrumented with otelhttp so client spans line
// up with the node's own telemetry.
func New(endpoint string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("endpoint required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("endpoint scheme must be http or https")
	}
	client := &Client{
		endpoint:   trimmed,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = http.DefaultClient
	}
	return client, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *wireError      `json:"error"`
}

type wireError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *wireError) toError(status int) *Error {
	wrapped := &Error{HTTPStatus: status, Code: e.Code, Message: e.Message}
	var data string
	if len(e.Data) > 0 && json.Unmarshal(e.Data, &data) == nil {
		wrapped.Data = data
	}
	return wrapped
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if c == nil {
		return fmt.Errorf("lend client not initialised")
	}
	if params == nil {
		params = []interface{}{}
	}
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var envelope rpcEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &Error{HTTPStatus: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error.toError(resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return &Error{HTTPStatus: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func (c *Client) privileged() error {
	if c == nil {
		return fmt.Errorf("lend client not initialised")
	}
	if c.authToken == "" {
		return ErrNoAuthToken
	}
	return nil
}

// requireAddress trims and validates a bech32 principal so malformed
// input fails before the wire.
func requireAddress(label, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%s required", label)
	}
	if _, err := crypto.DecodeAddress(trimmed); err != nil {
		return "", fmt.Errorf("invalid %s: %w", label, err)
	}
	return trimmed, nil
}

// AccruedInterest reports interest owed and earned since an account's
// position opened.
type AccruedInterest struct {
	Address        string   `json:"address"`
	BorrowInterest *big.Int `json:"borrowInterest"`
	SupplyInterest *big.Int `json:"supplyInterest"`
}

// ProtocolParams mirrors the node's lend_getParams result.
type ProtocolParams struct {
	Admin                 string                     `json:"admin"`
	Treasury              string                     `json:"treasury"`
	MinCollateralRatio    int64                      `json:"minCollateralRatio"`
	InterestRate          lending.InterestRateConfig `json:"interestRate"`
	Risk                  lending.RiskConfig         `json:"risk"`
	Oracle                lending.OracleConfig       `json:"oracle"`
	LargeTxThreshold      *big.Int                   `json:"largeTxThreshold"`
	DistributionFrequency uint64                     `json:"distributionFrequency"`
}

// Position fetches the collateral and debt snapshot for one account.
func (c *Client) Position(ctx context.Context, address string) (lending.PositionView, error) {
	addr, err := requireAddress("address", address)
	if err != nil {
		return lending.PositionView{}, err
	}
	var view lending.PositionView
	if err := c.call(ctx, "lend_getPosition", []interface{}{addr}, &view); err != nil {
		return lending.PositionView{}, err
	}
	return view, nil
}

// Rates fetches the current borrow, supply and utilization rates.
func (c *Client) Rates(ctx context.Context) (lending.RatesView, error) {
	var view lending.RatesView
	if err := c.call(ctx, "lend_getRates", nil, &view); err != nil {
		return lending.RatesView{}, err
	}
	return view, nil
}

// Reserves fetches the protocol fee and reserve snapshot.
func (c *Client) Reserves(ctx context.Context) (lending.ReservesView, error) {
	var view lending.ReservesView
	if err := c.call(ctx, "lend_getReserves", nil, &view); err != nil {
		return lending.ReservesView{}, err
	}
	return view, nil
}

// Activity fetches the lifetime activity counters for one account.
func (c *Client) Activity(ctx context.Context, address string) (lending.ActivityView, error) {
	addr, err := requireAddress("address", address)
	if err != nil {
		return lending.ActivityView{}, err
	}
	var view lending.ActivityView
	if err := c.call(ctx, "lend_getActivity", []interface{}{addr}, &view); err != nil {
		return lending.ActivityView{}, err
	}
	return view, nil
}

// AccruedInterest reports the interest accrued against one account.
func (c *Client) AccruedInterest(ctx context.Context, address string) (AccruedInterest, error) {
	addr, err := requireAddress("address", address)
	if err != nil {
		return AccruedInterest{}, err
	}
	var result AccruedInterest
	if err := c.call(ctx, "lend_getAccruedInterest", []interface{}{addr}, &result); err != nil {
		return AccruedInterest{}, err
	}
	return result, nil
}

// Params fetches the live protocol parameters.
func (c *Client) Params(ctx context.Context) (ProtocolParams, error) {
	var result ProtocolParams
	if err := c.call(ctx, "lend_getParams", nil, &result); err != nil {
		return ProtocolParams{}, err
	}
	return result, nil
}

// RecentErrors fetches up to limit recent engine failures, newest
// first.
func (c *Client) RecentErrors(ctx context.Context, limit int) ([]lending.ErrorContext, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	var entries []lending.ErrorContext
	if err := c.call(ctx, "lend_recentErrors", []interface{}{limit}, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ErrorStats fetches the aggregate error counters.
func (c *Client) ErrorStats(ctx context.Context) (lending.ErrorAnalytics, error) {
	var stats lending.ErrorAnalytics
	if err := c.call(ctx, "lend_errorStats", nil, &stats); err != nil {
		return lending.ErrorAnalytics{}, err
	}
	return stats, nil
}
