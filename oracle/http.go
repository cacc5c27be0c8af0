package oracle

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPFeed fetches price observations from a JSON endpoint returning
// {"price": "<decimal>", "timestamp": <unix seconds>}. The price field
// accepts either a decimal string or a JSON number.
type HTTPFeed struct {
	client    HTTPDoer
	endpoint  string
	authToken string
	source    string
}

// NewHTTPFeed constructs an HTTP feed adapter. When the client is nil a
// traced default client with a ten second timeout is used. The auth
// token is optional and sent as a bearer header when supplied.
func NewHTTPFeed(client HTTPDoer, endpoint, authToken, source string) *HTTPFeed {
	if client == nil {
		client = &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if strings.TrimSpace(source) == "" {
		source = "http"
	}
	return &HTTPFeed{
		client:    client,
		endpoint:  strings.TrimSpace(endpoint),
		authToken: strings.TrimSpace(authToken),
		source:    source,
	}
}

// Quote fetches and decodes one observation from the endpoint.
func (f *HTTPFeed) Quote() (Quote, error) {
	if f == nil || f.endpoint == "" {
		return Quote{}, fmt.Errorf("http feed not configured")
	}
	req, err := http.NewRequest(http.MethodGet, f.endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Accept", "application/json")
	if f.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+f.authToken)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("http feed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("http feed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Price     json.Number `json:"price"`
		Timestamp int64       `json:"timestamp"`
	}
	decoder := json.NewDecoder(io.LimitReader(resp.Body, 4096))
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("http feed: decode: %w", err)
	}
	fixed, err := ParseDecimalPrice(payload.Price.String())
	if err != nil {
		return Quote{}, fmt.Errorf("http feed: %w", err)
	}
	ts := time.Now().UTC()
	if payload.Timestamp > 0 {
		ts = time.Unix(payload.Timestamp, 0).UTC()
	}
	return Quote{Price: fixed, Timestamp: ts, Source: f.source}, nil
}

// ParseDecimalPrice converts a positive decimal string into the 1e8
// fixed point representation, truncating excess precision.
func ParseDecimalPrice(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("empty price")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("invalid price %q", raw)
	}
	if rat.Sign() <= 0 {
		return nil, fmt.Errorf("price must be positive")
	}
	fixed := new(big.Int).Mul(rat.Num(), big.NewInt(100_000_000))
	fixed.Quo(fixed, rat.Denom())
	if fixed.Sign() <= 0 {
		return nil, fmt.Errorf("price %q underflows fixed point scale", raw)
	}
	return fixed, nil
}
