package oracle

import (
	"fmt"
	"math/big"
	"sync"
	"time"
)

// Manual is an in-memory feed used for tests and operator overrides
// during incident response.
type Manual struct {
	mu    sync.RWMutex
	quote Quote
	set   bool
}

// NewManual constructs an empty manual feed.
func NewManual() *Manual {
	return &Manual{}
}

// Set records the supplied price with the given timestamp.
func (m *Manual) Set(price *big.Int, ts time.Time) {
	if m == nil || price == nil {
		return
	}
	m.mu.Lock()
	m.quote = Quote{Price: new(big.Int).Set(price), Timestamp: ts, Source: "manual"}
	m.set = true
	m.mu.Unlock()
}

// SetDecimal parses a decimal price string, converts it to 1e8 fixed
// point and stores it.
func (m *Manual) SetDecimal(price string, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("manual feed not configured")
	}
	fixed, err := ParseDecimalPrice(price)
	if err != nil {
		return err
	}
	m.Set(fixed, ts)
	return nil
}

// Quote returns the stored observation.
func (m *Manual) Quote() (Quote, error) {
	if m == nil {
		return Quote{}, fmt.Errorf("manual feed not configured")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.set {
		return Quote{}, fmt.Errorf("manual feed: no price set")
	}
	return m.quote.Clone(), nil
}
