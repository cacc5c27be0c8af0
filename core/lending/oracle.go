package lending

import "math/big"

// PriceOracle supplies the collateral price consumed by the dynamic
// ratio checks. Prices are fixed point scaled by 1e8. Implementations
// keep their own observation history; ValidatePrice bounds a candidate
// against the last stored price.
type PriceOracle interface {
	Price() (*big.Int, error)
	LastUpdate() (uint64, error)
	ValidatePrice(candidate *big.Int) bool
}

// resolvePrice fetches the oracle price and applies the transient-error
// policy: a failed or deviation-rejected read substitutes the configured
// fallback price; a stale read is re-fetched once and then falls back.
// Each path records exactly one recovery attempt.
func (e *Engine) resolvePrice(principal string, now uint64) (*big.Int, error) {
	price, err := e.oracle.Price()
	if err != nil || price == nil || price.Sign() <= 0 {
		return e.fallbackPrice(principal, "price fetch failed", now, ErrOracleFailure)
	}
	if !e.oracle.ValidatePrice(price) {
		return e.fallbackPrice(principal, "price deviation out of bounds", now, ErrOracleFailure)
	}
	updated, err := e.oracle.LastUpdate()
	if err != nil {
		return e.fallbackPrice(principal, "price timestamp unavailable", now, ErrOracleFailure)
	}
	heartbeat := e.params.Oracle.HeartbeatSeconds
	if heartbeat == 0 || now <= updated || now-updated <= heartbeat {
		return price, nil
	}
	// Stale: force one re-fetch before giving up on the feed.
	price, err = e.oracle.Price()
	if err == nil && price != nil && price.Sign() > 0 && e.oracle.ValidatePrice(price) {
		if updated, err = e.oracle.LastUpdate(); err == nil && now-updated <= heartbeat {
			e.recordRecovery(principal, "resolvePrice", "stale price refreshed", now, ErrPriceStale, true)
			return price, nil
		}
	}
	return e.fallbackPrice(principal, "price stale beyond heartbeat", now, ErrPriceStale)
}

// fallbackPrice substitutes the configured fallback for a faulty feed.
// With no fallback configured the original error class surfaces.
func (e *Engine) fallbackPrice(principal, detail string, now uint64, cause error) (*big.Int, error) {
	fallback := e.params.Oracle.FallbackPrice
	if fallback != nil && fallback.Sign() > 0 {
		e.recordRecovery(principal, "resolvePrice", detail+"; fallback price substituted", now, cause, true)
		return new(big.Int).Set(fallback), nil
	}
	e.recordRecovery(principal, "resolvePrice", detail+"; no fallback configured", now, cause, false)
	return nil, cause
}
