package lending

import (
	"math/big"

	"vaultlend/crypto"
)

// ComplianceGate screens principals before any state mutation. A nil
// gate on the engine permits everything; production wiring injects the
// registry-backed implementation.
type ComplianceGate interface {
	// IsAuthorized reports whether the principal passed KYC and is not
	// blacklisted.
	IsAuthorized(principal crypto.Address) bool
	// IsFrozen reports an administrative freeze on the account.
	IsFrozen(principal crypto.Address) bool
	// FlagIfLarge records a review marker for large transactions. It is
	// side-effecting only and never blocks the operation.
	FlagIfLarge(principal crypto.Address, amount *big.Int, action string)
}

// checkCompliance runs the gate for a mutating operation. Authorization
// failures surface as ErrUnauthorized, freezes as the more specific
// ErrComplianceViolation.
func (e *Engine) checkCompliance(principal crypto.Address, amount *big.Int, action string) error {
	if e.compliance == nil {
		return nil
	}
	if !e.compliance.IsAuthorized(principal) {
		return ErrUnauthorized
	}
	if e.compliance.IsFrozen(principal) {
		return ErrComplianceViolation
	}
	threshold := e.params.LargeTxThreshold
	if threshold != nil && threshold.Sign() > 0 && amount != nil && amount.Cmp(threshold) >= 0 {
		e.compliance.FlagIfLarge(principal, amount, action)
	}
	return nil
}
