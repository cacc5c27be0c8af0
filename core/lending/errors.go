package lending

import "errors"

// Sentinel errors returned by the engine. They are exported so transport
// and service layers can classify outcomes with errors.Is instead of
// matching message text.
var (
	ErrInvalidAmount               = errors.New("lending engine: amount must be positive")
	ErrInvalidAddress              = errors.New("lending engine: invalid principal address")
	ErrInvalidInput                = errors.New("lending engine: invalid input")
	ErrUnauthorized                = errors.New("lending engine: principal not authorized")
	ErrNotAdmin                    = errors.New("lending engine: caller is not the admin")
	ErrComplianceViolation         = errors.New("lending engine: compliance violation")
	ErrInsufficientCollateral      = errors.New("lending engine: insufficient collateral")
	ErrInsufficientCollateralRatio = errors.New("lending engine: collateral ratio below minimum")
	ErrNotEligibleForLiquidation   = errors.New("lending engine: position not eligible for liquidation")
	ErrPositionNotFound            = errors.New("lending engine: position not found")
	ErrOracleFailure               = errors.New("lending engine: oracle failure")
	ErrPriceStale                  = errors.New("lending engine: oracle price stale")
	ErrNetworkError                = errors.New("lending engine: network error")
	ErrStorageError                = errors.New("lending engine: storage error")
	ErrRateLimited                 = errors.New("lending engine: rate limit exceeded")
	ErrReentrancyDetected          = errors.New("lending engine: reentrancy detected")
	ErrProtocolPaused              = errors.New("lending engine: operation paused")
	ErrConfigurationError          = errors.New("lending engine: invalid configuration")
	ErrDistributionTooSoon         = errors.New("lending engine: distribution frequency not elapsed")
)

// ErrorClass groups sentinel errors by handling policy. Validation,
// authorization, solvency and concurrency errors are fatal to the call;
// transient errors get exactly one bounded recovery attempt before they
// surface.
type ErrorClass string

const (
	ClassValidation    ErrorClass = "validation"
	ClassAuthorization ErrorClass = "authorization"
	ClassSolvency      ErrorClass = "solvency"
	ClassTransient     ErrorClass = "transient"
	ClassConcurrency   ErrorClass = "concurrency"
	ClassInternal      ErrorClass = "internal"
)

// Class reports the handling class for an engine error. Unrecognised
// errors classify as internal.
func Class(err error) ErrorClass {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidAddress),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrPositionNotFound),
		errors.Is(err, ErrProtocolPaused),
		errors.Is(err, ErrConfigurationError),
		errors.Is(err, ErrDistributionTooSoon):
		return ClassValidation
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrNotAdmin),
		errors.Is(err, ErrComplianceViolation):
		return ClassAuthorization
	case errors.Is(err, ErrInsufficientCollateral),
		errors.Is(err, ErrInsufficientCollateralRatio),
		errors.Is(err, ErrNotEligibleForLiquidation):
		return ClassSolvency
	case errors.Is(err, ErrOracleFailure),
		errors.Is(err, ErrPriceStale),
		errors.Is(err, ErrNetworkError),
		errors.Is(err, ErrStorageError),
		errors.Is(err, ErrRateLimited):
		return ClassTransient
	case errors.Is(err, ErrReentrancyDetected):
		return ClassConcurrency
	default:
		return ClassInternal
	}
}

// Recoverable reports whether the engine attempts a bounded, type-specific
// recovery before surfacing the error.
func Recoverable(err error) bool {
	return Class(err) == ClassTransient
}

// Code returns the stable short code used by the error log, metrics and
// the RPC layer.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidAddress):
		return "invalid_address"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotAdmin):
		return "not_admin"
	case errors.Is(err, ErrComplianceViolation):
		return "compliance_violation"
	case errors.Is(err, ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, ErrInsufficientCollateralRatio):
		return "insufficient_collateral_ratio"
	case errors.Is(err, ErrNotEligibleForLiquidation):
		return "not_eligible_for_liquidation"
	case errors.Is(err, ErrPositionNotFound):
		return "position_not_found"
	case errors.Is(err, ErrOracleFailure):
		return "oracle_failure"
	case errors.Is(err, ErrPriceStale):
		return "price_stale"
	case errors.Is(err, ErrNetworkError):
		return "network_error"
	case errors.Is(err, ErrStorageError):
		return "storage_error"
	case errors.Is(err, ErrRateLimited):
		return "rate_limit_exceeded"
	case errors.Is(err, ErrReentrancyDetected):
		return "reentrancy_detected"
	case errors.Is(err, ErrProtocolPaused):
		return "protocol_paused"
	case errors.Is(err, ErrConfigurationError):
		return "configuration_error"
	case errors.Is(err, ErrDistributionTooSoon):
		return "distribution_too_soon"
	default:
		return "internal"
	}
}
