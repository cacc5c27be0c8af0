package lending

import (
	"fmt"

	"vaultlend/crypto"
)

// The ledger helpers wrap engineState with the transient-storage policy:
// reads treat absence as a logical zero record, and every read or write
// fault gets one idempotent retry before ErrStorageError surfaces.

// loadPosition returns a mutable copy of the stored position, or a
// zeroed one when absent. existed reports which.
func (e *Engine) loadPosition(function string, addr crypto.Address, now uint64) (position *Position, existed bool, err error) {
	stored, err := e.state.GetPosition(addr)
	if err != nil {
		stored, err = e.state.GetPosition(addr)
		if err != nil {
			e.recordRecovery(addr.String(), function, "position read retry failed", now, ErrStorageError, false)
			return nil, false, fmt.Errorf("%w: load position: %v", ErrStorageError, err)
		}
		e.recordRecovery(addr.String(), function, "position read retried after storage fault", now, ErrStorageError, true)
	}
	if stored == nil {
		return NewPosition(addr), false, nil
	}
	position = stored.Clone()
	position.ensureDefaults()
	return position, true, nil
}

// loadRateState returns a mutable copy of the global rate state, zeroed
// when the protocol has no history yet.
func (e *Engine) loadRateState(function string, now uint64) (*InterestRateState, error) {
	stored, err := e.state.GetRateState()
	if err != nil {
		stored, err = e.state.GetRateState()
		if err != nil {
			e.recordRecovery("", function, "rate state read retry failed", now, ErrStorageError, false)
			return nil, fmt.Errorf("%w: load rate state: %v", ErrStorageError, err)
		}
		e.recordRecovery("", function, "rate state read retried after storage fault", now, ErrStorageError, true)
	}
	if stored == nil {
		return NewInterestRateState(), nil
	}
	state := stored.Clone()
	state.ensureDefaults()
	return state, nil
}

// loadReserves returns a mutable copy of the reserve accumulators.
func (e *Engine) loadReserves(function string, now uint64) (*ReserveData, error) {
	stored, err := e.state.GetReserves()
	if err != nil {
		stored, err = e.state.GetReserves()
		if err != nil {
			e.recordRecovery("", function, "reserve read retry failed", now, ErrStorageError, false)
			return nil, fmt.Errorf("%w: load reserves: %v", ErrStorageError, err)
		}
		e.recordRecovery("", function, "reserve read retried after storage fault", now, ErrStorageError, true)
	}
	if stored == nil {
		return NewReserveData(), nil
	}
	reserves := stored.Clone()
	reserves.ensureDefaults()
	return reserves, nil
}

// loadActivity returns a mutable copy of the principal's counters,
// zeroed when absent.
func (e *Engine) loadActivity(function string, addr crypto.Address, now uint64) (*ActivityCounters, error) {
	stored, err := e.state.GetActivity(addr)
	if err != nil {
		stored, err = e.state.GetActivity(addr)
		if err != nil {
			e.recordRecovery(addr.String(), function, "activity read retry failed", now, ErrStorageError, false)
			return nil, fmt.Errorf("%w: load activity: %v", ErrStorageError, err)
		}
		e.recordRecovery(addr.String(), function, "activity read retried after storage fault", now, ErrStorageError, true)
	}
	if stored == nil {
		return NewActivityCounters(addr), nil
	}
	counters := stored.Clone()
	counters.ensureDefaults()
	return counters, nil
}

// persistRecord writes through fn, retrying once on failure. The retry
// is safe because every write is an idempotent full-record overwrite.
func (e *Engine) persistRecord(principal, function, what string, now uint64, fn func() error) error {
	if err := fn(); err != nil {
		if retryErr := fn(); retryErr != nil {
			e.recordRecovery(principal, function, what+" write retry failed", now, ErrStorageError, false)
			return fmt.Errorf("%w: persist %s: %v", ErrStorageError, what, retryErr)
		}
		e.recordRecovery(principal, function, what+" write retried after storage fault", now, ErrStorageError, true)
	}
	return nil
}
