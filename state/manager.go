package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"vaultlend/core/lending"
	"vaultlend/crypto"
	"vaultlend/storage"
)

// Manager persists lending records in a key-value store. It satisfies
// the engine's state contract: Get methods return nil without error
// when no record exists, Put methods overwrite the full record.
//
// The manager does not own the database handle. The daemon opens and
// closes the backend and may share it with other components.
type Manager struct {
	db storage.Database
}

// NewManager wraps a database handle.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// GetPosition loads the position for addr, or nil when absent.
func (m *Manager) GetPosition(addr crypto.Address) (*lending.Position, error) {
	raw, err := m.db.Get(positionKey(addr.Bytes()))
	if err == storage.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: load position: %w", err)
	}
	var stored storedPosition
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode position: %w", err)
	}
	return decodePosition(&stored)
}

// PutPosition stores the full position record.
func (m *Manager) PutPosition(position *lending.Position) error {
	if position == nil {
		return fmt.Errorf("state: position must not be nil")
	}
	if position.Address.IsZero() {
		return fmt.Errorf("state: position requires an address")
	}
	stored, err := encodePosition(position)
	if err != nil {
		return err
	}
	raw, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return fmt.Errorf("state: encode position: %w", err)
	}
	return m.db.Put(positionKey(position.Address.Bytes()), raw)
}

// RemovePosition deletes the position for addr. Removing an absent
// position is not an error.
func (m *Manager) RemovePosition(addr crypto.Address) error {
	return m.db.Delete(positionKey(addr.Bytes()))
}

// EachPosition walks every stored position in key order. Returning an
// error from fn stops the walk and surfaces the error.
func (m *Manager) EachPosition(fn func(*lending.Position) error) error {
	return m.db.Iterate(positionPrefix, func(key, value []byte) error {
		var stored storedPosition
		if err := rlp.DecodeBytes(value, &stored); err != nil {
			return fmt.Errorf("state: decode position %x: %w", key, err)
		}
		position, err := decodePosition(&stored)
		if err != nil {
			return err
		}
		return fn(position)
	})
}

// GetRateState loads the shared rate record, or nil when absent.
func (m *Manager) GetRateState() (*lending.InterestRateState, error) {
	raw, err := m.db.Get(rateStateKey)
	if err == storage.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: load rates: %w", err)
	}
	var stored storedRateState
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode rates: %w", err)
	}
	return decodeRateState(&stored), nil
}

// PutRateState stores the shared rate record.
func (m *Manager) PutRateState(state *lending.InterestRateState) error {
	if state == nil {
		return fmt.Errorf("state: rate state must not be nil")
	}
	stored, err := encodeRateState(state)
	if err != nil {
		return err
	}
	raw, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return fmt.Errorf("state: encode rates: %w", err)
	}
	return m.db.Put(rateStateKey, raw)
}

// GetReserves loads the protocol reserve record, or nil when absent.
func (m *Manager) GetReserves() (*lending.ReserveData, error) {
	raw, err := m.db.Get(reservesKey)
	if err == storage.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: load reserves: %w", err)
	}
	var stored storedReserves
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode reserves: %w", err)
	}
	return decodeReserves(&stored), nil
}

// PutReserves stores the protocol reserve record.
func (m *Manager) PutReserves(reserves *lending.ReserveData) error {
	if reserves == nil {
		return fmt.Errorf("state: reserves must not be nil")
	}
	stored, err := encodeReserves(reserves)
	if err != nil {
		return err
	}
	raw, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return fmt.Errorf("state: encode reserves: %w", err)
	}
	return m.db.Put(reservesKey, raw)
}

// GetParams loads the governing parameters, or nil when none were
// persisted yet.
func (m *Manager) GetParams() (*lending.Params, error) {
	raw, err := m.db.Get(paramsKey)
	if err == storage.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: load params: %w", err)
	}
	var stored storedParams
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode params: %w", err)
	}
	return decodeParams(&stored)
}

// PutParams stores the governing parameters.
func (m *Manager) PutParams(params *lending.Params) error {
	if params == nil {
		return fmt.Errorf("state: params must not be nil")
	}
	stored, err := encodeParams(params)
	if err != nil {
		return err
	}
	raw, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return fmt.Errorf("state: encode params: %w", err)
	}
	return m.db.Put(paramsKey, raw)
}

// GetActivity loads the activity counters for addr, or nil when absent.
func (m *Manager) GetActivity(addr crypto.Address) (*lending.ActivityCounters, error) {
	raw, err := m.db.Get(activityKey(addr.Bytes()))
	if err == storage.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: load activity: %w", err)
	}
	var stored storedActivity
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode activity: %w", err)
	}
	return decodeActivity(&stored)
}

// PutActivity stores the activity counters.
func (m *Manager) PutActivity(counters *lending.ActivityCounters) error {
	if counters == nil {
		return fmt.Errorf("state: activity must not be nil")
	}
	if counters.Address.IsZero() {
		return fmt.Errorf("state: activity requires an address")
	}
	stored, err := encodeActivity(counters)
	if err != nil {
		return err
	}
	raw, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return fmt.Errorf("state: encode activity: %w", err)
	}
	return m.db.Put(activityKey(counters.Address.Bytes()), raw)
}
