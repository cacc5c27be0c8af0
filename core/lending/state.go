package lending

import "vaultlend/crypto"

// engineState is the persistence contract the engine mutates through.
// Get methods return nil without error when no record exists; Put
// methods are idempotent full-record overwrites. The production
// implementation lives in the state package and tests inject an
// in-memory double.
type engineState interface {
	GetPosition(addr crypto.Address) (*Position, error)
	PutPosition(position *Position) error
	RemovePosition(addr crypto.Address) error
	EachPosition(fn func(*Position) error) error

	GetRateState() (*InterestRateState, error)
	PutRateState(state *InterestRateState) error

	GetReserves() (*ReserveData, error)
	PutReserves(reserves *ReserveData) error

	GetParams() (*Params, error)
	PutParams(params *Params) error

	GetActivity(addr crypto.Address) (*ActivityCounters, error)
	PutActivity(counters *ActivityCounters) error
}
