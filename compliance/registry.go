package compliance

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"vaultlend/crypto"
	"vaultlend/storage"
)

// KYCStatus enumerates the verification states a principal moves
// through before the gate authorizes lending operations.
type KYCStatus uint8

const (
	KYCUnverified KYCStatus = iota
	KYCPending
	KYCVerified
	KYCRejected
)

// String renders the status for logs and RPC payloads.
func (s KYCStatus) String() string {
	switch s {
	case KYCUnverified:
		return "unverified"
	case KYCPending:
		return "pending"
	case KYCVerified:
		return "verified"
	case KYCRejected:
		return "rejected"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ParseKYCStatus maps the wire form back to a status.
func ParseKYCStatus(raw string) (KYCStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "unverified":
		return KYCUnverified, nil
	case "pending":
		return KYCPending, nil
	case "verified":
		return KYCVerified, nil
	case "rejected":
		return KYCRejected, nil
	default:
		return KYCUnverified, fmt.Errorf("compliance: unknown kyc status %q", raw)
	}
}

// Flag records one large-transaction review marker.
type Flag struct {
	Action    string
	Amount    *big.Int
	Timestamp uint64
}

// Record is the per-principal compliance state. A principal with no
// stored record reads as the zero record: unverified, not blacklisted,
// not frozen.
type Record struct {
	Address     crypto.Address
	Status      KYCStatus
	Blacklisted bool
	Frozen      bool
	Flags       []Flag
	UpdatedAt   uint64
}

// ErrRegistryNotReady marks calls against an unconfigured registry.
var ErrRegistryNotReady = errors.New("compliance: registry not initialised")

const flagCap = 32

var accountPrefix = []byte("compliance/account/")

func accountKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return buf
}

type storedFlag struct {
	Action    string
	Amount    *uint256.Int
	Timestamp uint64
}

type storedRecord struct {
	Status      uint8
	Blacklisted bool
	Frozen      bool
	Flags       []storedFlag
	UpdatedAt   uint64
}

// Registry persists per-principal compliance state and implements the
// lending engine's compliance gate. Gate predicates fail closed: a
// storage fault reads as unauthorized and frozen.
type Registry struct {
	mu  sync.Mutex
	db  storage.Database
	now func() uint64
}

// NewRegistry wraps a database handle.
func NewRegistry(db storage.Database) *Registry {
	return &Registry{
		db:  db,
		now: func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetClock overrides the timestamp source.
func (r *Registry) SetClock(now func() uint64) {
	if r == nil || now == nil {
		return
	}
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// IsAuthorized reports whether the principal passed KYC and is not
// blacklisted.
func (r *Registry) IsAuthorized(principal crypto.Address) bool {
	record, err := r.Status(principal)
	if err != nil {
		return false
	}
	return record.Status == KYCVerified && !record.Blacklisted
}

// IsFrozen reports an administrative freeze on the account.
func (r *Registry) IsFrozen(principal crypto.Address) bool {
	record, err := r.Status(principal)
	if err != nil {
		return true
	}
	return record.Frozen
}

// FlagIfLarge appends a bounded review marker. It is best effort and
// never blocks the calling operation.
func (r *Registry) FlagIfLarge(principal crypto.Address, amount *big.Int, action string) {
	if r == nil || amount == nil {
		return
	}
	_ = r.mutate(principal, func(record *Record) error {
		record.Flags = append(record.Flags, Flag{
			Action:    action,
			Amount:    new(big.Int).Set(amount),
			Timestamp: r.now(),
		})
		if len(record.Flags) > flagCap {
			record.Flags = record.Flags[len(record.Flags)-flagCap:]
		}
		return nil
	})
}

// SetKYCStatus records the verification outcome for a principal.
func (r *Registry) SetKYCStatus(principal crypto.Address, status KYCStatus) error {
	if status > KYCRejected {
		return fmt.Errorf("compliance: invalid kyc status %d", status)
	}
	return r.mutate(principal, func(record *Record) error {
		record.Status = status
		return nil
	})
}

// Freeze places an administrative hold on the account.
func (r *Registry) Freeze(principal crypto.Address) error {
	return r.mutate(principal, func(record *Record) error {
		record.Frozen = true
		return nil
	})
}

// Unfreeze lifts an administrative hold.
func (r *Registry) Unfreeze(principal crypto.Address) error {
	return r.mutate(principal, func(record *Record) error {
		record.Frozen = false
		return nil
	})
}

// AddToBlacklist bars the principal from authorization regardless of
// KYC status.
func (r *Registry) AddToBlacklist(principal crypto.Address) error {
	return r.mutate(principal, func(record *Record) error {
		record.Blacklisted = true
		return nil
	})
}

// RemoveFromBlacklist clears the bar.
func (r *Registry) RemoveFromBlacklist(principal crypto.Address) error {
	return r.mutate(principal, func(record *Record) error {
		record.Blacklisted = false
		return nil
	})
}

// Status fetches a snapshot of the stored record. Absent records read
// as the zero record for the address.
func (r *Registry) Status(principal crypto.Address) (Record, error) {
	if r == nil || r.db == nil {
		return Record{}, ErrRegistryNotReady
	}
	if principal.IsZero() {
		return Record{}, fmt.Errorf("compliance: principal required")
	}
	raw, err := r.db.Get(accountKey(principal.Bytes()))
	if err == storage.ErrNotFound {
		return Record{Address: principal}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("compliance: load record: %w", err)
	}
	var stored storedRecord
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return Record{}, fmt.Errorf("compliance: decode record: %w", err)
	}
	return decodeRecord(principal, &stored), nil
}

// EachRecord walks every stored compliance record.
func (r *Registry) EachRecord(fn func(Record) error) error {
	if r == nil || r.db == nil {
		return ErrRegistryNotReady
	}
	return r.db.Iterate(accountPrefix, func(key, value []byte) error {
		rawAddr := key[len(accountPrefix):]
		if len(rawAddr) != crypto.AddressLength {
			return fmt.Errorf("compliance: malformed record key %x", key)
		}
		var stored storedRecord
		if err := rlp.DecodeBytes(value, &stored); err != nil {
			return fmt.Errorf("compliance: decode record %x: %w", key, err)
		}
		return fn(decodeRecord(crypto.NewAddress(rawAddr), &stored))
	})
}

func (r *Registry) mutate(principal crypto.Address, fn func(*Record) error) error {
	if r == nil || r.db == nil {
		return ErrRegistryNotReady
	}
	if principal.IsZero() {
		return fmt.Errorf("compliance: principal required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	record, err := r.Status(principal)
	if err != nil {
		return err
	}
	if err := fn(&record); err != nil {
		return err
	}
	record.UpdatedAt = r.now()
	stored, err := encodeRecord(&record)
	if err != nil {
		return err
	}
	raw, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return fmt.Errorf("compliance: encode record: %w", err)
	}
	return r.db.Put(accountKey(principal.Bytes()), raw)
}

func encodeRecord(record *Record) (*storedRecord, error) {
	flags := make([]storedFlag, 0, len(record.Flags))
	for _, flag := range record.Flags {
		amount := uint256.NewInt(0)
		if flag.Amount != nil {
			if flag.Amount.Sign() < 0 {
				return nil, fmt.Errorf("compliance: flag amount must not be negative")
			}
			converted, overflow := uint256.FromBig(flag.Amount)
			if overflow {
				return nil, fmt.Errorf("compliance: flag amount overflow")
			}
			amount = converted
		}
		flags = append(flags, storedFlag{
			Action:    flag.Action,
			Amount:    amount,
			Timestamp: flag.Timestamp,
		})
	}
	return &storedRecord{
		Status:      uint8(record.Status),
		Blacklisted: record.Blacklisted,
		Frozen:      record.Frozen,
		Flags:       flags,
		UpdatedAt:   record.UpdatedAt,
	}, nil
}

func decodeRecord(addr crypto.Address, stored *storedRecord) Record {
	flags := make([]Flag, 0, len(stored.Flags))
	for _, flag := range stored.Flags {
		amount := big.NewInt(0)
		if flag.Amount != nil {
			amount = flag.Amount.ToBig()
		}
		flags = append(flags, Flag{
			Action:    flag.Action,
			Amount:    amount,
			Timestamp: flag.Timestamp,
		})
	}
	return Record{
		Address:     addr,
		Status:      KYCStatus(stored.Status),
		Blacklisted: stored.Blacklisted,
		Frozen:      stored.Frozen,
		Flags:       flags,
		UpdatedAt:   stored.UpdatedAt,
	}
}
