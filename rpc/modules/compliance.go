package modules

import (
	"errors"
	"math/big"
	"net/http"

	"vaultlend/compliance"
	"vaultlend/crypto"
)

// ComplianceModule exposes the registry over RPC. Mutations read the
// record back so callers see the state they produced.
type ComplianceModule struct {
	registry *compliance.Registry
}

func NewComplianceModule(registry *compliance.Registry) *ComplianceModule {
	return &ComplianceModule{registry: registry}
}

func (m *ComplianceModule) moduleUnavailable() *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusServiceUnavailable, Code: codeServerError, Message: "compliance registry not configured"}
}

// RecordResult is the JSON form of a compliance record.
type RecordResult struct {
	Address     string       `json:"address"`
	Status      string       `json:"status"`
	Blacklisted bool         `json:"blacklisted"`
	Frozen      bool         `json:"frozen"`
	Flags       []FlagResult `json:"flags,omitempty"`
	UpdatedAt   uint64       `json:"updatedAt,omitempty"`
}

// FlagResult is a single large-transaction marker.
type FlagResult struct {
	Action    string   `json:"action"`
	Amount    *big.Int `json:"amount"`
	Timestamp uint64   `json:"timestamp"`
}

func (m *ComplianceModule) SetKYCStatus(addr crypto.Address, status compliance.KYCStatus) (RecordResult, *ModuleError) {
	return m.mutate(addr, func() error {
		return m.registry.SetKYCStatus(addr, status)
	})
}

func (m *ComplianceModule) Freeze(addr crypto.Address) (RecordResult, *ModuleError) {
	return m.mutate(addr, func() error {
		return m.registry.Freeze(addr)
	})
}

func (m *ComplianceModule) Unfreeze(addr crypto.Address) (RecordResult, *ModuleError) {
	return m.mutate(addr, func() error {
		return m.registry.Unfreeze(addr)
	})
}

func (m *ComplianceModule) Blacklist(addr crypto.Address) (RecordResult, *ModuleError) {
	return m.mutate(addr, func() error {
		return m.registry.AddToBlacklist(addr)
	})
}

func (m *ComplianceModule) Unblacklist(addr crypto.Address) (RecordResult, *ModuleError) {
	return m.mutate(addr, func() error {
		return m.registry.RemoveFromBlacklist(addr)
	})
}

func (m *ComplianceModule) Status(addr crypto.Address) (RecordResult, *ModuleError) {
	if m == nil || m.registry == nil {
		return RecordResult{}, m.moduleUnavailable()
	}
	record, err := m.registry.Status(addr)
	if err != nil {
		return RecordResult{}, m.wrapError(err)
	}
	return formatRecord(record), nil
}

func (m *ComplianceModule) List() ([]RecordResult, *ModuleError) {
	if m == nil || m.registry == nil {
		return nil, m.moduleUnavailable()
	}
	results := []RecordResult{}
	err := m.registry.EachRecord(func(record compliance.Record) error {
		results = append(results, formatRecord(record))
		return nil
	})
	if err != nil {
		return nil, m.wrapError(err)
	}
	return results, nil
}

func (m *ComplianceModule) mutate(addr crypto.Address, fn func() error) (RecordResult, *ModuleError) {
	if m == nil || m.registry == nil {
		return RecordResult{}, m.moduleUnavailable()
	}
	if err := fn(); err != nil {
		return RecordResult{}, m.wrapError(err)
	}
	record, err := m.registry.Status(addr)
	if err != nil {
		return RecordResult{}, m.wrapError(err)
	}
	return formatRecord(record), nil
}

func (m *ComplianceModule) wrapError(err error) *ModuleError {
	if err == nil {
		return nil
	}
	status := http.StatusInternalServerError
	code := codeServerError
	if errors.Is(err, compliance.ErrRegistryNotReady) {
		status = http.StatusServiceUnavailable
	}
	return &ModuleError{HTTPStatus: status, Code: code, Message: err.Error()}
}

func formatRecord(record compliance.Record) RecordResult {
	result := RecordResult{
		Status:      record.Status.String(),
		Blacklisted: record.Blacklisted,
		Frozen:      record.Frozen,
		UpdatedAt:   record.UpdatedAt,
	}
	if !record.Address.IsZero() {
		result.Address = record.Address.String()
	}
	if len(record.Flags) > 0 {
		result.Flags = make([]FlagResult, len(record.Flags))
		for i, flag := range record.Flags {
			amount := big.NewInt(0)
			if flag.Amount != nil {
				amount = new(big.Int).Set(flag.Amount)
			}
			result.Flags[i] = FlagResult{Action: flag.Action, Amount: amount, Timestamp: flag.Timestamp}
		}
	}
	return result
}
