package lend

import (
	"context"
	"fmt"
	"math/big"
	"strings"
)

// ComplianceRecord mirrors the registry's JSON record for one account.
type ComplianceRecord struct {
	Address     string           `json:"address"`
	Status      string           `json:"status"`
	Blacklisted bool             `json:"blacklisted"`
	Frozen      bool             `json:"frozen"`
	Flags       []ComplianceFlag `json:"flags"`
	UpdatedAt   uint64           `json:"updatedAt"`
}

// ComplianceFlag is a large-transaction marker attached to a record.
type ComplianceFlag struct {
	Action    string   `json:"action"`
	Amount    *big.Int `json:"amount"`
	Timestamp uint64   `json:"timestamp"`
}

type kycParams struct {
	Address string `json:"address"`
	Status  string `json:"status"`
}

// ComplianceStatus fetches the registry record for one account. The
// node guards compliance reads behind the bearer token.
func (c *Client) ComplianceStatus(ctx context.Context, address string) (ComplianceRecord, error) {
	if err := c.privileged(); err != nil {
		return ComplianceRecord{}, err
	}
	addr, err := requireAddress("address", address)
	if err != nil {
		return ComplianceRecord{}, err
	}
	var record ComplianceRecord
	if err := c.call(ctx, "compliance_status", []interface{}{addr}, &record); err != nil {
		return ComplianceRecord{}, err
	}
	return record, nil
}

// ComplianceList enumerates every registry record.
func (c *Client) ComplianceList(ctx context.Context) ([]ComplianceRecord, error) {
	if err := c.privileged(); err != nil {
		return nil, err
	}
	var records []ComplianceRecord
	if err := c.call(ctx, "compliance_list", nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// SetKYCStatus moves an account through the verification ladder.
// Status is one of unverified, pending, verified or rejected.
func (c *Client) SetKYCStatus(ctx context.Context, address, status string) (ComplianceRecord, error) {
	if err := c.privileged(); err != nil {
		return ComplianceRecord{}, err
	}
	addr, err := requireAddress("address", address)
	if err != nil {
		return ComplianceRecord{}, err
	}
	trimmed := strings.TrimSpace(status)
	if trimmed == "" {
		return ComplianceRecord{}, fmt.Errorf("status required")
	}
	var record ComplianceRecord
	if err := c.call(ctx, "compliance_setKYCStatus", []interface{}{kycParams{Address: addr, Status: trimmed}}, &record); err != nil {
		return ComplianceRecord{}, err
	}
	return record, nil
}

// Freeze blocks an account from mutating its position.
func (c *Client) Freeze(ctx context.Context, address string) (ComplianceRecord, error) {
	return c.complianceToggle(ctx, "compliance_freeze", address)
}

// Unfreeze lifts a freeze.
func (c *Client) Unfreeze(ctx context.Context, address string) (ComplianceRecord, error) {
	return c.complianceToggle(ctx, "compliance_unfreeze", address)
}

// Blacklist bars an account from the protocol entirely.
func (c *Client) Blacklist(ctx context.Context, address string) (ComplianceRecord, error) {
	return c.complianceToggle(ctx, "compliance_blacklist", address)
}

// Unblacklist restores a previously barred account.
func (c *Client) Unblacklist(ctx context.Context, address string) (ComplianceRecord, error) {
	return c.complianceToggle(ctx, "compliance_unblacklist", address)
}

func (c *Client) complianceToggle(ctx context.Context, method, address string) (ComplianceRecord, error) {
	if err := c.privileged(); err != nil {
		return ComplianceRecord{}, err
	}
	addr, err := requireAddress("address", address)
	if err != nil {
		return ComplianceRecord{}, err
	}
	var record ComplianceRecord
	if err := c.call(ctx, method, []interface{}{addr}, &record); err != nil {
		return ComplianceRecord{}, err
	}
	return record, nil
}
