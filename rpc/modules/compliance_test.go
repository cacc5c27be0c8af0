package modules

import (
	"math/big"
	"net/http"
	"testing"

	"vaultlend/compliance"
	"vaultlend/storage"
)

func TestComplianceModuleMutationsReadBackRecord(t *testing.T) {
	registry := compliance.NewRegistry(storage.NewMemDB())
	module := NewComplianceModule(registry)
	addr := testAddr(0x11)

	record, modErr := module.SetKYCStatus(addr, compliance.KYCVerified)
	if modErr != nil {
		t.Fatalf("set kyc status: %+v", modErr)
	}
	if record.Address != addr.String() || record.Status != "verified" {
		t.Fatalf("unexpected record: %+v", record)
	}

	record, modErr = module.Freeze(addr)
	if modErr != nil {
		t.Fatalf("freeze: %+v", modErr)
	}
	if !record.Frozen || record.Status != "verified" {
		t.Fatalf("expected frozen verified record, got %+v", record)
	}

	record, modErr = module.Blacklist(addr)
	if modErr != nil {
		t.Fatalf("blacklist: %+v", modErr)
	}
	if !record.Blacklisted {
		t.Fatalf("expected blacklisted record, got %+v", record)
	}

	record, modErr = module.Unfreeze(addr)
	if modErr != nil {
		t.Fatalf("unfreeze: %+v", modErr)
	}
	if record.Frozen || !record.Blacklisted {
		t.Fatalf("expected unfrozen blacklisted record, got %+v", record)
	}
}

func TestComplianceModuleListClonesFlagAmounts(t *testing.T) {
	registry := compliance.NewRegistry(storage.NewMemDB())
	module := NewComplianceModule(registry)
	addr := testAddr(0x12)

	registry.FlagIfLarge(addr, big.NewInt(5_000_000_000), "deposit")

	records, modErr := module.List()
	if modErr != nil {
		t.Fatalf("list: %+v", modErr)
	}
	if len(records) != 1 || len(records[0].Flags) != 1 {
		t.Fatalf("expected one flagged record, got %+v", records)
	}

	flag := records[0].Flags[0]
	if flag.Action != "deposit" || flag.Amount.Cmp(big.NewInt(5_000_000_000)) != 0 {
		t.Fatalf("unexpected flag: %+v", flag)
	}
	flag.Amount.SetInt64(1)

	status, modErr := module.Status(addr)
	if modErr != nil {
		t.Fatalf("status: %+v", modErr)
	}
	if status.Flags[0].Amount.Cmp(big.NewInt(5_000_000_000)) != 0 {
		t.Fatalf("mutating a listed flag must not reach the stored record")
	}
}

func TestComplianceModuleUnavailableWithoutRegistry(t *testing.T) {
	var module *ComplianceModule
	if _, modErr := module.Status(testAddr(0x13)); modErr == nil || modErr.HTTPStatus != http.StatusServiceUnavailable {
		t.Fatalf("expected unavailable error, got %+v", modErr)
	}

	empty := NewComplianceModule(nil)
	if _, modErr := empty.List(); modErr == nil || modErr.HTTPStatus != http.StatusServiceUnavailable {
		t.Fatalf("expected unavailable error, got %+v", modErr)
	}
}
