package compliance

import (
	"math/big"
	"testing"

	"vaultlend/crypto"
	"vaultlend/storage"
)

func testAddress(suffix byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[crypto.AddressLength-1] = suffix
	return crypto.NewAddress(raw)
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	reg := NewRegistry(db)
	reg.SetClock(func() uint64 { return 1_700_000_000 })
	return reg
}

func TestAbsentAccountReadsAsUnverified(t *testing.T) {
	reg := newTestRegistry(t)
	addr := testAddress(0x01)

	record, err := reg.Status(addr)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if record.Status != KYCUnverified {
		t.Fatalf("expected unverified, got %s", record.Status)
	}
	if record.Blacklisted || record.Frozen {
		t.Fatalf("expected clean zero record, got %+v", record)
	}
	if reg.IsAuthorized(addr) {
		t.Fatal("unverified principal must not be authorized")
	}
	if reg.IsFrozen(addr) {
		t.Fatal("absent principal must not read as frozen")
	}
}

func TestKYCLifecycle(t *testing.T) {
	reg := newTestRegistry(t)
	addr := testAddress(0x02)

	if err := reg.SetKYCStatus(addr, KYCPending); err != nil {
		t.Fatalf("set pending: %v", err)
	}
	if reg.IsAuthorized(addr) {
		t.Fatal("pending principal must not be authorized")
	}

	if err := reg.SetKYCStatus(addr, KYCVerified); err != nil {
		t.Fatalf("set verified: %v", err)
	}
	if !reg.IsAuthorized(addr) {
		t.Fatal("verified principal must be authorized")
	}

	if err := reg.SetKYCStatus(addr, KYCRejected); err != nil {
		t.Fatalf("set rejected: %v", err)
	}
	if reg.IsAuthorized(addr) {
		t.Fatal("rejected principal must not be authorized")
	}

	record, err := reg.Status(addr)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if record.UpdatedAt != 1_700_000_000 {
		t.Fatalf("expected update timestamp, got %d", record.UpdatedAt)
	}
}

func TestBlacklistOverridesVerification(t *testing.T) {
	reg := newTestRegistry(t)
	addr := testAddress(0x03)

	if err := reg.SetKYCStatus(addr, KYCVerified); err != nil {
		t.Fatalf("set verified: %v", err)
	}
	if err := reg.AddToBlacklist(addr); err != nil {
		t.Fatalf("blacklist: %v", err)
	}
	if reg.IsAuthorized(addr) {
		t.Fatal("blacklisted principal must not be authorized")
	}
	if err := reg.RemoveFromBlacklist(addr); err != nil {
		t.Fatalf("unblacklist: %v", err)
	}
	if !reg.IsAuthorized(addr) {
		t.Fatal("authorization must return after blacklist removal")
	}
}

func TestFreezeToggle(t *testing.T) {
	reg := newTestRegistry(t)
	addr := testAddress(0x04)

	if err := reg.Freeze(addr); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if !reg.IsFrozen(addr) {
		t.Fatal("expected frozen account")
	}
	if err := reg.Unfreeze(addr); err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	if reg.IsFrozen(addr) {
		t.Fatal("expected thawed account")
	}
}

func TestFlagsBoundedAndPersisted(t *testing.T) {
	reg := newTestRegistry(t)
	addr := testAddress(0x05)

	for i := int64(0); i < int64(flagCap)+5; i++ {
		reg.FlagIfLarge(addr, big.NewInt(100_000_000+i), "deposit")
	}

	record, err := reg.Status(addr)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(record.Flags) != flagCap {
		t.Fatalf("expected %d retained flags, got %d", flagCap, len(record.Flags))
	}
	newest := record.Flags[len(record.Flags)-1]
	if newest.Amount.Cmp(big.NewInt(100_000_000+int64(flagCap)+4)) != 0 {
		t.Fatalf("expected newest flag retained, got %s", newest.Amount)
	}
	if newest.Action != "deposit" {
		t.Fatalf("unexpected action: %s", newest.Action)
	}
	if newest.Timestamp != 1_700_000_000 {
		t.Fatalf("unexpected timestamp: %d", newest.Timestamp)
	}
}

func TestParseKYCStatus(t *testing.T) {
	cases := []struct {
		raw     string
		want    KYCStatus
		wantErr bool
	}{
		{raw: "verified", want: KYCVerified},
		{raw: " Pending ", want: KYCPending},
		{raw: "REJECTED", want: KYCRejected},
		{raw: "unverified", want: KYCUnverified},
		{raw: "bogus", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseKYCStatus(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("%q: got %s want %s", tc.raw, got, tc.want)
		}
	}
}

func TestEachRecordWalksAccounts(t *testing.T) {
	reg := newTestRegistry(t)
	for i := byte(1); i <= 3; i++ {
		if err := reg.SetKYCStatus(testAddress(i), KYCVerified); err != nil {
			t.Fatalf("set status %d: %v", i, err)
		}
	}

	seen := 0
	err := reg.EachRecord(func(record Record) error {
		if record.Status != KYCVerified {
			t.Fatalf("unexpected status for %s: %s", record.Address, record.Status)
		}
		seen++
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if seen != 3 {
		t.Fatalf("expected 3 records, saw %d", seen)
	}
}
