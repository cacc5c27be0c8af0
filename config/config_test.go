package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vaultlend/core/lending"
	"vaultlend/crypto"
)

func testAddressString(suffix byte) string {
	b := make([]byte, crypto.AddressLength)
	b[0] = 0x42
	b[len(b)-1] = suffix
	return crypto.NewAddress(b).String()
}

func TestLoadParsesParameterFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lending.toml")
	admin := testAddressString(0x01)
	treasury := testAddressString(0x02)
	contents := fmt.Sprintf(`admin = "%s"
treasury = "%s"
min_collateral_ratio = 175
large_tx_threshold = "250000000"
distribution_frequency = 43200

[interest_rate]
base_rate = 3000000
kink_utilization = 75000000
multiplier = 12000000
reserve_factor = 15000000
rate_ceiling = 60000000
rate_floor = 200000

[risk]
close_factor = 40000000
liquidation_incentive = 8000000

[risk.pauses]
borrow = true

[oracle]
max_deviation_pct = 25
heartbeat_seconds = 1800
fallback_price = "140000000"
`, admin, treasury)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Admin != admin || cfg.Treasury != treasury {
		t.Fatalf("unexpected principals: admin=%s treasury=%s", cfg.Admin, cfg.Treasury)
	}
	if cfg.MinCollateralRatio != 175 {
		t.Fatalf("unexpected collateral ratio: %d", cfg.MinCollateralRatio)
	}
	if cfg.LargeTxThreshold.Cmp(big.NewInt(250_000_000)) != 0 {
		t.Fatalf("unexpected large tx threshold: %s", cfg.LargeTxThreshold)
	}
	if cfg.DistributionFrequency != 43_200 {
		t.Fatalf("unexpected distribution frequency: %d", cfg.DistributionFrequency)
	}
	if cfg.InterestRate.BaseRate != 3_000_000 || cfg.InterestRate.KinkUtilization != 75_000_000 {
		t.Fatalf("unexpected rate curve: %+v", cfg.InterestRate)
	}
	if cfg.InterestRate.ReserveFactor != 15_000_000 || cfg.InterestRate.RateCeiling != 60_000_000 {
		t.Fatalf("unexpected rate bounds: %+v", cfg.InterestRate)
	}
	if cfg.Risk.CloseFactor != 40_000_000 || cfg.Risk.LiquidationIncentive != 8_000_000 {
		t.Fatalf("unexpected risk limits: %+v", cfg.Risk)
	}
	if !cfg.Risk.Pauses.Borrow || cfg.Risk.Pauses.Deposit {
		t.Fatalf("unexpected pause flags: %+v", cfg.Risk.Pauses)
	}
	if cfg.Oracle.MaxDeviationPct != 25 || cfg.Oracle.HeartbeatSeconds != 1800 {
		t.Fatalf("unexpected oracle bounds: %+v", cfg.Oracle)
	}
	if cfg.Oracle.FallbackPrice.Cmp(big.NewInt(140_000_000)) != 0 {
		t.Fatalf("unexpected fallback price: %s", cfg.Oracle.FallbackPrice)
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lending.toml")
	contents := fmt.Sprintf(`admin = "%s"

[interest_rate]
base_rte = 3000000
`, testAddressString(0x03))
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unknown key") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadCreatesDefaultWithAdminKeystore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lending.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to be created: %v", err)
	}
	if cfg.Admin == "" {
		t.Fatal("expected generated admin address")
	}
	if cfg.Treasury != cfg.Admin {
		t.Fatalf("expected treasury to default to admin, got %s", cfg.Treasury)
	}
	if cfg.AdminKeystorePath == "" {
		t.Fatal("expected admin keystore path")
	}
	if _, err := os.Stat(cfg.AdminKeystorePath); err != nil {
		t.Fatalf("expected keystore file: %v", err)
	}

	key, err := crypto.LoadFromKeystore(cfg.AdminKeystorePath, "")
	if err != nil {
		t.Fatalf("load keystore: %v", err)
	}
	if got := key.PubKey().Address().String(); got != cfg.Admin {
		t.Fatalf("keystore address mismatch: got %s want %s", got, cfg.Admin)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if reloaded.Admin != cfg.Admin {
		t.Fatalf("admin changed across reload: got %s want %s", reloaded.Admin, cfg.Admin)
	}

	params, err := cfg.Params()
	if err != nil {
		t.Fatalf("default params invalid: %v", err)
	}
	if params.Admin.IsZero() {
		t.Fatal("expected admin principal in params")
	}
}

func TestLoadProvisionsAdminWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lending.toml")
	contents := `min_collateral_ratio = 150

[interest_rate]
base_rate = 2000000
kink_utilization = 80000000
multiplier = 10000000
reserve_factor = 10000000
rate_ceiling = 50000000
rate_floor = 100000

[risk]
close_factor = 50000000
liquidation_incentive = 10000000
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Admin == "" {
		t.Fatal("expected provisioned admin address")
	}
	if cfg.AdminKeystorePath != filepath.Join(dir, "admin.keystore") {
		t.Fatalf("unexpected keystore path: %s", cfg.AdminKeystorePath)
	}

	rewritten, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(rewritten), cfg.Admin) {
		t.Fatal("expected provisioned admin to be persisted")
	}
}

func TestLoadReusesExistingKeystore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lending.toml")
	keystorePath := filepath.Join(dir, "operator.keystore")

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		t.Fatalf("save keystore: %v", err)
	}

	contents := fmt.Sprintf("admin_keystore = %q\n", keystorePath)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if want := key.PubKey().Address().String(); cfg.Admin != want {
		t.Fatalf("expected admin recovered from keystore: got %s want %s", cfg.Admin, want)
	}
}

func TestParamsRejectsBadAddress(t *testing.T) {
	cfg := Default()
	cfg.Admin = "not-an-address"
	if _, err := cfg.Params(); err == nil || !strings.Contains(err.Error(), "invalid admin address") {
		t.Fatalf("expected admin decode error, got %v", err)
	}

	cfg = Default()
	cfg.Admin = testAddressString(0x04)
	cfg.Treasury = "vlt1malformed"
	if _, err := cfg.Params(); err == nil || !strings.Contains(err.Error(), "invalid treasury address") {
		t.Fatalf("expected treasury decode error, got %v", err)
	}
}

func TestParamsValidatesBounds(t *testing.T) {
	cfg := Default()
	cfg.Admin = testAddressString(0x05)
	cfg.InterestRate.ReserveFactor = lending.RateScale
	if _, err := cfg.Params(); !errors.Is(err, lending.ErrConfigurationError) {
		t.Fatalf("expected configuration error, got %v", err)
	}

	cfg = Default()
	cfg.Admin = testAddressString(0x06)
	cfg.MinCollateralRatio = 0
	if _, err := cfg.Params(); !errors.Is(err, lending.ErrConfigurationError) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestParamsFillsNilAmounts(t *testing.T) {
	cfg := Default()
	cfg.Admin = testAddressString(0x07)
	cfg.LargeTxThreshold = nil
	cfg.Oracle.FallbackPrice = nil

	params, err := cfg.Params()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if params.LargeTxThreshold == nil || params.LargeTxThreshold.Sign() != 0 {
		t.Fatalf("expected zero threshold, got %v", params.LargeTxThreshold)
	}
	if params.Oracle.FallbackPrice == nil || params.Oracle.FallbackPrice.Sign() != 0 {
		t.Fatalf("expected zero fallback, got %v", params.Oracle.FallbackPrice)
	}
}
