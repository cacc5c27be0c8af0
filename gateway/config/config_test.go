package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsSecureByDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.Auth.Enabled {
		t.Fatalf("expected auth.enabled to default to true")
	}
	if !cfg.Auth.enabledSet {
		t.Fatalf("expected auth.enabled default to mark enabledSet true")
	}
	if cfg.Auth.AllowAnonymous {
		t.Fatalf("expected auth.allowAnonymous to default to false")
	}
}

func TestLoadDefaultsNodeEndpoint(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Node.Endpoint != "http://127.0.0.1:7101" {
		t.Fatalf("unexpected default node endpoint %q", cfg.Node.Endpoint)
	}
	if cfg.Node.Timeout != 10*time.Second {
		t.Fatalf("unexpected default node timeout %s", cfg.Node.Timeout)
	}
	target, err := cfg.Node.URL()
	if err != nil {
		t.Fatalf("node URL: %v", err)
	}
	if target.Host != "127.0.0.1:7101" {
		t.Fatalf("unexpected node host %q", target.Host)
	}
}

func TestLoadRejectsBlankNodeEndpoint(t *testing.T) {
	path := writeConfig(t, "node:\n  endpoint: \"   \"\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected load to fail for blank node endpoint")
	}
}

func TestResolveTokenPrefersInlineToken(t *testing.T) {
	t.Setenv(DefaultTokenEnv, "env-token")
	node := NodeConfig{Token: " inline-token "}
	if got := node.ResolveToken(); got != "inline-token" {
		t.Fatalf("expected inline token to win, got %q", got)
	}
	node = NodeConfig{}
	if got := node.ResolveToken(); got != "env-token" {
		t.Fatalf("expected env token fallback, got %q", got)
	}
}

func TestResolveTokenHonorsCustomEnv(t *testing.T) {
	t.Setenv("GATEWAY_NODE_TOKEN", "custom-token")
	node := NodeConfig{TokenEnv: "GATEWAY_NODE_TOKEN"}
	if got := node.ResolveToken(); got != "custom-token" {
		t.Fatalf("expected custom env token, got %q", got)
	}
}

func TestLoadDefaultsAllowAnonymousDisabledWhenAuthEnabled(t *testing.T) {
	path := writeConfig(t, "auth:\n  enabled: true\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Auth.AllowAnonymous {
		t.Fatalf("expected auth.allowAnonymous to default to false when auth.enabled is true")
	}
}

func TestLoadRequiresOptionalPathsWhenAllowAnonymousEnabled(t *testing.T) {
	path := writeConfig(t, "auth:\n  enabled: true\n  allowAnonymous: true\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected load to fail when auth.allowAnonymous is true without optional paths")
	}
}

func TestLoadDefaultsEnableAuthForSensitiveTLSConfig(t *testing.T) {
	yaml := "security:\n  tlsCertFile: /etc/gateway/cert.pem\n  tlsKeyFile: /etc/gateway/key.pem\n"
	path := writeConfig(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.Auth.Enabled {
		t.Fatalf("expected auth.enabled to default to true for TLS configuration")
	}
}

func TestLoadAllowsExplicitAuthDisabledForSensitiveTLSConfig(t *testing.T) {
	yaml := "auth:\n  enabled: false\nsecurity:\n  tlsCertFile: /etc/gateway/cert.pem\n  tlsKeyFile: /etc/gateway/key.pem\n"
	path := writeConfig(t, yaml)
	if _, err := Load(path); err != nil {
		t.Fatalf("load config: %v", err)
	}
}

func TestLoadDefaultsEnableAuthForAutoUpgrade(t *testing.T) {
	yaml := "security:\n  autoUpgradeHTTP: true\n"
	path := writeConfig(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.Auth.Enabled {
		t.Fatalf("expected auth.enabled to default to true when auto HTTPS is enabled")
	}
}

func TestLoadNormalizesOptionalPaths(t *testing.T) {
	yaml := "auth:\n  enabled: true\n  allowAnonymous: true\n  optionalPaths:\n    - /v1/lending/market\n    - \"   /v1/lending/reserves   \"\n"
	path := writeConfig(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	expected := []string{"/v1/lending/market", "/v1/lending/reserves"}
	if len(cfg.Auth.OptionalPaths) != len(expected) {
		t.Fatalf("expected %d optional paths, got %d", len(expected), len(cfg.Auth.OptionalPaths))
	}
	for i, path := range expected {
		if cfg.Auth.OptionalPaths[i] != path {
			t.Fatalf("optional path %d mismatch: expected %q, got %q", i, path, cfg.Auth.OptionalPaths[i])
		}
	}
}

func TestLoadRejectsOptionalPathsWithoutLeadingSlash(t *testing.T) {
	yaml := "auth:\n  enabled: true\n  allowAnonymous: true\n  optionalPaths:\n    - v1/lending/market\n"
	path := writeConfig(t, yaml)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for optional path without leading slash")
	}
}

func TestValidateRejectsImplicitAnonymousAccess(t *testing.T) {
	cfg := Config{
		Node: NodeConfig{Endpoint: "http://127.0.0.1:7101"},
		Auth: AuthConfig{
			Enabled:        true,
			OptionalPaths:  []string{"/v1/lending/market"},
			AllowAnonymous: true,
			enabledSet:     true,
		},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error when auth.allowAnonymous is true without explicit opt-in")
	}
	if !strings.Contains(err.Error(), "auth.allowAnonymous must be explicitly set") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadParsesRateLimitTokens(t *testing.T) {
	yaml := "rateLimits:\n  - id: lending\n    ratePerSecond: 5\n    burst: 10\n    defaultTokens: 1\n    tokens:\n      \"POST /v1/lending/liquidate\": 3\n"
	path := writeConfig(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.RateLimits) != 1 {
		t.Fatalf("expected one rate limit entry, got %d", len(cfg.RateLimits))
	}
	entry := cfg.RateLimits[0]
	if entry.ID != "lending" || entry.RatePerSecond != 5 || entry.Burst != 10 {
		t.Fatalf("unexpected rate limit entry: %+v", entry)
	}
	if entry.Tokens["POST /v1/lending/liquidate"] != 3 {
		t.Fatalf("expected liquidate route token cost 3, got %d", entry.Tokens["POST /v1/lending/liquidate"])
	}
}
