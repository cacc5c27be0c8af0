package config

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LENDINDEX_DB_URL", "postgres://localhost:5432/vaultlend")
	t.Setenv("LENDINDEX_NODE_URL", "http://127.0.0.1:7101")
}

func clearOptionalEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LENDINDEX_LISTEN", "LENDINDEX_NODE_TOKEN", "VAULTLEND_RPC_TOKEN",
		"LENDINDEX_TZ_DEFAULT", "LENDINDEX_REPLAY_FROM", "LENDINDEX_RECON_OUTPUT_DIR",
		"LENDINDEX_RECON_RUN_HOUR", "LENDINDEX_RECON_RUN_MINUTE",
		"LENDINDEX_RECON_DRY_RUN", "LENDINDEX_RECON_WINDOW_HOURS",
	} {
		t.Setenv(key, "")
	}
}

func TestFromEnvRequiresDatabaseURL(t *testing.T) {
	t.Setenv("LENDINDEX_DB_URL", "")
	t.Setenv("LENDINDEX_NODE_URL", "http://127.0.0.1:7101")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error when LENDINDEX_DB_URL is unset")
	}
}

func TestFromEnvRequiresNodeURL(t *testing.T) {
	t.Setenv("LENDINDEX_DB_URL", "postgres://localhost:5432/vaultlend")
	t.Setenv("LENDINDEX_NODE_URL", "")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error when LENDINDEX_NODE_URL is unset")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	setRequiredEnv(t)
	clearOptionalEnv(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.ListenAddress != ":7102" {
		t.Fatalf("listen = %q", cfg.ListenAddress)
	}
	if cfg.NodeAuthToken != "" {
		t.Fatalf("token = %q, want empty", cfg.NodeAuthToken)
	}
	if cfg.DefaultTZ.String() != "UTC" {
		t.Fatalf("tz = %q", cfg.DefaultTZ)
	}
	if cfg.ReplayFrom != -1 {
		t.Fatalf("replay from = %d, want -1", cfg.ReplayFrom)
	}
	if cfg.ReconOutputDir != "lendindexd-data/recon" {
		t.Fatalf("output dir = %q", cfg.ReconOutputDir)
	}
	if cfg.ReconRunHour != 0 || cfg.ReconRunMinute != 10 {
		t.Fatalf("run at %d:%d, want 0:10", cfg.ReconRunHour, cfg.ReconRunMinute)
	}
	if cfg.ReconDryRun {
		t.Fatal("dry run should default to false")
	}
	if cfg.ReconWindow != 24*time.Hour {
		t.Fatalf("window = %s, want 24h", cfg.ReconWindow)
	}
}

func TestFromEnvParsesOverrides(t *testing.T) {
	setRequiredEnv(t)
	clearOptionalEnv(t)
	t.Setenv("LENDINDEX_LISTEN", ":9999")
	t.Setenv("LENDINDEX_REPLAY_FROM", "0")
	t.Setenv("LENDINDEX_RECON_OUTPUT_DIR", "/srv/recon")
	t.Setenv("LENDINDEX_RECON_RUN_HOUR", "3")
	t.Setenv("LENDINDEX_RECON_RUN_MINUTE", "30")
	t.Setenv("LENDINDEX_RECON_DRY_RUN", "true")
	t.Setenv("LENDINDEX_RECON_WINDOW_HOURS", "48")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.ListenAddress != ":9999" {
		t.Fatalf("listen = %q", cfg.ListenAddress)
	}
	if cfg.ReplayFrom != 0 {
		t.Fatalf("replay from = %d, want 0", cfg.ReplayFrom)
	}
	if cfg.ReconOutputDir != "/srv/recon" {
		t.Fatalf("output dir = %q", cfg.ReconOutputDir)
	}
	if cfg.ReconRunHour != 3 || cfg.ReconRunMinute != 30 {
		t.Fatalf("run at %d:%d, want 3:30", cfg.ReconRunHour, cfg.ReconRunMinute)
	}
	if !cfg.ReconDryRun {
		t.Fatal("dry run override lost")
	}
	if cfg.ReconWindow != 48*time.Hour {
		t.Fatalf("window = %s, want 48h", cfg.ReconWindow)
	}
}

func TestFromEnvTokenFallsBackToNodeSecret(t *testing.T) {
	setRequiredEnv(t)
	clearOptionalEnv(t)
	t.Setenv("VAULTLEND_RPC_TOKEN", "shared-secret")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.NodeAuthToken != "shared-secret" {
		t.Fatalf("token = %q, want shared-secret", cfg.NodeAuthToken)
	}

	t.Setenv("LENDINDEX_NODE_TOKEN", "own-token")
	cfg, err = FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.NodeAuthToken != "own-token" {
		t.Fatalf("token = %q, want own-token", cfg.NodeAuthToken)
	}
}

func TestFromEnvRejectsInvalidReplayFrom(t *testing.T) {
	setRequiredEnv(t)
	clearOptionalEnv(t)
	for _, raw := range []string{"banana", "-5"} {
		t.Setenv("LENDINDEX_REPLAY_FROM", raw)
		if _, err := FromEnv(); err == nil {
			t.Fatalf("expected error for replay from %q", raw)
		}
	}
}

func TestFromEnvRejectsNonPositiveWindow(t *testing.T) {
	setRequiredEnv(t)
	clearOptionalEnv(t)
	t.Setenv("LENDINDEX_RECON_WINDOW_HOURS", "0")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error for zero window")
	}
}
