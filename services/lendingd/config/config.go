package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTokenEnv names the environment variable consulted for the RPC
// bearer token when the config does not override it.
const DefaultTokenEnv = "VAULTLEND_RPC_TOKEN"

// Config captures the runtime settings for the lending daemon. Paths
// left empty are derived from the data directory during normalization.
type Config struct {
	ListenAddress string `yaml:"listen"`
	DataDir       string `yaml:"data_dir"`
	// ParamsFile locates the TOML protocol parameter file. The daemon
	// creates it with defaults and a generated admin keystore when
	// missing.
	ParamsFile string `yaml:"params_file"`

	TLS        TLSConfig        `yaml:"tls"`
	Auth       AuthConfig       `yaml:"auth"`
	Oracle     OracleConfig     `yaml:"oracle"`
	ErrorAudit ErrorAuditConfig `yaml:"error_audit"`
	Log        LogConfig        `yaml:"log"`
}

// TLSConfig describes the TLS material for the RPC listener.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	ClientCAPath  string `yaml:"client_ca"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig resolves the bearer token guarding mutating and admin RPC
// methods.
type AuthConfig struct {
	// Token holds the credential inline. Prefer TokenEnv so secrets
	// stay out of config files.
	Token    string `yaml:"token"`
	TokenEnv string `yaml:"token_env"`
}

// OracleConfig wires the price feed consumed by the aggregator.
type OracleConfig struct {
	FeedURL       string        `yaml:"feed_url"`
	FeedAuthToken string        `yaml:"feed_auth_token"`
	// PollInterval spaces the background refresh that keeps the
	// heartbeat warm between RPC-triggered reads.
	PollInterval   time.Duration `yaml:"poll_interval"`
	CheckpointPath string        `yaml:"checkpoint_file"`
	HistoryCap     int           `yaml:"history_cap"`
}

// ErrorAuditConfig locates the durable error-audit database.
type ErrorAuditConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

// LogConfig bounds the optional rotating file sink.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the settings used when no config file is supplied.
func Default() Config {
	cfg := Config{}
	cfg.Normalize()
	return cfg
}

// Normalize trims fields and fills derived defaults.
func (cfg *Config) Normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7101"
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = "lendingd-data"
	}
	cfg.ParamsFile = strings.TrimSpace(cfg.ParamsFile)
	if cfg.ParamsFile == "" {
		cfg.ParamsFile = filepath.Join(cfg.DataDir, "params.toml")
	}
	cfg.TLS.normalize()
	cfg.Auth.normalize()
	cfg.Oracle.normalize(cfg.DataDir)
	cfg.ErrorAudit.normalize(cfg.DataDir)
	cfg.Log.normalize()
}

// Validate rejects settings the daemon cannot run with.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if err := cfg.Oracle.validate(); err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	return nil
}

// StatePath locates the LevelDB directory holding positions, market
// state and compliance records.
func (cfg Config) StatePath() string {
	return filepath.Join(cfg.DataDir, "state")
}

func (cfg *TLSConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.CertPath = strings.TrimSpace(cfg.CertPath)
	cfg.KeyPath = strings.TrimSpace(cfg.KeyPath)
	cfg.ClientCAPath = strings.TrimSpace(cfg.ClientCAPath)
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	if cfg.ClientCAPath != "" && !hasCert {
		return fmt.Errorf("client_ca requires a server certificate and key")
	}
	return nil
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.Token = strings.TrimSpace(cfg.Token)
	cfg.TokenEnv = strings.TrimSpace(cfg.TokenEnv)
}

// ResolveToken returns the inline token when set, otherwise the value of
// the configured environment variable.
func (cfg AuthConfig) ResolveToken() string {
	if cfg.Token != "" {
		return cfg.Token
	}
	env := cfg.TokenEnv
	if env == "" {
		env = DefaultTokenEnv
	}
	return strings.TrimSpace(os.Getenv(env))
}

func (cfg *OracleConfig) normalize(dataDir string) {
	if cfg == nil {
		return
	}
	cfg.FeedURL = strings.TrimSpace(cfg.FeedURL)
	cfg.FeedAuthToken = strings.TrimSpace(cfg.FeedAuthToken)
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 15 * time.Second
	}
	cfg.CheckpointPath = strings.TrimSpace(cfg.CheckpointPath)
	if cfg.CheckpointPath == "" {
		cfg.CheckpointPath = filepath.Join(dataDir, "oracle.db")
	}
}

func (cfg OracleConfig) validate() error {
	if cfg.PollInterval < 0 {
		return fmt.Errorf("poll_interval must not be negative")
	}
	if cfg.HistoryCap < 0 {
		return fmt.Errorf("history_cap must not be negative")
	}
	return nil
}

func (cfg *ErrorAuditConfig) normalize(dataDir string) {
	if cfg == nil {
		return
	}
	cfg.Path = strings.TrimSpace(cfg.Path)
	if cfg.Path == "" {
		cfg.Path = filepath.Join(dataDir, "errors.db")
	}
}

func (cfg *LogConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.File = strings.TrimSpace(cfg.File)
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 100
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 28
	}
}
