package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"vaultlend/core/lending"
	"vaultlend/crypto"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk protocol parameter file consumed by lendingd at
// bootstrap. The layout mirrors lending.Params, with admin and treasury
// held as bech32 strings so operators can paste addresses straight from
// the CLI. Amount fields are decimal strings scaled by 1e8.
type Config struct {
	Admin                 string   `toml:"admin"`
	Treasury              string   `toml:"treasury"`
	AdminKeystorePath     string   `toml:"admin_keystore"`
	MinCollateralRatio    int64    `toml:"min_collateral_ratio"`
	LargeTxThreshold      *big.Int `toml:"large_tx_threshold"`
	DistributionFrequency uint64   `toml:"distribution_frequency"`

	InterestRate lending.InterestRateConfig `toml:"interest_rate"`
	Risk         lending.RiskConfig         `toml:"risk"`
	Oracle       lending.OracleConfig       `toml:"oracle"`
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}

	// A typo in a rate key would otherwise silently run the default.
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s contains unknown key %q", path, undecoded[0].String())
	}

	if cfg.LargeTxThreshold == nil {
		cfg.LargeTxThreshold = big.NewInt(0)
	}
	if cfg.Oracle.FallbackPrice == nil {
		cfg.Oracle.FallbackPrice = big.NewInt(0)
	}

	if strings.TrimSpace(cfg.Admin) == "" {
		if err := ensureAdminKeystore(path, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Params converts the file form into runtime protocol parameters.
func (c *Config) Params() (lending.Params, error) {
	params := lending.Params{
		MinCollateralRatio:    c.MinCollateralRatio,
		InterestRate:          c.InterestRate,
		Risk:                  c.Risk,
		Oracle:                c.Oracle,
		LargeTxThreshold:      c.LargeTxThreshold,
		DistributionFrequency: c.DistributionFrequency,
	}
	if admin := strings.TrimSpace(c.Admin); admin != "" {
		decoded, err := crypto.DecodeAddress(admin)
		if err != nil {
			return lending.Params{}, fmt.Errorf("invalid admin address: %w", err)
		}
		params.Admin = decoded
	}
	if treasury := strings.TrimSpace(c.Treasury); treasury != "" {
		decoded, err := crypto.DecodeAddress(treasury)
		if err != nil {
			return lending.Params{}, fmt.Errorf("invalid treasury address: %w", err)
		}
		params.Treasury = decoded
	}
	params.Normalize()
	if err := params.Validate(); err != nil {
		return lending.Params{}, err
	}
	return params, nil
}

// ensureAdminKeystore provisions an admin identity when the file names
// none, reusing an existing keystore before generating a fresh key.
func ensureAdminKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.AdminKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	var key *crypto.PrivateKey
	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		generated, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, generated, ""); err != nil {
			return err
		}
		key = generated
	} else if err != nil {
		return err
	} else {
		loaded, loadErr := crypto.LoadFromKeystore(keystorePath, "")
		if loadErr != nil {
			return loadErr
		}
		key = loaded
	}

	cfg.Admin = key.PubKey().Address().String()
	cfg.AdminKeystorePath = keystorePath
	return persist(configPath, cfg)
}

// createDefault creates and saves a default configuration file. The
// treasury starts at the admin address until the operator routes fees
// elsewhere.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := Default()
	admin := key.PubKey().Address().String()
	cfg.Admin = admin
	cfg.Treasury = admin
	cfg.AdminKeystorePath = keystorePath

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the bootstrap parameters in file form, with no admin
// identity attached.
func Default() *Config {
	params := lending.DefaultParams()
	return &Config{
		MinCollateralRatio:    params.MinCollateralRatio,
		LargeTxThreshold:      params.LargeTxThreshold,
		DistributionFrequency: params.DistributionFrequency,
		InterestRate:          params.InterestRate,
		Risk:                  params.Risk,
		Oracle:                params.Oracle,
	}
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "admin.keystore")
}
