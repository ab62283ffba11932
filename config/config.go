package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"stakevault/core/types"
	"stakevault/native/ledger"
)

const (
	envRPCToken = "STAKEVAULT_RPC_TOKEN"
	envListen   = "STAKEVAULT_LISTEN"
	envDataDir  = "STAKEVAULT_DATA_DIR"
)

// Config captures the runtime settings for stakevaultd.
type Config struct {
	ListenAddress   string `toml:"ListenAddress"`
	DataDir         string `toml:"DataDir"`
	OwnerAddress    string `toml:"OwnerAddress"`
	VaultAddress    string `toml:"VaultAddress"`
	RPCToken        string `toml:"RPCToken"`
	RateLimitPerMin int    `toml:"RateLimitPerMin"`
	IdentityBaseURI string `toml:"IdentityBaseURI"`
	Environment     string `toml:"Environment"`

	Ledger LedgerConfig `toml:"Ledger"`
}

// LedgerConfig mirrors the engine parameters in the config file.
type LedgerConfig struct {
	RewardMultiplier    uint64 `toml:"RewardMultiplier"`
	LoanPercent         uint64 `toml:"LoanPercent"`
	InterestPercent     uint64 `toml:"InterestPercent"`
	LoanDurationSeconds uint64 `toml:"LoanDurationSeconds"`
	RepaymentScoreDelta int64  `toml:"RepaymentScoreDelta"`
}

// Default returns the baseline configuration applied before the file and
// environment are consulted.
func Default() Config {
	params := ledger.DefaultParams()
	return Config{
		ListenAddress:   "0.0.0.0:8661",
		DataDir:         "./stakevault-data",
		RateLimitPerMin: 120,
		Environment:     "dev",
		Ledger: LedgerConfig{
			RewardMultiplier:    params.RewardMultiplier,
			LoanPercent:         params.LoanPercent,
			InterestPercent:     params.InterestPercent,
			LoanDurationSeconds: params.LoanDurationSeconds,
			RepaymentScoreDelta: params.RepaymentScoreDelta,
		},
	}
}

// Load reads the configuration from the given path, layering environment
// overrides on top. A missing file falls back to defaults so development
// setups can run on environment variables alone.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, fmt.Errorf("config: decode %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(envRPCToken)); v != "" {
		cfg.RPCToken = v
	}
	if v := strings.TrimSpace(os.Getenv(envListen)); v != "" {
		cfg.ListenAddress = v
	}
	if v := strings.TrimSpace(os.Getenv(envDataDir)); v != "" {
		cfg.DataDir = v
	}
}

// Validate ensures the configuration is internally consistent.
func (cfg Config) Validate() error {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("config: listen address is required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("config: data dir is required")
	}
	if _, err := cfg.Owner(); err != nil {
		return fmt.Errorf("config: owner address: %w", err)
	}
	if _, err := cfg.Vault(); err != nil {
		return fmt.Errorf("config: vault address: %w", err)
	}
	if cfg.RateLimitPerMin <= 0 {
		return fmt.Errorf("config: rate limit must be positive")
	}
	if err := cfg.Params().Validate(); err != nil {
		return err
	}
	return nil
}

// Owner parses the configured owner address.
func (cfg Config) Owner() (types.Address, error) {
	return types.ParseAddress(cfg.OwnerAddress)
}

// Vault parses the configured vault address.
func (cfg Config) Vault() (types.Address, error) {
	return types.ParseAddress(cfg.VaultAddress)
}

// Params converts the ledger section into engine parameters.
func (cfg Config) Params() ledger.Params {
	return ledger.Params{
		RewardMultiplier:    cfg.Ledger.RewardMultiplier,
		LoanPercent:         cfg.Ledger.LoanPercent,
		InterestPercent:     cfg.Ledger.InterestPercent,
		LoanDurationSeconds: cfg.Ledger.LoanDurationSeconds,
		RepaymentScoreDelta: cfg.Ledger.RepaymentScoreDelta,
	}
}

// Sanitized returns a copy of the Config with secrets masked for logging.
func (cfg Config) Sanitized() Config {
	clone := cfg
	if clone.RPCToken != "" {
		clone.RPCToken = maskSecret(clone.RPCToken)
	}
	return clone
}

func maskSecret(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:2] + strings.Repeat("*", len(secret)-4) + secret[len(secret)-2:]
}
