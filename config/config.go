package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the top-level settlement daemon configuration.
type Config struct {
	Service  ServiceConfig  `toml:"service"`
	Database DatabaseConfig `toml:"database"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Escrow   EscrowConfig   `toml:"escrow"`
	Staking  StakingConfig  `toml:"staking"`
}

// ServiceConfig covers process-level settings.
type ServiceConfig struct {
	Name          string `toml:"name"`
	Environment   string `toml:"environment"`
	ListenAddress string `toml:"listen_address"`
	LogFile       string `toml:"log_file"`
	OperatorID    string `toml:"operator_id"`
}

// DatabaseConfig selects the market database backend. Driver is "sqlite" or
// "postgres"; DSN is passed through to the driver.
type DatabaseConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// LedgerConfig locates the custody substrate database.
type LedgerConfig struct {
	Path string `toml:"path"`
}

// EscrowConfig carries the escrow engine identities and fee rate. Addresses
// are 20-byte hex strings, 0x prefix optional.
type EscrowConfig struct {
	Operator     string `toml:"operator"`
	FeeRecipient string `toml:"fee_recipient"`
	FeeBps       uint32 `toml:"fee_bps"`
}

// StakingConfig carries the staking engine parameters. MinimumStake is a
// decimal string of token base units.
type StakingConfig struct {
	Operator        string `toml:"operator"`
	FeeRecipient    string `toml:"fee_recipient"`
	MinimumStake    string `toml:"minimum_stake"`
	CooldownSeconds int64  `toml:"cooldown_seconds"`
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file %s not found", path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:          "worklayerd",
			Environment:   "dev",
			ListenAddress: ":8080",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "file:worklayer.db",
		},
		Ledger: LedgerConfig{
			Path: "ledger.db",
		},
		Escrow: EscrowConfig{
			FeeBps: 250,
		},
		Staking: StakingConfig{
			MinimumStake:    "1",
			CooldownSeconds: 7 * 86_400,
		},
	}
}

// Validate checks the cross-field requirements that TOML decoding cannot.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database dsn is required")
	}
	if strings.TrimSpace(c.Ledger.Path) == "" {
		return fmt.Errorf("ledger path is required")
	}
	if _, err := ParseAddress(c.Escrow.Operator); err != nil {
		return fmt.Errorf("escrow operator: %w", err)
	}
	if _, err := ParseAddress(c.Escrow.FeeRecipient); err != nil {
		return fmt.Errorf("escrow fee recipient: %w", err)
	}
	if _, err := ParseAddress(c.Staking.Operator); err != nil {
		return fmt.Errorf("staking operator: %w", err)
	}
	if _, err := ParseAddress(c.Staking.FeeRecipient); err != nil {
		return fmt.Errorf("staking fee recipient: %w", err)
	}
	if c.Staking.CooldownSeconds < 0 {
		return fmt.Errorf("staking cooldown must be non-negative")
	}
	return nil
}

// ParseAddress decodes a 20-byte hex address, with or without a 0x prefix.
func ParseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return addr, fmt.Errorf("address is required")
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid hex address %q", value)
	}
	if len(raw) != 20 {
		return addr, fmt.Errorf("address %q must be 20 bytes", value)
	}
	copy(addr[:], raw)
	if addr == ([20]byte{}) {
		return addr, fmt.Errorf("address must be non-zero")
	}
	return addr, nil
}
