package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config carries the marketplace daemon settings.
type Config struct {
	ListenAddress        string `toml:"ListenAddress"`
	DataDir              string `toml:"DataDir"`
	Environment          string `toml:"Environment"`
	LogLevel             string `toml:"LogLevel"`
	AuthSecret           string `toml:"AuthSecret"`
	AuthSecretEnv        string `toml:"AuthSecretEnv"`
	Admin                string `toml:"Admin"`
	FeeRecipient         string `toml:"FeeRecipient"`
	FeePercentage        uint32 `toml:"FeePercentage"`
	MaxRoyaltyPercentage uint32 `toml:"MaxRoyaltyPercentage"`
	Operator             string `toml:"Operator"`
	RateLimitPerMin      uint32 `toml:"RateLimitPerMin"`
	RegistryEndpoint     string `toml:"RegistryEndpoint"`
	RegistryToken        string `toml:"RegistryToken"`
	RegistryTokenEnv     string `toml:"RegistryTokenEnv"`
}

// Load reads the configuration from the given path, creating a commented
// default file when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./market-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
}

// Validate rejects configurations the daemon cannot start with.
func (cfg *Config) Validate() error {
	if cfg.FeePercentage > 100 {
		return fmt.Errorf("config: FeePercentage %d exceeds 100", cfg.FeePercentage)
	}
	if cfg.MaxRoyaltyPercentage > 100 {
		return fmt.Errorf("config: MaxRoyaltyPercentage %d exceeds 100", cfg.MaxRoyaltyPercentage)
	}
	if _, err := cfg.AdminAddress(); err != nil {
		return err
	}
	if _, err := cfg.FeeRecipientAddress(); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Operator) != "" {
		if _, err := decodeAddress("Operator", cfg.Operator); err != nil {
			return err
		}
	}
	return nil
}

// AdminAddress decodes the configured admin principal.
func (cfg *Config) AdminAddress() ([20]byte, error) {
	return decodeAddress("Admin", cfg.Admin)
}

// FeeRecipientAddress decodes the configured fee recipient.
func (cfg *Config) FeeRecipientAddress() ([20]byte, error) {
	return decodeAddress("FeeRecipient", cfg.FeeRecipient)
}

// OperatorAddress decodes the optional marketplace operator. A blank value
// returns the zero address, which disables operator listings.
func (cfg *Config) OperatorAddress() ([20]byte, error) {
	if strings.TrimSpace(cfg.Operator) == "" {
		return [20]byte{}, nil
	}
	return decodeAddress("Operator", cfg.Operator)
}

// ResolveAuthSecret returns the RPC signing secret, preferring the
// environment variable named by AuthSecretEnv over the inline value.
func (cfg *Config) ResolveAuthSecret() (string, error) {
	if env := strings.TrimSpace(cfg.AuthSecretEnv); env != "" {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			return value, nil
		}
		return "", fmt.Errorf("config: environment variable %s named by AuthSecretEnv is empty", env)
	}
	if secret := strings.TrimSpace(cfg.AuthSecret); secret != "" {
		return secret, nil
	}
	return "", fmt.Errorf("config: AuthSecret or AuthSecretEnv must be set")
}

// ResolveRegistryToken returns the bearer token for the asset registry, or an
// empty string when the registry is unauthenticated.
func (cfg *Config) ResolveRegistryToken() string {
	if env := strings.TrimSpace(cfg.RegistryTokenEnv); env != "" {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(cfg.RegistryToken)
}

// DatabasePath locates the sqlite file inside the data directory.
func (cfg *Config) DatabasePath() string {
	return filepath.Join(cfg.DataDir, "market.db")
}

func decodeAddress(field, value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return addr, fmt.Errorf("config: %s address is required", field)
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) != len(addr) {
		return addr, fmt.Errorf("config: %s is not a 20-byte hex address", field)
	}
	copy(addr[:], raw)
	return addr, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		FeePercentage:        2,
		MaxRoyaltyPercentage: 10,
		RateLimitPerMin:      120,
		AuthSecretEnv:        "MARKETD_AUTH_SECRET",
	}
	applyDefaults(cfg)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	// The generated file still needs Admin and FeeRecipient filled in before
	// the daemon will start, so report it to the operator.
	return cfg, fmt.Errorf("config: wrote default configuration to %s; set Admin and FeeRecipient and restart", path)
}
