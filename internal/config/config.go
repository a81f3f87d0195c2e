// Package config loads broker configuration from a YAML file with
// environment overrides for deployment-specific values.
package config

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// baseUnitsPerToken is the fixed-point scale for token amounts.
const baseUnitsPerToken = 1_000_000_000

// Config is the root broker configuration.
type Config struct {
	ListenAddr string        `yaml:"listen_addr"`
	LogLevel   string        `yaml:"log_level"`
	Offline    bool          `yaml:"offline"`
	Ledger     LedgerConfig  `yaml:"ledger"`
	Broker     BrokerConfig  `yaml:"broker"`
	Storage    StorageConfig `yaml:"storage"`
}

// LedgerConfig configures the ledger client.
type LedgerConfig struct {
	RPCURL         string `yaml:"rpc_url"`
	Account        string `yaml:"account"`
	KeyFile        string `yaml:"key_file"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// BrokerConfig configures balances and orchestration.
type BrokerConfig struct {
	// MinBalance and TopUpIncrement are decimal token amounts.
	MinBalance             string `yaml:"min_balance"`
	TopUpIncrement         string `yaml:"top_up_increment"`
	FundingIntervalSeconds int    `yaml:"funding_interval_seconds"`
	RequestTimeoutMs       int    `yaml:"request_timeout_ms"`
	OperationPath          string `yaml:"operation_path"`
}

// StorageConfig configures the content-upload path.
type StorageConfig struct {
	Endpoints     []string `yaml:"endpoints"`
	OperationPath string   `yaml:"operation_path"`
	RetryDelayMs  int      `yaml:"retry_delay_ms"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		ListenAddr: ":8090",
		LogLevel:   "info",
		Ledger: LedgerConfig{
			TimeoutSeconds: 30,
		},
		Broker: BrokerConfig{
			MinBalance:       "0.001",
			TopUpIncrement:   "0.1",
			RequestTimeoutMs: 20000,
			OperationPath:    "/v1/chat/completions",
		},
		Storage: StorageConfig{
			OperationPath: "/v1/upload",
			RetryDelayMs:  2000,
		},
	}
}

// Load reads configuration from path, falling back to defaults for absent
// fields, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if !cfg.Offline {
		if cfg.Ledger.RPCURL == "" {
			return nil, fmt.Errorf("ledger rpc_url is required")
		}
		if cfg.Ledger.Account == "" {
			return nil, fmt.Errorf("ledger account is required")
		}
	}
	return cfg, nil
}

// LoadOrDefault loads the config or returns defaults with env overrides
// when the file is absent.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		cfg = Default()
		applyEnv(cfg)
	}
	return cfg
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("BROKER_LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("BROKER_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("LEDGER_RPC_URL")); v != "" {
		cfg.Ledger.RPCURL = v
	}
	if v := strings.TrimSpace(os.Getenv("LEDGER_ACCOUNT")); v != "" {
		cfg.Ledger.Account = v
	}
	if v := strings.TrimSpace(os.Getenv("LEDGER_KEY_FILE")); v != "" {
		cfg.Ledger.KeyFile = v
	}
	if v := strings.TrimSpace(os.Getenv("BROKER_OFFLINE")); v != "" {
		cfg.Offline = v == "1" || strings.EqualFold(v, "true")
	}
}

// ParseAmount converts a decimal token amount to base units.
func ParseAmount(amount string) (int64, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return 0, fmt.Errorf("empty amount")
	}

	whole, frac := amount, ""
	if i := strings.IndexByte(amount, '.'); i >= 0 {
		whole, frac = amount[:i], amount[i+1:]
	}
	if len(frac) > 9 {
		return 0, fmt.Errorf("amount %q exceeds base-unit precision", amount)
	}

	w := int64(0)
	if whole != "" {
		var err error
		w, err = strconv.ParseInt(whole, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q", amount)
		}
	}
	if w < 0 {
		return 0, fmt.Errorf("amount %q must not be negative", amount)
	}

	f := int64(0)
	if frac != "" {
		var err error
		f, err = strconv.ParseInt(frac+strings.Repeat("0", 9-len(frac)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q", amount)
		}
	}
	return w*baseUnitsPerToken + f, nil
}

// LoadSigningKey reads a PEM-encoded ECDSA private key.
func LoadSigningKey(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}

	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key in %s is not ECDSA", path)
	}
	return key, nil
}
