package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the wallet daemon configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Keys     KeysConfig     `yaml:"keys"`
	Chains   []ChainConfig  `yaml:"chains" validate:"min=1,dive"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains HTTP admin server settings
type ServerConfig struct {
	Host string `yaml:"host" default:"0.0.0.0"`
	Port int    `yaml:"port" default:"8080"`

	ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"30s"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host" default:"localhost" validate:"required"`
	Port     int    `yaml:"port" default:"5432"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database" validate:"required"`
	SSLMode  string `yaml:"ssl_mode" default:"disable"`
}

// KeysConfig contains wallet key encryption settings
type KeysConfig struct {
	// MasterKeyBase64 is the base64-encoded 32-byte AES-256 master key.
	MasterKeyBase64 string `yaml:"master_key" validate:"required"`
	// CacheSize bounds the process-local decrypted key cache.
	CacheSize int `yaml:"cache_size" default:"64"`
}

// ChainConfig contains per-chain wallet settings
type ChainConfig struct {
	// ChainType is one of BTC, testBTC, DOGE, testDOGE, XRP, testXRP.
	ChainType string `yaml:"chain_type" validate:"required,oneof=BTC testBTC DOGE testDOGE XRP testXRP"`
	// Endpoints lists RPC/indexer URLs tried in order with failover.
	Endpoints []string `yaml:"endpoints" validate:"min=1,dive,url"`
	APIKey    string   `yaml:"api_key"`

	RequestTimeout time.Duration `yaml:"request_timeout" default:"20s"`

	// Resubmission overrides; zero values fall back to chain defaults.
	BlockOffset          uint64 `yaml:"block_offset"`
	FeeIncrease          int64  `yaml:"fee_increase"`
	ExecutionBlockOffset uint64 `yaml:"execution_block_offset"`
	EnoughConfirmations  uint64 `yaml:"enough_confirmations"`

	// FeeHistoryBlocks is the fee oracle window size (UTXO chains).
	FeeHistoryBlocks int           `yaml:"fee_history_blocks" default:"11"`
	FeePollInterval  time.Duration `yaml:"fee_poll_interval" default:"5s"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" default:"info"`
	Format     string `yaml:"format" default:"json"`
	OutputPath string `yaml:"output_path" default:"stdout"`
}

// Load loads configuration from a YAML file, applies defaults and validates
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := defaults.Set(&config); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}

	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}
