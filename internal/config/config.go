package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DBPath   string `envconfig:"SYNC_DB_PATH" default:"./data/sync.sqlite"`
	Port     int    `envconfig:"SYNC_PORT" default:"8090"`
	LogLevel string `envconfig:"SYNC_LOG_LEVEL" default:"info"`
	LogDir   string `envconfig:"SYNC_LOG_DIR" default:"./logs"`
	Network  string `envconfig:"SYNC_NETWORK" default:"testnet"`

	NodeType     string `envconfig:"SYNC_NODE_TYPE" default:"electrum"`
	NodeHost     string `envconfig:"SYNC_NODE_HOST" default:"127.0.0.1"`
	NodePort     int    `envconfig:"SYNC_NODE_PORT" default:"50002"`
	NodeSSL      bool   `envconfig:"SYNC_NODE_SSL" default:"true"`
	NodeUser     string `envconfig:"SYNC_NODE_USER"`
	NodePassword string `envconfig:"SYNC_NODE_PASSWORD"`

	AddressGapLimit           int `envconfig:"SYNC_ADDRESS_GAP_LIMIT" default:"20"`
	DeepConfirmationThreshold int `envconfig:"SYNC_DEEP_CONFIRMATION_THRESHOLD" default:"100"`
	TransactionBatchSize      int `envconfig:"SYNC_TRANSACTION_BATCH_SIZE" default:"500"`
	HistoryBatchSize          int `envconfig:"SYNC_HISTORY_BATCH_SIZE" default:"10"`
	TxBatchSize               int `envconfig:"SYNC_TX_BATCH_SIZE" default:"25"`

	SyncIntervalSeconds int `envconfig:"SYNC_INTERVAL_SECONDS" default:"60"`
}

// Load reads configuration from a .env file (if present) then from
// environment variables. Environment variables override .env values.
func Load() (*Config, error) {
	envFiles := []string{".env"}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				slog.Warn("failed to load .env file", "file", f, "error", err)
			} else {
				slog.Info("loaded .env file", "file", f)
			}
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	switch c.Network {
	case "mainnet", "testnet", "signet", "regtest":
	default:
		return fmt.Errorf("%w: network must be one of mainnet/testnet/signet/regtest, got %q", ErrInvalidConfig, c.Network)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port must be 1-65535, got %d", ErrInvalidConfig, c.Port)
	}
	switch c.NodeType {
	case NodeTypeElectrum, NodeTypeCore:
	default:
		return fmt.Errorf("%w: node type must be \"electrum\" or \"core\", got %q", ErrInvalidConfig, c.NodeType)
	}
	if c.AddressGapLimit < 1 {
		return fmt.Errorf("%w: address gap limit must be >= 1, got %d", ErrInvalidConfig, c.AddressGapLimit)
	}
	if c.DeepConfirmationThreshold < 1 {
		return fmt.Errorf("%w: deep confirmation threshold must be >= 1, got %d", ErrInvalidConfig, c.DeepConfirmationThreshold)
	}
	return nil
}
