package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	RPCURL         string `envconfig:"MINERSTAKE_RPC_URL" default:"https://bsc-dataseed.bnbchain.org"`
	FallbackRPCURL string `envconfig:"MINERSTAKE_FALLBACK_RPC_URL"`
	ChainID        int64  `envconfig:"MINERSTAKE_CHAIN_ID" default:"56"`

	SaleAddress        string `envconfig:"MINERSTAKE_SALE_ADDRESS"`
	MinerAddress       string `envconfig:"MINERSTAKE_MINER_ADDRESS"`
	StakingAddress     string `envconfig:"MINERSTAKE_STAKING_ADDRESS"`
	PoolAddress        string `envconfig:"MINERSTAKE_POOL_ADDRESS"`
	RewardTokenAddress string `envconfig:"MINERSTAKE_REWARD_TOKEN_ADDRESS"`
	StablecoinAddress  string `envconfig:"MINERSTAKE_STABLECOIN_ADDRESS"`

	// Key source. KeyFile (hex private key) wins over MnemonicFile. With neither
	// set, WatchAccount opens a read-only session.
	KeyFile      string `envconfig:"MINERSTAKE_KEY_FILE"`
	MnemonicFile string `envconfig:"MINERSTAKE_MNEMONIC_FILE"`
	AccountIndex uint32 `envconfig:"MINERSTAKE_ACCOUNT_INDEX" default:"0"`
	WatchAccount string `envconfig:"MINERSTAKE_WATCH_ACCOUNT"`

	DiscoveryStrategy string        `envconfig:"MINERSTAKE_DISCOVERY_STRATEGY" default:"enumerate"`
	ScanCeiling       int           `envconfig:"MINERSTAKE_SCAN_CEILING" default:"500"`
	PollInterval      time.Duration `envconfig:"MINERSTAKE_POLL_INTERVAL" default:"15s"`
	RPCRateLimit      int           `envconfig:"MINERSTAKE_RPC_RATE_LIMIT" default:"10"`
	BatchSize         int           `envconfig:"MINERSTAKE_BATCH_SIZE" default:"100"`

	Port      int    `envconfig:"MINERSTAKE_PORT" default:"8080"`
	DBPath    string `envconfig:"MINERSTAKE_DB_PATH" default:"./data/minerstake.sqlite"`
	LogLevel  string `envconfig:"MINERSTAKE_LOG_LEVEL" default:"info"`
	LogDir    string `envconfig:"MINERSTAKE_LOG_DIR" default:"./logs"`
	TiersFile string `envconfig:"MINERSTAKE_TIERS_FILE" default:"./data/tiers.json"`
}

// Load reads configuration from .env file (if present) then from environment variables.
// Environment variables override .env values.
func Load() (*Config, error) {
	// godotenv does NOT override already-set env vars.
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
	if c.RPCURL == "" {
		return fmt.Errorf("%w: rpc url is required", ErrInvalidConfig)
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("%w: chain id must be positive, got %d", ErrInvalidConfig, c.ChainID)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port must be 1-65535, got %d", ErrInvalidConfig, c.Port)
	}
	if c.DiscoveryStrategy != StrategyEnumerate && c.DiscoveryStrategy != StrategyScan {
		return fmt.Errorf("%w: discovery strategy must be %q or %q, got %q",
			ErrInvalidConfig, StrategyEnumerate, StrategyScan, c.DiscoveryStrategy)
	}
	if c.ScanCeiling < 1 || c.ScanCeiling > MaxScanCeiling {
		return fmt.Errorf("%w: scan ceiling must be 1-%d, got %d", ErrInvalidConfig, MaxScanCeiling, c.ScanCeiling)
	}
	if c.PollInterval < MinPollInterval {
		return fmt.Errorf("%w: poll interval must be at least %s, got %s", ErrInvalidConfig, MinPollInterval, c.PollInterval)
	}
	if c.RPCRateLimit < 1 {
		return fmt.Errorf("%w: rpc rate limit must be positive, got %d", ErrInvalidConfig, c.RPCRateLimit)
	}
	if c.BatchSize < 1 || c.BatchSize > MaxBatchSize {
		return fmt.Errorf("%w: batch size must be 1-%d, got %d", ErrInvalidConfig, MaxBatchSize, c.BatchSize)
	}

	for name, addr := range c.contractAddresses() {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("%w: %s address %q is not a hex address", ErrInvalidConfig, name, addr)
		}
	}
	if c.WatchAccount != "" && !common.IsHexAddress(c.WatchAccount) {
		return fmt.Errorf("%w: watch account %q is not a hex address", ErrInvalidConfig, c.WatchAccount)
	}

	return nil
}

func (c *Config) contractAddresses() map[string]string {
	return map[string]string{
		"sale":        c.SaleAddress,
		"miner":       c.MinerAddress,
		"staking":     c.StakingAddress,
		"pool":        c.PoolAddress,
		"rewardToken": c.RewardTokenAddress,
		"stablecoin":  c.StablecoinAddress,
	}
}

// Contracts returns the parsed contract addresses. Unset addresses are the zero address.
func (c *Config) Contracts() Contracts {
	return Contracts{
		Sale:        common.HexToAddress(c.SaleAddress),
		Miner:       common.HexToAddress(c.MinerAddress),
		Staking:     common.HexToAddress(c.StakingAddress),
		Pool:        common.HexToAddress(c.PoolAddress),
		RewardToken: common.HexToAddress(c.RewardTokenAddress),
		Stablecoin:  common.HexToAddress(c.StablecoinAddress),
	}
}

// Contracts is the fixed set of contract addresses the client talks to.
type Contracts struct {
	Sale        common.Address
	Miner       common.Address
	Staking     common.Address
	Pool        common.Address
	RewardToken common.Address
	Stablecoin  common.Address
}
