package config

import "time"

// Discovery
const (
	StrategyEnumerate = "enumerate"
	StrategyScan      = "scan"
	MaxScanCeiling    = 10_000
)

// Polling
const (
	DefaultPollInterval = 15 * time.Second
	MinPollInterval     = 1 * time.Second
	RefreshQueueSize    = 1
)

// RPC
const (
	MaxBatchSize              = 500
	BatchConcurrency          = 4
	RPCCallTimeout            = 30 * time.Second
	CircuitBreakerThreshold   = 5
	CircuitBreakerCooldown    = 30 * time.Second
	CircuitBreakerHalfOpenMax = 1
)

// Circuit breaker states
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half_open"
)

// Transactions
const (
	GasLimitApprove           = 80_000
	GasLimitStake             = 250_000
	GasLimitClaim             = 200_000
	GasLimitUnstake           = 250_000
	GasLimitSell              = 200_000
	GasLimitBuy               = 300_000
	GasPriceBufferNumerator   = 12
	GasPriceBufferDenominator = 10
	ReceiptPollInitial        = 1 * time.Second
	ReceiptPollMax            = 6 * time.Second
)

// Token units
const (
	RewardTokenDecimals = 18
	StablecoinDecimals  = 18
	FeeBpsDenominator   = 10_000
)

// Server
const (
	ServerReadTimeout    = 30 * time.Second
	ServerWriteTimeout   = 60 * time.Second
	ServerIdleTimeout    = 120 * time.Second
	ServerMaxHeaderBytes = 1 << 20
	ShutdownTimeout      = 30 * time.Second
	SSEKeepAliveInterval = 15 * time.Second
	EventHubBuffer       = 64
	ActionLogPageSize    = 50
)

// Logging
const (
	LogFilePrefix = "minerstake-"
	LogMaxAgeDays = 30
)

// Pool
const (
	PoolCacheDuration = 30 * time.Second
)
