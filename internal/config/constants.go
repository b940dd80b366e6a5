package config

import "time"

// Gap-limit and address bookkeeping
const (
	DefaultAddressGapLimit = 20
)

// Confirmation maintenance (§4.15)
const (
	DefaultDeepConfirmationThreshold = 100
)

// Pipeline phase batching (§5 of the synchronization design)
const (
	HistoryFanoutWidth     = 10
	UTXOFanoutWidth        = 10
	TransactionFanoutWidth = 5
	TxBatchSizeMain        = 25
	TxBatchSizeBackfill    = 5
	BalanceChunkSize       = 500
	NotificationChannelBuffer = 256
)

// Sanity limits applied during classification (§4.6)
const (
	MaxPlausibleFeeSats = 100_000_000 // 1 BTC
	SatoshiThreshold    = 1_000_000   // amounts >= this are already satoshis
	SatoshisPerBTC      = 100_000_000
)

// Block header format (§6)
const (
	BlockHeaderSize          = 80
	BlockHeaderTimestampFrom = 68
	BlockHeaderTimestampTo   = 72
)

// Block-height / timestamp cache
const (
	BlockTimestampLRUCapacity = 1000
)

// Resilience: node-client rate limiting and circuit breaking
const (
	NodeClientRequestsPerSecond  = 10
	CircuitBreakerThreshold      = 5
	CircuitBreakerCooldown       = 30 * time.Second
	CircuitBreakerHalfOpenMax    = 1
	NodeRequestTimeout           = 30 * time.Second
)

// Circuit breaker states
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half-open"
)

// Remote node transport kinds
const (
	NodeTypeElectrum = "electrum"
	NodeTypeCore     = "core"
)

// Server
const (
	ServerReadTimeout  = 15 * time.Second
	ServerWriteTimeout = 30 * time.Second
	ShutdownTimeout    = 10 * time.Second
)

// Database
const (
	DBBusyTimeoutMillis = 5000
)

// Logging
const (
	LogFilePattern = "syncd-%s-%s.log" // %s = date, %s = level
	LogFilePrefix  = "syncd-"
	LogMaxAgeDays  = 30
)
