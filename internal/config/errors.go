package config

import (
	"errors"
	"time"
)

// Sentinel errors for internal use.
var (
	ErrInvalidConfig       = errors.New("invalid config")
	ErrInvalidMnemonic     = errors.New("invalid mnemonic")
	ErrKeyDerivation       = errors.New("key derivation failed")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrCircuitOpen         = errors.New("circuit breaker is open")

	// Session
	ErrNotConnected    = errors.New("wallet not connected")
	ErrWrongChain      = errors.New("connected to unexpected chain")
	ErrReadOnlySession = errors.New("session has no signing key")

	// Actions
	ErrInvalidInput        = errors.New("invalid input")
	ErrInsufficientBalance = errors.New("amount exceeds known balance")
	ErrApprovalRequired    = errors.New("approval required before this action")
	ErrActionInFlight      = errors.New("action already in flight for this target")
	ErrPoolDisabled        = errors.New("pool selling is disabled")
	ErrNotUnlocked         = errors.New("position is still locked")
	ErrNotStaked           = errors.New("position is not staked")
	ErrUnknownAction       = errors.New("unknown action kind")

	// Transactions
	ErrTxRejected = errors.New("transaction rejected")
	ErrTxReverted = errors.New("transaction reverted")
)

// TransientError wraps an error that should be retried.
type TransientError struct {
	Err        error
	RetryAfter time.Duration // 0 = use default backoff
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps an error as transient (retriable).
func NewTransientError(err error) error {
	return &TransientError{Err: err}
}

// NewTransientErrorWithRetry wraps with explicit retry delay.
func NewTransientErrorWithRetry(err error, retryAfter time.Duration) error {
	return &TransientError{Err: err, RetryAfter: retryAfter}
}

// IsTransient returns true if the error is transient (retriable).
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// GetRetryAfter returns the retry delay if set, or 0.
func GetRetryAfter(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

// Error codes shared with clients via API responses.
const (
	ErrorInvalidConfig       = "ERROR_INVALID_CONFIG"
	ErrorDatabase            = "ERROR_DATABASE"
	ErrorInvalidAddress      = "ERROR_INVALID_ADDRESS"
	ErrorInvalidInput        = "ERROR_INVALID_INPUT"
	ErrorInsufficientBalance = "ERROR_INSUFFICIENT_BALANCE"
	ErrorApprovalRequired    = "ERROR_APPROVAL_REQUIRED"
	ErrorActionInFlight      = "ERROR_ACTION_IN_FLIGHT"
	ErrorPoolDisabled        = "ERROR_POOL_DISABLED"
	ErrorNotUnlocked         = "ERROR_NOT_UNLOCKED"
	ErrorNotStaked           = "ERROR_NOT_STAKED"
	ErrorUnknownAction       = "ERROR_UNKNOWN_ACTION"
	ErrorNotConnected        = "ERROR_NOT_CONNECTED"
	ErrorWrongChain          = "ERROR_WRONG_CHAIN"
	ErrorReadOnlySession     = "ERROR_READ_ONLY_SESSION"
	ErrorProviderUnavailable = "ERROR_PROVIDER_UNAVAILABLE"
	ErrorTxRejected          = "ERROR_TX_REJECTED"
	ErrorTxReverted          = "ERROR_TX_REVERTED"
	ErrorNotFound            = "ERROR_NOT_FOUND"
	ErrorInternal            = "ERROR_INTERNAL"
)

// codeBySentinel maps sentinels to their API error codes.
var codeBySentinel = []struct {
	err  error
	code string
}{
	{ErrInvalidInput, ErrorInvalidInput},
	{ErrInsufficientBalance, ErrorInsufficientBalance},
	{ErrApprovalRequired, ErrorApprovalRequired},
	{ErrActionInFlight, ErrorActionInFlight},
	{ErrPoolDisabled, ErrorPoolDisabled},
	{ErrNotUnlocked, ErrorNotUnlocked},
	{ErrNotStaked, ErrorNotStaked},
	{ErrUnknownAction, ErrorUnknownAction},
	{ErrNotConnected, ErrorNotConnected},
	{ErrWrongChain, ErrorWrongChain},
	{ErrReadOnlySession, ErrorReadOnlySession},
	{ErrProviderUnavailable, ErrorProviderUnavailable},
	{ErrCircuitOpen, ErrorProviderUnavailable},
	{ErrTxRejected, ErrorTxRejected},
	{ErrTxReverted, ErrorTxReverted},
	{ErrInvalidConfig, ErrorInvalidConfig},
}

// ErrorCode returns the API error code for err, or ErrorInternal when no sentinel matches.
func ErrorCode(err error) string {
	for _, m := range codeBySentinel {
		if errors.Is(err, m.err) {
			return m.code
		}
	}
	return ErrorInternal
}
