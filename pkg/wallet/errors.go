package wallet

import (
	"errors"
	"strings"
)

// Sentinel errors for failures that require operator intervention rather than
// a retry.
var (
	// ErrSigningMisconfigured indicates the custody signing key is missing or
	// zeroed. Sending with a placeholder key would burn funds, so this fails
	// fast before any network call.
	ErrSigningMisconfigured = errors.New("custody signing key not configured")

	// ErrInsufficientFunds indicates the hot wallet cannot cover the transfer
	// plus its estimated fee.
	ErrInsufficientFunds = errors.New("insufficient wallet balance")

	// ErrTransactionRejected indicates the transaction was mined but reverted.
	ErrTransactionRejected = errors.New("transaction rejected on-chain")

	// ErrConfirmTimeout indicates no confirmation was observed within the
	// configured timeout. The transaction may still land later.
	ErrConfirmTimeout = errors.New("timed out waiting for confirmation")
)

// Failure classifies a dispatch error for callers deciding whether to retry.
type Failure string

const (
	FailureInsufficientFunds    Failure = "insufficient_funds"
	FailureSigningMisconfigured Failure = "signing_misconfigured"
	FailureNetwork              Failure = "network_error"
	FailureRejected             Failure = "transaction_rejected"
	FailureNonce                Failure = "nonce_error"
	FailureUnknown              Failure = "unknown_error"
)

// Classify maps a dispatch error to the failure taxonomy and reports whether
// a caller-level retry is worthwhile. Network-level failures are retryable;
// funding and signing failures need operator action first.
func Classify(err error) (retryable bool, failure Failure) {
	if err == nil {
		return false, ""
	}

	switch {
	case errors.Is(err, ErrSigningMisconfigured):
		return false, FailureSigningMisconfigured
	case errors.Is(err, ErrInsufficientFunds):
		return false, FailureInsufficientFunds
	case errors.Is(err, ErrTransactionRejected):
		return false, FailureRejected
	case errors.Is(err, ErrConfirmTimeout):
		return true, FailureNetwork
	}

	errStr := err.Error()

	// Network/RPC errors - retry is appropriate
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "context deadline exceeded") ||
		strings.Contains(errStr, "timed out") ||
		strings.Contains(errStr, "no response") ||
		strings.Contains(errStr, "EOF") {
		return true, FailureNetwork
	}

	// Nonce-related errors - retry may help after the nonce is corrected
	if strings.Contains(errStr, "nonce too low") ||
		strings.Contains(errStr, "nonce too high") ||
		strings.Contains(errStr, "replacement transaction underpriced") {
		return true, FailureNonce
	}

	// Balance-related errors reported by the node itself
	if strings.Contains(errStr, "insufficient balance") ||
		strings.Contains(errStr, "insufficient funds") {
		return false, FailureInsufficientFunds
	}

	return true, FailureUnknown
}
