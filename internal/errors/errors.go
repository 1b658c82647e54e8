package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Session lifecycle
	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeSessionExpired  ErrorCode = "SESSION_EXPIRED"

	// Wallet connection
	ErrCodeWalletNotConnected ErrorCode = "WALLET_NOT_CONNECTED"
	ErrCodeProtocolConfig     ErrorCode = "PROTOCOL_CONFIG_ERROR"
	ErrCodeConnectionTimeout  ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeChainMismatch      ErrorCode = "CHAIN_MISMATCH"

	// Transaction relay
	ErrCodeTransactionRejected   ErrorCode = "TRANSACTION_REJECTED"
	ErrCodeTransactionTimeout    ErrorCode = "TRANSACTION_TIMEOUT"
	ErrCodeTransactionFailed     ErrorCode = "TRANSACTION_FAILED"
	ErrCodeTransactionInProgress ErrorCode = "TRANSACTION_IN_PROGRESS"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func SessionNotFound() *AppError {
	return New(ErrCodeSessionNotFound, "No session found")
}

func SessionExpired() *AppError {
	return New(ErrCodeSessionExpired, "Session timeout")
}

func WalletNotConnected() *AppError {
	return New(ErrCodeWalletNotConnected, "Wallet is not connected")
}

func ProtocolConfig(message string) *AppError {
	return New(ErrCodeProtocolConfig, message)
}

func ConnectionTimeout() *AppError {
	return New(ErrCodeConnectionTimeout, "Wallet approval timed out")
}

func ChainMismatch(expected, actual int64) *AppError {
	return New(ErrCodeChainMismatch,
		fmt.Sprintf("Wallet is on chain %d, expected chain %d", actual, expected))
}

func TransactionRejected() *AppError {
	return New(ErrCodeTransactionRejected, "Transaction was rejected in the wallet")
}

func TransactionTimeout() *AppError {
	return New(ErrCodeTransactionTimeout, "Transaction signing timed out; check your wallet app")
}

func TransactionFailed(cause error) *AppError {
	return Wrap(ErrCodeTransactionFailed, "Transaction failed", cause)
}

func TransactionInProgress() *AppError {
	return New(ErrCodeTransactionInProgress, "Another transaction is already awaiting signature")
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}
