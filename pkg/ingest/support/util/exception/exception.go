// Package exception provides custom error types and error handling utilities for the
// Ingot ingestion pipeline. It standardizes errors raised while parsing, chunking,
// upserting and reconciling so that callers can classify them for retry and skip
// decisions.
package exception

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// BatchError is a custom error type raised during ingestion processing.
// It holds the module where the error occurred, a message, the wrapped original
// error, and flags indicating whether it is retryable or skippable.
type BatchError struct {
	// Module indicates the module where the error occurred (e.g., "parser", "dispatch", "worker", "reconcile").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// isRetryable indicates whether this error is retryable.
	isRetryable bool
	// isSkippable indicates whether this error is skippable.
	isSkippable bool
	// StackTrace is the stack trace at the time of the error (for debugging).
	StackTrace string
}

// NewBatchError creates a new BatchError instance.
// module: The module where the error occurred.
// message: The error message.
// originalErr: The original error to wrap.
// isSkippable: Whether this error is skippable.
// isRetryable: Whether this error is retryable.
func NewBatchError(module, message string, originalErr error, isSkippable, isRetryable bool) *BatchError {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)

	return &BatchError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  string(buf[:n]),
	}
}

// NewBatchErrorf creates a new BatchError instance using a format string.
// Optional flags and an error are extracted from the end of the variadic arguments 'a'
// in the order: [isSkippable bool], [isRetryable bool], [originalErr error].
// The remaining arguments are used for fmt.Sprintf.
//
// Examples:
// NewBatchErrorf("parser", "failed to read entry: %s", "data.csv", true, true, io.ErrUnexpectedEOF)
// -> message: "failed to read entry: data.csv", isSkippable: true, isRetryable: true
//
// NewBatchErrorf("worker", "upsert failed", false, sql.ErrTxDone)
// -> message: "upsert failed", isSkippable: false, isRetryable: false
func NewBatchErrorf(module, format string, a ...interface{}) *BatchError {
	var originalErr error
	isRetryable := false
	isSkippable := false
	args := a

	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			originalErr = err
			args = args[:len(args)-1]
		}
	}
	if len(args) > 0 {
		if b, ok := args[len(args)-1].(bool); ok {
			isRetryable = b
			args = args[:len(args)-1]
		}
	}
	if len(args) > 0 {
		if b, ok := args[len(args)-1].(bool); ok {
			isSkippable = b
			args = args[:len(args)-1]
		}
	}

	message := fmt.Sprintf(format, args...)

	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)

	return &BatchError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  string(buf[:n]),
	}
}

// ErrOptimisticLockingFailure is a sentinel error indicating an optimistic locking failure.
var ErrOptimisticLockingFailure = errors.New("OptimisticLockingFailureException")

// NewOptimisticLockingFailureException creates a BatchError indicating an optimistic
// locking failure. This error is neither retryable nor skippable.
func NewOptimisticLockingFailureException(module, message string, originalErr error) *BatchError {
	var errToWrap error
	if originalErr != nil {
		errToWrap = errors.Join(ErrOptimisticLockingFailure, originalErr)
	} else {
		errToWrap = ErrOptimisticLockingFailure
	}
	return NewBatchError(module, message, errToWrap, false, false)
}

// IsOptimisticLockingFailure determines if an error indicates an optimistic locking failure.
func IsOptimisticLockingFailure(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrOptimisticLockingFailure)
}

// Error implements the error interface.
// It returns the error's module, message, and the string representation of the original error.
func (e *BatchError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns whether this error is retryable.
func (e *BatchError) IsRetryable() bool {
	return e.isRetryable
}

// IsSkippable returns whether this error is skippable.
func (e *BatchError) IsSkippable() bool {
	return e.isSkippable
}

// IsBatchError determines if the given error is of type BatchError.
func IsBatchError(err error) bool {
	if err == nil {
		return false
	}
	var be *BatchError
	return errors.As(err, &be)
}

// IsTemporary determines if an error is temporary (e.g., network error, temporary DB
// connection issue). Retry logic uses this to decide whether another attempt is
// worthwhile. For a BatchError the IsRetryable flag takes precedence.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var be *BatchError
	if errors.As(err, &be) {
		return be.IsRetryable()
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "EOF")
}

// IsFatal determines if an error is fatal (cannot be retried or skipped).
// For a BatchError the flags take precedence.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var be *BatchError
	if errors.As(err, &be) {
		return !be.IsRetryable() && !be.IsSkippable()
	}
	errStr := err.Error()
	return strings.Contains(errStr, "invalid argument") ||
		strings.Contains(errStr, "permission denied") ||
		strings.Contains(errStr, "data corruption")
}

// ExtractErrorMessage extracts the error message string from an error.
// For BatchError, it returns the cleaner Message field.
// Otherwise, it returns the standard Error() string.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var be *BatchError
	if errors.As(err, &be) {
		return be.Message
	}
	return err.Error()
}
