package domain

import (
	"errors"
	"fmt"
)

// ErrPreconditionFailed marks a business precondition failure (non-positive
// price, no orderable symbols, unsupported ticker). Never retried; aborts
// only the current account's cycle.
var ErrPreconditionFailed = errors.New("precondition failed")

// ErrInvalidTransition marks an illegal lifecycle status transition.
// This is a defect, not a business condition: it must surface synchronously
// and must never be swallowed by retry logic.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrNotExchangeable is returned when an account has no positive
// exchangeable foreign-currency amount.
var ErrNotExchangeable = errors.New("no exchangeable amount")

// StopOrderOperationError halts an account's automated trading cycle
// entirely until manually cleared. Raised when trade history shows activity
// from a channel other than the automated-order channel.
type StopOrderOperationError struct {
	AccountNumber string
	Reason        string
}

func (e *StopOrderOperationError) Error() string {
	return fmt.Sprintf("stop order operation for account %s: %s", e.AccountNumber, e.Reason)
}

// IsStopOrderOperation reports whether err is a StopOrderOperationError.
func IsStopOrderOperation(err error) bool {
	var stopErr *StopOrderOperationError
	return errors.As(err, &stopErr)
}

// RetryableError wraps a transient external-API failure (HTTP 429/5xx
// class, inconsistent FX rate at apply time). Only errors wrapped in this
// type are eligible for bounded-backoff retry.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps err as transient. Returns nil when err is nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err is (or wraps) a transient failure.
func IsRetryable(err error) bool {
	var retryErr *RetryableError
	return errors.As(err, &retryErr)
}
