package service

import (
	"errors"
	"fmt"
)

// ErrOrderNotFound is returned when no order matches the given id or
// gateway session id. A capture for an unknown session never creates or
// guesses an order.
var ErrOrderNotFound = errors.New("order not found")

// ErrProductNotFound is returned for lookups of unknown catalog products.
var ErrProductNotFound = errors.New("product not found")

// ValidationError rejects bad input before anything is persisted or any
// remote call is made.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

func validationf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// GatewayUnavailableError means the processor could not be reached while
// creating a payment session. The order persists in PENDING without a
// session id and the caller may retry session creation later.
type GatewayUnavailableError struct {
	OrderID string
	Err     error
}

func (e *GatewayUnavailableError) Error() string {
	return fmt.Sprintf("payment gateway unavailable for order %s: %v", e.OrderID, e.Err)
}

func (e *GatewayUnavailableError) Unwrap() error {
	return e.Err
}

// CaptureFailedError means the processor declined or errored on capture.
// No capture id is written either way. When Retryable is true the order
// stays PENDING and the caller may try again; when false the decline is
// terminal and the order is moved to FAILED.
type CaptureFailedError struct {
	OrderID   string
	Code      string
	Reason    string
	Retryable bool
}

func (e *CaptureFailedError) Error() string {
	return fmt.Sprintf("capture failed for order %s (%s): %s", e.OrderID, e.Code, e.Reason)
}
