// Package errors carries categorized errors for the order pipeline. A
// category tells callers whether a failed operation is safe to retry and
// which component refused it.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

type Category string

const (
	// Hard failures. The session should not retry these.
	CategoryFatal      Category = "FATAL"
	CategoryValidation Category = "VALIDATION"
	CategoryRisk       Category = "RISK"
	CategoryCapital    Category = "CAPITAL"

	// Transient failures. A later retry may succeed.
	CategoryBroker    Category = "BROKER"
	CategoryNetwork   Category = "NETWORK"
	CategoryTimeout   Category = "TIMEOUT"
	CategoryRateLimit Category = "RATE_LIMIT"
)

// TradingError is an error annotated with the component and operation that
// produced it.
type TradingError struct {
	Category  Category
	Component string
	Op        string
	Message   string
	Err       error
	Retryable bool
}

func (e *TradingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s %s: %s: %v", e.Category, e.Component, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s %s: %s", e.Category, e.Component, e.Op, e.Message)
}

func (e *TradingError) Unwrap() error {
	return e.Err
}

// New builds a categorized error without an underlying cause.
func New(category Category, component, op, message string) *TradingError {
	return &TradingError{
		Category:  category,
		Component: component,
		Op:        op,
		Message:   message,
		Retryable: retryableCategory(category),
	}
}

// Wrap annotates an existing error. Returns nil when err is nil.
func Wrap(err error, category Category, component, op string) *TradingError {
	if err == nil {
		return nil
	}
	return &TradingError{
		Category:  category,
		Component: component,
		Op:        op,
		Message:   "operation failed",
		Err:       err,
		Retryable: retryableCategory(category),
	}
}

// WithRetryable overrides the category default.
func (e *TradingError) WithRetryable(retryable bool) *TradingError {
	e.Retryable = retryable
	return e
}

func retryableCategory(category Category) bool {
	switch category {
	case CategoryBroker, CategoryNetwork, CategoryTimeout, CategoryRateLimit:
		return true
	default:
		return false
	}
}

// Classify wraps an error from an external collaborator, inferring the
// category from the error text when the chain carries no TradingError.
func Classify(err error, component, op string) *TradingError {
	if err == nil {
		return nil
	}
	var te *TradingError
	if errors.As(err, &te) {
		return te
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return Wrap(err, CategoryTimeout, component, op)
	case strings.Contains(msg, "connection") || strings.Contains(msg, "dial"):
		return Wrap(err, CategoryNetwork, component, op)
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return Wrap(err, CategoryRateLimit, component, op)
	case strings.Contains(msg, "insufficient") || strings.Contains(msg, "margin"):
		return Wrap(err, CategoryCapital, component, op)
	default:
		return Wrap(err, CategoryBroker, component, op)
	}
}

func BrokerRejection(component, op string, err error) *TradingError {
	return Classify(err, component, op)
}

func RiskBlock(component, op, message string) *TradingError {
	return New(CategoryRisk, component, op, message)
}

func RateLimited(component, op string) *TradingError {
	return New(CategoryRateLimit, component, op, "rate limit exceeded")
}

// IsRetryable reports whether the chain carries a retryable TradingError.
// Unannotated errors are not retryable.
func IsRetryable(err error) bool {
	var te *TradingError
	return errors.As(err, &te) && te.Retryable
}

// Is reports whether the chain carries a TradingError of the given category.
func Is(err error, category Category) bool {
	var te *TradingError
	return errors.As(err, &te) && te.Category == category
}
