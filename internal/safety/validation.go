package safety

import (
	"fmt"
	"math"
)

// ValidationResult represents the result of a validation check
type ValidationResult struct {
	Valid   bool
	Message string
	Code    string
}

// Validator sanity-checks order inputs before any risk math runs on them.
type Validator struct{}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// ValidatePrice rejects non-positive, NaN, infinite and absurd prices.
func (v *Validator) ValidatePrice(price float64) ValidationResult {
	if math.IsNaN(price) {
		return ValidationResult{
			Valid:   false,
			Message: "price is NaN",
			Code:    "INVALID_PRICE_NAN",
		}
	}
	if math.IsInf(price, 0) {
		return ValidationResult{
			Valid:   false,
			Message: "price is infinite",
			Code:    "INVALID_PRICE_INF",
		}
	}
	if price <= 0 {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("price %.2f must be positive", price),
			Code:    "INVALID_PRICE_NEGATIVE",
		}
	}
	// No NSE instrument trades anywhere near this level
	if price > 1e7 {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("price %.2f exceeds reasonable bounds", price),
			Code:    "PRICE_OUT_OF_BOUNDS",
		}
	}
	return ValidationResult{Valid: true}
}

// ValidateQuantity rejects non-positive and absurd quantities.
func (v *Validator) ValidateQuantity(quantity int) ValidationResult {
	if quantity <= 0 {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("quantity %d must be positive", quantity),
			Code:    "INVALID_QUANTITY_NEGATIVE",
		}
	}
	if quantity > 1e7 {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("quantity %d exceeds reasonable bounds", quantity),
			Code:    "QUANTITY_OUT_OF_BOUNDS",
		}
	}
	return ValidationResult{Valid: true}
}

// ValidatePercent checks a percent parameter against an inclusive upper
// bound.
func (v *Validator) ValidatePercent(value, max float64) ValidationResult {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return ValidationResult{
			Valid:   false,
			Message: "percent is not a finite number",
			Code:    "INVALID_PERCENT",
		}
	}
	if value <= 0 || value > max {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("percent %.2f must be in (0, %.2f]", value, max),
			Code:    "PERCENT_OUT_OF_RANGE",
		}
	}
	return ValidationResult{Valid: true}
}
