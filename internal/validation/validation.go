// Package validation provides input validation helpers for the transfer API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for free-text string fields
const MaxStringLength = 2000

var (
	// accountRefRegex validates account references: bank-assigned
	// alphanumeric identifiers, 6 to 34 characters (covers IBAN lengths).
	accountRefRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]{5,33}$`)
	// currencyRegex validates ISO 4217 alphabetic codes.
	currencyRegex = regexp.MustCompile(`^[A-Za-z]{3}$`)
	// bankCodeRegex validates BIC-style bank codes.
	bankCodeRegex = regexp.MustCompile(`^[A-Za-z0-9]{8}([A-Za-z0-9]{3})?$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidAccountRef checks if a string is a plausible account reference.
func IsValidAccountRef(ref string) bool {
	return accountRefRegex.MatchString(ref)
}

// IsValidCurrency checks if a string is a 3-letter currency code.
func IsValidCurrency(code string) bool {
	return currencyRegex.MatchString(code)
}

// IsValidBankCode checks if a string is an 8- or 11-character bank code.
func IsValidBankCode(code string) bool {
	return bankCodeRegex.MatchString(code)
}

// SanitizeString removes null bytes, trims whitespace, and limits length.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	s = strings.ReplaceAll(s, "\x00", "")
	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs the given validators and collects their errors.
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks that a field is non-empty.
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidAccountRef checks that a field holds a plausible account reference.
func ValidAccountRef(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if !IsValidAccountRef(value) {
			return &ValidationError{Field: field, Message: "must be a valid account reference"}
		}
		return nil
	}
}

// ValidCurrency checks that a field holds a 3-letter currency code.
func ValidCurrency(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if !IsValidCurrency(value) {
			return &ValidationError{Field: field, Message: "must be a 3-letter currency code"}
		}
		return nil
	}
}

// ValidBankCode checks an optional bank code field.
func ValidBankCode(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidBankCode(value) {
			return &ValidationError{Field: field, Message: "must be an 8 or 11 character bank code"}
		}
		return nil
	}
}

// ValidAmount checks that a field parses as a positive decimal amount.
func ValidAmount(field, value string) func() *ValidationError {
	return func() *ValidationError {
		amount, err := decimal.NewFromString(value)
		if err != nil {
			return &ValidationError{Field: field, Message: "must be a decimal amount"}
		}
		if amount.Sign() <= 0 {
			return &ValidationError{Field: field, Message: "must be positive"}
		}
		if amount.Exponent() < -6 {
			return &ValidationError{Field: field, Message: "supports at most 6 decimal places"}
		}
		return nil
	}
}
