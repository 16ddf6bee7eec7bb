// Package validation provides centralized input validation for salesdb.
//
// Wire-level limits (string length, UTF-8) are enforced by the codec; the
// checks here are the semantic ones shared by the store and the server.
package validation

import (
	"fmt"
	"math"
	"unicode"
	"unicode/utf8"

	"github.com/xtxerr/salesdb/internal/errors"
)

// =============================================================================
// Name Validation
// =============================================================================

// NameRules defines the validation rules for names.
type NameRules struct {
	MinLength     int
	MaxLength     int
	AllowSpaces   bool
	AllowControls bool
}

// ProductRules returns the rules for product names. Any printable text is
// accepted, including spaces.
func ProductRules() NameRules {
	return NameRules{
		MinLength:   1,
		MaxLength:   math.MaxUint16,
		AllowSpaces: true,
	}
}

// UsernameRules returns the rules for usernames.
func UsernameRules() NameRules {
	return NameRules{
		MinLength: 1,
		MaxLength: 255,
	}
}

// ValidateName validates a name according to the given rules.
func ValidateName(name string, rules NameRules) error {
	if len(name) < rules.MinLength {
		return fmt.Errorf("name too short: minimum %d bytes required", rules.MinLength)
	}
	if len(name) > rules.MaxLength {
		return fmt.Errorf("name too long: maximum %d bytes allowed", rules.MaxLength)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("name is not valid UTF-8")
	}

	for i, r := range name {
		if !rules.AllowControls && unicode.IsControl(r) {
			return fmt.Errorf("name cannot contain control characters at position %d", i)
		}
		if !rules.AllowSpaces && unicode.IsSpace(r) {
			return fmt.Errorf("name cannot contain whitespace at position %d", i)
		}
	}

	return nil
}

// ValidateProduct validates a product name.
func ValidateProduct(product string) error {
	if err := ValidateName(product, ProductRules()); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidProduct, err)
	}
	return nil
}

// ValidateUsername validates a username.
func ValidateUsername(user string) error {
	if err := ValidateName(user, UsernameRules()); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidUsername, err)
	}
	return nil
}

// =============================================================================
// Numeric Validation
// =============================================================================

// ValidateQuantity requires a strictly positive quantity.
func ValidateQuantity(qty int32) error {
	if qty <= 0 {
		return errors.NewInvalidValue(errors.ErrInvalidQuantity, qty)
	}
	return nil
}

// ValidatePrice requires a finite, non-negative price.
func ValidatePrice(price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return errors.NewInvalidValue(errors.ErrInvalidPrice, price)
	}
	return nil
}

// ValidateDays requires 1 <= days <= retention.
func ValidateDays(days, retention int) error {
	if days < 1 || days > retention {
		return fmt.Errorf("%w: %d not in [1, %d]", errors.ErrInvalidDays, days, retention)
	}
	return nil
}

// ValidateCount requires a strictly positive count.
func ValidateCount(n int) error {
	if n <= 0 {
		return errors.NewInvalidValue(errors.ErrInvalidCount, n)
	}
	return nil
}

// ValidateQuantile requires 0 <= q <= 1.
func ValidateQuantile(q float64) error {
	if math.IsNaN(q) || q < 0 || q > 1 {
		return errors.NewInvalidValue(errors.ErrInvalidQuantile, q)
	}
	return nil
}

// ValidateProducts validates every name of a product set and requires it to
// be non-empty.
func ValidateProducts(products []string) error {
	if len(products) == 0 {
		return fmt.Errorf("%w: empty product set", errors.ErrInvalidProduct)
	}
	for _, p := range products {
		if err := ValidateProduct(p); err != nil {
			return err
		}
	}
	return nil
}
