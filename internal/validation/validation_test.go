package validation

import (
	"math"
	"strings"
	"testing"

	"github.com/xtxerr/salesdb/internal/errors"
)

func TestValidateProduct(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "apples", false},
		{"with space", "green apples", false},
		{"unicode", "äpfel", false},
		{"punctuation", "a/b.c-d_e", false},
		{"empty", "", true},
		{"control char", "a\x00b", true},
		{"newline", "a\nb", true},
		{"invalid utf8", "a\xffb", true},
		{"too long", strings.Repeat("x", math.MaxUint16+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProduct(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateProduct(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errors.ErrInvalidProduct) {
				t.Errorf("ValidateProduct(%q) error %v is not ErrInvalidProduct", tt.input, err)
			}
		})
	}
}

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "alice", false},
		{"digits", "user42", false},
		{"empty", "", true},
		{"space", "al ice", true},
		{"tab", "al\tice", true},
		{"too long", strings.Repeat("u", 256), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUsername(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateNumbers(t *testing.T) {
	if err := ValidateQuantity(1); err != nil {
		t.Errorf("ValidateQuantity(1) = %v", err)
	}
	if err := ValidateQuantity(0); !errors.Is(err, errors.ErrInvalidQuantity) {
		t.Errorf("ValidateQuantity(0) = %v", err)
	}
	if err := ValidatePrice(0); err != nil {
		t.Errorf("ValidatePrice(0) = %v", err)
	}
	for _, p := range []float64{-0.01, math.NaN(), math.Inf(1)} {
		if err := ValidatePrice(p); !errors.Is(err, errors.ErrInvalidPrice) {
			t.Errorf("ValidatePrice(%v) = %v", p, err)
		}
	}
	if err := ValidateDays(3, 3); err != nil {
		t.Errorf("ValidateDays(3, 3) = %v", err)
	}
	for _, d := range []int{0, 4, -1} {
		if err := ValidateDays(d, 3); !errors.Is(err, errors.ErrInvalidDays) {
			t.Errorf("ValidateDays(%d, 3) = %v", d, err)
		}
	}
	if err := ValidateCount(0); !errors.Is(err, errors.ErrInvalidCount) {
		t.Errorf("ValidateCount(0) = %v", err)
	}
	for _, q := range []float64{0, 0.5, 1} {
		if err := ValidateQuantile(q); err != nil {
			t.Errorf("ValidateQuantile(%v) = %v", q, err)
		}
	}
	for _, q := range []float64{-0.1, 1.1, math.NaN()} {
		if err := ValidateQuantile(q); !errors.Is(err, errors.ErrInvalidQuantile) {
			t.Errorf("ValidateQuantile(%v) = %v", q, err)
		}
	}
}

func TestValidateProducts(t *testing.T) {
	if err := ValidateProducts(nil); !errors.Is(err, errors.ErrInvalidProduct) {
		t.Errorf("ValidateProducts(nil) = %v", err)
	}
	if err := ValidateProducts([]string{"a", ""}); !errors.Is(err, errors.ErrInvalidProduct) {
		t.Errorf("ValidateProducts with empty name = %v", err)
	}
	if err := ValidateProducts([]string{"a", "b"}); err != nil {
		t.Errorf("ValidateProducts = %v", err)
	}
}
