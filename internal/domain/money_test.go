package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestCommissionRoundsHalfUp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		amount string
		want   string
	}{
		{"100.00", "1.00"},
		{"0.50", "0.01"}, // 0.005 rounds up
		{"0.49", "0.00"},
		{"12.34", "0.12"},
		{"12.50", "0.13"},
		{"999999.99", "10000.00"},
	}

	for _, tc := range tests {
		got := Commission(decimal.RequireFromString(tc.amount), DefaultCommissionRate)
		if got.StringFixed(2) != tc.want {
			t.Errorf("Commission(%s) = %s, want %s", tc.amount, got.StringFixed(2), tc.want)
		}
	}
}

func TestHoldTotal(t *testing.T) {
	t.Parallel()

	total, commission := HoldTotal(decimal.RequireFromString("100.00"), DefaultCommissionRate)
	if Format(total) != "101.00" {
		t.Errorf("Expected total 101.00, got %s", Format(total))
	}
	if Format(commission) != "1.00" {
		t.Errorf("Expected commission 1.00, got %s", Format(commission))
	}
}

func TestValidateAmount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		amount string
		ok     bool
	}{
		{"0.01", true},
		{"100", true},
		{"100.10", true},
		{"0", false},
		{"-5.00", false},
		{"1.001", false},
	}

	for _, tc := range tests {
		err := ValidateAmount(decimal.RequireFromString(tc.amount))
		if tc.ok && err != nil {
			t.Errorf("ValidateAmount(%s) unexpected error: %v", tc.amount, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("ValidateAmount(%s) = %v, want ErrInvalidAmount", tc.amount, err)
		}
	}
}
