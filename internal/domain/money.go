package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits every amount is kept at.
const Scale = 2

// DefaultCommissionRate is the fee charged on top of every hold.
var DefaultCommissionRate = decimal.RequireFromString("0.01")

// Commission returns amount*rate rounded half-up to cents.
func Commission(amount, rate decimal.Decimal) decimal.Decimal {
	// decimal.Round rounds half away from zero, which is half-up for
	// the non-negative amounts the ledger deals in.
	return amount.Mul(rate).Round(Scale)
}

// HoldTotal returns the amount a hold reserves: amount plus its commission.
func HoldTotal(amount, rate decimal.Decimal) (total, commission decimal.Decimal) {
	commission = Commission(amount, rate)
	return amount.Add(commission).Round(Scale), commission
}

// ValidateAmount rejects non-positive amounts and amounts finer than a cent.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s must be greater than zero", ErrInvalidAmount, amount.StringFixed(Scale))
	}
	if !amount.Equal(amount.Round(Scale)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, amount.String(), Scale)
	}
	return nil
}

// Format renders an amount at the ledger scale.
func Format(amount decimal.Decimal) string {
	return amount.StringFixed(Scale)
}
