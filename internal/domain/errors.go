package domain

import "errors"

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidCallback     = errors.New("invalid callback url")
	ErrMissingPayer        = errors.New("payer is required")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrMessagingFailure    = errors.New("messaging failure")
	ErrCallbackDelivery    = errors.New("callback delivery failed")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrBalanceNotFound     = errors.New("balance not found")

	// ErrLedgerInconsistency means the balance no longer agrees with its
	// transaction log. It is never corrected automatically.
	ErrLedgerInconsistency = errors.New("ledger inconsistency")
)
