package billing

import "errors"

var (
	// ErrNotFound is returned when a bill or ledger entry id does not resolve.
	ErrNotFound = errors.New("not found")

	// ErrInvalidAmount is returned for zero or negative payment and
	// refund amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrBillClosed is returned when recording a payment against a
	// refunded bill.
	ErrBillClosed = errors.New("bill is closed")

	// ErrRefundExceedsPaid is returned when a refund would take the
	// paid amount below zero.
	ErrRefundExceedsPaid = errors.New("refund exceeds paid amount")

	// ErrContractInactive is returned when applying coverage from a
	// provider whose contract window does not include today.
	ErrContractInactive = errors.New("insurance contract not active")
)
