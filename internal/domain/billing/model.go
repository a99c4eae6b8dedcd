package billing

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Payment statuses. refunded is terminal: the bill no longer accepts
// payments once its paid amount has been fully returned.
const (
	BillUnpaid   = "unpaid"
	BillPartial  = "partial"
	BillPaid     = "paid"
	BillRefunded = "refunded"
)

// Ledger entry kinds. paid_amount is always the replayable sum of
// payments minus refunds.
const (
	EntryPayment = "payment"
	EntryRefund  = "refund"
)

// Payment methods accepted by the cashier.
const (
	MethodCash         = "cash"
	MethodCard         = "card"
	MethodBankTransfer = "bank_transfer"
	MethodInsurance    = "insurance"
	MethodCheque       = "cheque"
)

var validMethods = map[string]bool{
	MethodCash: true, MethodCard: true, MethodBankTransfer: true,
	MethodInsurance: true, MethodCheque: true,
}

// Bill aggregates a patient's charges for one episode of care. Derived
// fields (subtotal, discount, tax, total, balance, status) are always
// recomputed from the components and never hand-edited.
type Bill struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	BillNumber          string     `db:"bill_number" json:"bill_number"`
	PatientID           uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID            *uuid.UUID `db:"doctor_id" json:"doctor_id,omitempty"`
	BillDate            time.Time  `db:"bill_date" json:"bill_date"`
	ConsultationFee     float64    `db:"consultation_fee" json:"consultation_fee"`
	LabTestsTotal       float64    `db:"lab_tests_total" json:"lab_tests_total"`
	MedicinesTotal      float64    `db:"medicines_total" json:"medicines_total"`
	ProceduresTotal     float64    `db:"procedures_total" json:"procedures_total"`
	RoomCharges         float64    `db:"room_charges" json:"room_charges"`
	OtherCharges        float64    `db:"other_charges" json:"other_charges"`
	Subtotal            float64    `db:"subtotal" json:"subtotal"`
	DiscountPercentage  float64    `db:"discount_percentage" json:"discount_percentage"`
	DiscountAmount      float64    `db:"discount_amount" json:"discount_amount"`
	TaxPercentage       float64    `db:"tax_percentage" json:"tax_percentage"`
	TaxAmount           float64    `db:"tax_amount" json:"tax_amount"`
	InsuranceProviderID *uuid.UUID `db:"insurance_provider_id" json:"insurance_provider_id,omitempty"`
	InsuranceCoverage   float64    `db:"insurance_coverage" json:"insurance_coverage"`
	TotalAmount         float64    `db:"total_amount" json:"total_amount"`
	PaidAmount          float64    `db:"paid_amount" json:"paid_amount"`
	BalanceAmount       float64    `db:"balance_amount" json:"balance_amount"`
	PaymentStatus       string     `db:"payment_status" json:"payment_status"`
	Notes               *string    `db:"notes" json:"notes,omitempty"`
	CreatedBy           *string    `db:"created_by" json:"created_by,omitempty"`
	VersionID           int        `db:"version_id" json:"version_id"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

func (b *Bill) GetVersionID() int  { return b.VersionID }
func (b *Bill) SetVersionID(v int) { b.VersionID = v }

// round2 keeps monetary values at cent precision.
func round2(v float64) float64 { return math.Round(v*100) / 100 }

// Recalculate re-derives every computed field from the charge
// components, percentages, insurance coverage and current paid amount.
// Idempotent: with no intervening change, a second call is a no-op.
func (b *Bill) Recalculate() {
	b.Subtotal = round2(b.ConsultationFee + b.LabTestsTotal + b.MedicinesTotal +
		b.ProceduresTotal + b.RoomCharges + b.OtherCharges)
	b.DiscountAmount = round2(b.Subtotal * b.DiscountPercentage / 100)
	b.TaxAmount = round2((b.Subtotal - b.DiscountAmount) * b.TaxPercentage / 100)
	b.TotalAmount = round2(b.Subtotal - b.DiscountAmount + b.TaxAmount - b.InsuranceCoverage)
	b.BalanceAmount = round2(b.TotalAmount - b.PaidAmount)

	// refunded is sticky; otherwise the status is a pure function of
	// paid versus total.
	if b.PaymentStatus != BillRefunded {
		b.PaymentStatus = statusFor(b.PaidAmount, b.TotalAmount)
	}
}

func statusFor(paid, total float64) string {
	switch {
	case paid <= 0:
		return BillUnpaid
	case paid >= total:
		return BillPaid
	default:
		return BillPartial
	}
}

// Closed reports whether the bill rejects further payments.
func (b *Bill) Closed() bool { return b.PaymentStatus == BillRefunded }

// LedgerEntry is one immutable monetary transaction against a bill.
type LedgerEntry struct {
	ID                   uuid.UUID `db:"id" json:"id"`
	EntryNumber          string    `db:"entry_number" json:"entry_number"`
	BillID               uuid.UUID `db:"bill_id" json:"bill_id"`
	Kind                 string    `db:"kind" json:"kind"`
	Amount               float64   `db:"amount" json:"amount"`
	Method               string    `db:"method" json:"method"`
	PaymentDate          time.Time `db:"payment_date" json:"payment_date"`
	TransactionReference *string   `db:"transaction_reference" json:"transaction_reference,omitempty"`
	ReceivedBy           *string   `db:"received_by" json:"received_by,omitempty"`
	Notes                *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
}

// Reconciliation is the result of replaying a bill's ledger against its
// cached paid amount.
type Reconciliation struct {
	BillID      uuid.UUID `json:"bill_id"`
	PaidAmount  float64   `json:"paid_amount"`
	Payments    float64   `json:"payments"`
	Refunds     float64   `json:"refunds"`
	LedgerTotal float64   `json:"ledger_total"`
	Consistent  bool      `json:"consistent"`
}
