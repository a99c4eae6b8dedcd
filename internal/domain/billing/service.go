package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Islam-alshiki/Hospital-Management-System/internal/platform/clock"
	"github.com/Islam-alshiki/Hospital-Management-System/internal/platform/db"
)

// Service implements the billing ledger. Payment and refund entries are
// append-only; every write to a bill's totals happens in the same
// transaction as the entry that caused it.
type Service struct {
	bills     BillRepository
	entries   LedgerRepository
	stays     StayReader
	providers ProviderLookup
	patients  PatientLookup
	clk       clock.Clock
	runTx     func(ctx context.Context, fn func(context.Context) error) error
	retry     db.RetryPolicy
}

func NewService(pool *pgxpool.Pool, bills BillRepository, entries LedgerRepository,
	stays StayReader, providers ProviderLookup, patients PatientLookup, clk clock.Clock) *Service {
	return &Service{
		bills:     bills,
		entries:   entries,
		stays:     stays,
		providers: providers,
		patients:  patients,
		clk:       clk,
		runTx: func(ctx context.Context, fn func(context.Context) error) error {
			return db.WithTx(ctx, pool, fn)
		},
		retry: db.DefaultRetryPolicy(),
	}
}

// numberFor builds a human-readable document number. The suffix comes
// from the document's own UUID so numbers stay unique under any daily
// volume without a sequence round-trip.
func numberFor(prefix string, clk clock.Clock, id uuid.UUID) string {
	return fmt.Sprintf("%s-%s-%x", prefix, clk.Now().Format("20060102"), id[0:4])
}

// -- Bill lifecycle --

type CreateBillRequest struct {
	PatientID           uuid.UUID  `json:"patient_id"`
	DoctorID            *uuid.UUID `json:"doctor_id,omitempty"`
	ConsultationFee     float64    `json:"consultation_fee"`
	LabTestsTotal       float64    `json:"lab_tests_total"`
	MedicinesTotal      float64    `json:"medicines_total"`
	ProceduresTotal     float64    `json:"procedures_total"`
	RoomCharges         float64    `json:"room_charges"`
	OtherCharges        float64    `json:"other_charges"`
	DiscountPercentage  float64    `json:"discount_percentage"`
	TaxPercentage       float64    `json:"tax_percentage"`
	InsuranceProviderID *uuid.UUID `json:"insurance_provider_id,omitempty"`
	Notes               *string    `json:"notes,omitempty"`
	CreatedBy           *string    `json:"created_by,omitempty"`
}

func (s *Service) CreateBill(ctx context.Context, req CreateBillRequest) (*Bill, error) {
	if req.PatientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	if req.DiscountPercentage < 0 || req.DiscountPercentage > 100 {
		return nil, fmt.Errorf("discount_percentage must be between 0 and 100")
	}
	if req.TaxPercentage < 0 {
		return nil, fmt.Errorf("tax_percentage must not be negative")
	}

	ok, err := s.patients.Exists(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}

	billID := uuid.New()
	b := &Bill{
		ID:                  billID,
		BillNumber:          numberFor("BILL", s.clk, billID),
		PatientID:           req.PatientID,
		DoctorID:            req.DoctorID,
		BillDate:            s.clk.Now(),
		ConsultationFee:     req.ConsultationFee,
		LabTestsTotal:       req.LabTestsTotal,
		MedicinesTotal:      req.MedicinesTotal,
		ProceduresTotal:     req.ProceduresTotal,
		RoomCharges:         req.RoomCharges,
		OtherCharges:        req.OtherCharges,
		DiscountPercentage:  req.DiscountPercentage,
		TaxPercentage:       req.TaxPercentage,
		InsuranceProviderID: req.InsuranceProviderID,
		Notes:               req.Notes,
		CreatedBy:           req.CreatedBy,
	}
	b.Recalculate()

	if err := s.bills.Create(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) GetBill(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return s.bills.GetByID(ctx, id)
}

func (s *Service) ListBillsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Bill, int, error) {
	return s.bills.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListLedgerEntries(ctx context.Context, billID uuid.UUID, limit, offset int) ([]*LedgerEntry, int, error) {
	if _, err := s.bills.GetByID(ctx, billID); err != nil {
		return nil, 0, err
	}
	return s.entries.ListByBill(ctx, billID, limit, offset)
}

// RecalculateTotals re-derives a bill's computed fields. Idempotent.
func (s *Service) RecalculateTotals(ctx context.Context, billID uuid.UUID) (*Bill, error) {
	var out *Bill
	err := db.WithRetry(ctx, s.retry, func(ctx context.Context) error {
		return s.runTx(ctx, func(ctx context.Context) error {
			b, err := s.bills.GetForUpdate(ctx, billID)
			if err != nil {
				return err
			}
			b.Recalculate()
			if err := s.bills.Update(ctx, b); err != nil {
				return err
			}
			out = b
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// -- Payments --

type RecordPaymentRequest struct {
	Amount               float64 `json:"amount"`
	Method               string  `json:"method"`
	TransactionReference *string `json:"transaction_reference,omitempty"`
	ReceivedBy           *string `json:"received_by,omitempty"`
	Notes                *string `json:"notes,omitempty"`
}

// RecordPayment appends a payment entry and bumps the bill's paid
// amount in one atomic unit. Two concurrent payments against the same
// bill are both reflected; the row lock serializes them.
func (s *Service) RecordPayment(ctx context.Context, billID uuid.UUID, req RecordPaymentRequest) (*LedgerEntry, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.Method == "" {
		req.Method = MethodCash
	}
	if !validMethods[req.Method] {
		return nil, fmt.Errorf("invalid payment method: %s", req.Method)
	}

	var out *LedgerEntry
	err := db.WithRetry(ctx, s.retry, func(ctx context.Context) error {
		return s.runTx(ctx, func(ctx context.Context) error {
			b, err := s.bills.GetForUpdate(ctx, billID)
			if err != nil {
				return err
			}
			if b.Closed() {
				return ErrBillClosed
			}

			entryID := uuid.New()
			e := &LedgerEntry{
				ID:                   entryID,
				EntryNumber:          numberFor("PAY", s.clk, entryID),
				BillID:               b.ID,
				Kind:                 EntryPayment,
				Amount:               round2(req.Amount),
				Method:               req.Method,
				PaymentDate:          s.clk.Now(),
				TransactionReference: req.TransactionReference,
				ReceivedBy:           req.ReceivedBy,
				Notes:                req.Notes,
			}
			if err := s.entries.Create(ctx, e); err != nil {
				return err
			}

			b.PaidAmount = round2(b.PaidAmount + e.Amount)
			b.Recalculate()
			if err := s.bills.Update(ctx, b); err != nil {
				return err
			}
			out = e
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type RefundRequest struct {
	Amount     float64 `json:"amount"`
	Reason     *string `json:"reason,omitempty"`
	ReceivedBy *string `json:"received_by,omitempty"`
}

// Refund appends a refund entry and decrements the paid amount, never
// below zero. A bill whose payments are fully returned becomes refunded
// and is closed to further payments.
func (s *Service) Refund(ctx context.Context, billID uuid.UUID, req RefundRequest) (*LedgerEntry, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var out *LedgerEntry
	err := db.WithRetry(ctx, s.retry, func(ctx context.Context) error {
		return s.runTx(ctx, func(ctx context.Context) error {
			b, err := s.bills.GetForUpdate(ctx, billID)
			if err != nil {
				return err
			}
			amount := round2(req.Amount)
			if amount > b.PaidAmount {
				return ErrRefundExceedsPaid
			}

			entryID := uuid.New()
			e := &LedgerEntry{
				ID:          entryID,
				EntryNumber: numberFor("REF", s.clk, entryID),
				BillID:      b.ID,
				Kind:        EntryRefund,
				Amount:      amount,
				Method:      MethodCash,
				PaymentDate: s.clk.Now(),
				ReceivedBy:  req.ReceivedBy,
				Notes:       req.Reason,
			}
			if err := s.entries.Create(ctx, e); err != nil {
				return err
			}

			b.PaidAmount = round2(b.PaidAmount - amount)
			if b.PaidAmount == 0 {
				b.PaymentStatus = BillRefunded
			}
			b.Recalculate()
			if err := s.bills.Update(ctx, b); err != nil {
				return err
			}
			out = e
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyInsuranceCoverage sets the bill's insurance coverage from its
// provider's contract terms and recalculates.
func (s *Service) ApplyInsuranceCoverage(ctx context.Context, billID uuid.UUID) (*Bill, error) {
	var out *Bill
	err := db.WithRetry(ctx, s.retry, func(ctx context.Context) error {
		return s.runTx(ctx, func(ctx context.Context) error {
			b, err := s.bills.GetForUpdate(ctx, billID)
			if err != nil {
				return err
			}
			if b.InsuranceProviderID == nil {
				return fmt.Errorf("bill has no insurance provider")
			}

			p, err := s.providers.GetByID(ctx, *b.InsuranceProviderID)
			if err != nil {
				return err
			}
			if !p.ContractActiveAt(s.clk.Now()) {
				return ErrContractInactive
			}

			b.InsuranceCoverage = round2(p.CoverageFor(b.Subtotal))
			b.Recalculate()
			if err := s.bills.Update(ctx, b); err != nil {
				return err
			}
			out = b
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AccrueRoomCharges derives room charges for a stay and folds them into
// the bill. Read-only toward allocation.
func (s *Service) AccrueRoomCharges(ctx context.Context, billID, assignmentID uuid.UUID) (*Bill, error) {
	stay, err := s.stays.GetStay(ctx, assignmentID)
	if err != nil {
		return nil, err
	}

	var out *Bill
	err = db.WithRetry(ctx, s.retry, func(ctx context.Context) error {
		return s.runTx(ctx, func(ctx context.Context) error {
			b, err := s.bills.GetForUpdate(ctx, billID)
			if err != nil {
				return err
			}
			if stay.PatientID != b.PatientID {
				return fmt.Errorf("stay belongs to a different patient")
			}

			b.RoomCharges = round2(stay.TotalCharge())
			b.Recalculate()
			if err := s.bills.Update(ctx, b); err != nil {
				return err
			}
			out = b
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Reconcile replays a bill's ledger and compares it against the cached
// paid amount.
func (s *Service) Reconcile(ctx context.Context, billID uuid.UUID) (*Reconciliation, error) {
	b, err := s.bills.GetByID(ctx, billID)
	if err != nil {
		return nil, err
	}
	payments, refunds, err := s.entries.SumByBill(ctx, billID)
	if err != nil {
		return nil, err
	}

	ledger := round2(payments - refunds)
	return &Reconciliation{
		BillID:      b.ID,
		PaidAmount:  b.PaidAmount,
		Payments:    round2(payments),
		Refunds:     round2(refunds),
		LedgerTotal: ledger,
		Consistent:  ledger == b.PaidAmount,
	}, nil
}
