package billing

import (
	"context"

	"github.com/google/uuid"

	"github.com/Islam-alshiki/Hospital-Management-System/internal/domain/allocation"
	"github.com/Islam-alshiki/Hospital-Management-System/internal/domain/directory"
)

type BillRepository interface {
	Create(ctx context.Context, b *Bill) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bill, error)
	// GetForUpdate locks the bill row for the current transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Bill, error)
	// Update is conditional on the bill's version and increments it.
	Update(ctx context.Context, b *Bill) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Bill, int, error)
}

type LedgerRepository interface {
	Create(ctx context.Context, e *LedgerEntry) error
	ListByBill(ctx context.Context, billID uuid.UUID, limit, offset int) ([]*LedgerEntry, int, error)
	// SumByBill replays the full ledger for a bill.
	SumByBill(ctx context.Context, billID uuid.UUID) (payments, refunds float64, err error)
}

// StayReader is the read-only coupling to bed allocation: room charges
// are derived from a stay, never pushed from the allocator.
type StayReader interface {
	GetStay(ctx context.Context, assignmentID uuid.UUID) (*allocation.Stay, error)
}

// ProviderLookup resolves insurance terms from the directory.
type ProviderLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*directory.InsuranceProvider, error)
}

// PatientLookup checks patient existence before opening a bill.
type PatientLookup interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}
