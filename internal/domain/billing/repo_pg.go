package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Islam-alshiki/Hospital-Management-System/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// =========== Bill Repository ===========

type billRepoPG struct{ pool *pgxpool.Pool }

func NewBillRepoPG(pool *pgxpool.Pool) BillRepository { return &billRepoPG{pool: pool} }

func (r *billRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const billCols = `id, bill_number, patient_id, doctor_id, bill_date,
	consultation_fee, lab_tests_total, medicines_total, procedures_total, room_charges, other_charges,
	subtotal, discount_percentage, discount_amount, tax_percentage, tax_amount,
	insurance_provider_id, insurance_coverage, total_amount, paid_amount, balance_amount,
	payment_status, notes, created_by, version_id, created_at, updated_at`

func scanBill(row pgx.Row) (*Bill, error) {
	var b Bill
	err := row.Scan(&b.ID, &b.BillNumber, &b.PatientID, &b.DoctorID, &b.BillDate,
		&b.ConsultationFee, &b.LabTestsTotal, &b.MedicinesTotal, &b.ProceduresTotal, &b.RoomCharges, &b.OtherCharges,
		&b.Subtotal, &b.DiscountPercentage, &b.DiscountAmount, &b.TaxPercentage, &b.TaxAmount,
		&b.InsuranceProviderID, &b.InsuranceCoverage, &b.TotalAmount, &b.PaidAmount, &b.BalanceAmount,
		&b.PaymentStatus, &b.Notes, &b.CreatedBy, &b.VersionID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (r *billRepoPG) Create(ctx context.Context, b *Bill) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO bills (id, bill_number, patient_id, doctor_id, bill_date,
			consultation_fee, lab_tests_total, medicines_total, procedures_total, room_charges, other_charges,
			subtotal, discount_percentage, discount_amount, tax_percentage, tax_amount,
			insurance_provider_id, insurance_coverage, total_amount, paid_amount, balance_amount,
			payment_status, notes, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
		b.ID, b.BillNumber, b.PatientID, b.DoctorID, b.BillDate,
		b.ConsultationFee, b.LabTestsTotal, b.MedicinesTotal, b.ProceduresTotal, b.RoomCharges, b.OtherCharges,
		b.Subtotal, b.DiscountPercentage, b.DiscountAmount, b.TaxPercentage, b.TaxAmount,
		b.InsuranceProviderID, b.InsuranceCoverage, b.TotalAmount, b.PaidAmount, b.BalanceAmount,
		b.PaymentStatus, b.Notes, b.CreatedBy)
	return err
}

func (r *billRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return scanBill(r.conn(ctx).QueryRow(ctx, `SELECT `+billCols+` FROM bills WHERE id = $1`, id))
}

func (r *billRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return scanBill(r.conn(ctx).QueryRow(ctx, `SELECT `+billCols+` FROM bills WHERE id = $1 FOR UPDATE`, id))
}

func (r *billRepoPG) Update(ctx context.Context, b *Bill) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bills SET
			consultation_fee=$2, lab_tests_total=$3, medicines_total=$4, procedures_total=$5,
			room_charges=$6, other_charges=$7, subtotal=$8,
			discount_percentage=$9, discount_amount=$10, tax_percentage=$11, tax_amount=$12,
			insurance_provider_id=$13, insurance_coverage=$14,
			total_amount=$15, paid_amount=$16, balance_amount=$17, payment_status=$18, notes=$19,
			version_id=version_id+1, updated_at=NOW()
		WHERE id = $1 AND version_id = $20`,
		b.ID, b.ConsultationFee, b.LabTestsTotal, b.MedicinesTotal, b.ProceduresTotal,
		b.RoomCharges, b.OtherCharges, b.Subtotal,
		b.DiscountPercentage, b.DiscountAmount, b.TaxPercentage, b.TaxAmount,
		b.InsuranceProviderID, b.InsuranceCoverage,
		b.TotalAmount, b.PaidAmount, b.BalanceAmount, b.PaymentStatus, b.Notes,
		b.VersionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrVersionConflict
	}
	b.VersionID++
	return nil
}

func (r *billRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Bill, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM bills WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+billCols+` FROM bills WHERE patient_id = $1 ORDER BY bill_date DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}

// =========== Ledger Repository ===========

type ledgerRepoPG struct{ pool *pgxpool.Pool }

func NewLedgerRepoPG(pool *pgxpool.Pool) LedgerRepository { return &ledgerRepoPG{pool: pool} }

func (r *ledgerRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const entryCols = `id, entry_number, bill_id, kind, amount, method, payment_date,
	transaction_reference, received_by, notes, created_at`

func scanEntry(row pgx.Row) (*LedgerEntry, error) {
	var e LedgerEntry
	err := row.Scan(&e.ID, &e.EntryNumber, &e.BillID, &e.Kind, &e.Amount, &e.Method, &e.PaymentDate,
		&e.TransactionReference, &e.ReceivedBy, &e.Notes, &e.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (r *ledgerRepoPG) Create(ctx context.Context, e *LedgerEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO ledger_entries (id, entry_number, bill_id, kind, amount, method, payment_date,
			transaction_reference, received_by, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.EntryNumber, e.BillID, e.Kind, e.Amount, e.Method, e.PaymentDate,
		e.TransactionReference, e.ReceivedBy, e.Notes)
	return err
}

func (r *ledgerRepoPG) ListByBill(ctx context.Context, billID uuid.UUID, limit, offset int) ([]*LedgerEntry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE bill_id = $1`, billID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+entryCols+` FROM ledger_entries WHERE bill_id = $1 ORDER BY payment_date, created_at LIMIT $2 OFFSET $3`,
		billID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func (r *ledgerRepoPG) SumByBill(ctx context.Context, billID uuid.UUID) (float64, float64, error) {
	var payments, refunds float64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE kind = 'payment'), 0),
			COALESCE(SUM(amount) FILTER (WHERE kind = 'refund'), 0)
		FROM ledger_entries WHERE bill_id = $1`,
		billID).Scan(&payments, &refunds)
	return payments, refunds, err
}
