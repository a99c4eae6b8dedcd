package allocation

import (
	"context"
	"errors"
	"fmt"

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

// activeAdmissionConflict translates a violation of the one-active-stay
// partial unique index into the domain sentinel. Two admissions for the
// same patient can race past the service-level check in separate
// transactions; the index is the backstop.
func activeAdmissionConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) &&
		pgErr.Code == "23505" && pgErr.ConstraintName == "idx_room_assignments_one_active" {
		return ErrPatientAlreadyAdmitted
	}
	return err
}

// =========== Ward Repository ===========

type wardRepoPG struct{ pool *pgxpool.Pool }

func NewWardRepoPG(pool *pgxpool.Pool) WardRepository { return &wardRepoPG{pool: pool} }

func (r *wardRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const wardCols = `id, name, code, ward_type, location, total_beds, available_beds,
	description, version_id, created_at, updated_at`

func scanWard(row pgx.Row) (*Ward, error) {
	var w Ward
	err := row.Scan(&w.ID, &w.Name, &w.Code, &w.WardType, &w.Location,
		&w.TotalBeds, &w.AvailableBeds, &w.Description,
		&w.VersionID, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

func (r *wardRepoPG) Create(ctx context.Context, w *Ward) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO wards (id, name, code, ward_type, location, total_beds, available_beds, description)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		w.ID, w.Name, w.Code, w.WardType, w.Location, w.TotalBeds, w.AvailableBeds, w.Description)
	return err
}

func (r *wardRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Ward, error) {
	return scanWard(r.conn(ctx).QueryRow(ctx, `SELECT `+wardCols+` FROM wards WHERE id = $1`, id))
}

func (r *wardRepoPG) Update(ctx context.Context, w *Ward) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE wards SET name=$2, code=$3, ward_type=$4, location=$5, description=$6,
			version_id=version_id+1, updated_at=NOW()
		WHERE id = $1 AND version_id = $7`,
		w.ID, w.Name, w.Code, w.WardType, w.Location, w.Description, w.VersionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrVersionConflict
	}
	w.VersionID++
	return nil
}

func (r *wardRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM wards WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *wardRepoPG) List(ctx context.Context, limit, offset int) ([]*Ward, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM wards`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+wardCols+` FROM wards ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Ward
	for rows.Next() {
		w, err := scanWard(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, w)
	}
	return items, total, rows.Err()
}

func (r *wardRepoPG) UpdateCounts(ctx context.Context, id uuid.UUID, totalBeds, availableBeds int) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE wards SET total_beds=$2, available_beds=$3, version_id=version_id+1, updated_at=NOW()
		WHERE id = $1`,
		id, totalBeds, availableBeds)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// =========== Room Repository ===========

type roomRepoPG struct{ pool *pgxpool.Pool }

func NewRoomRepoPG(pool *pgxpool.Pool) RoomRepository { return &roomRepoPG{pool: pool} }

func (r *roomRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const roomCols = `id, ward_id, room_number, room_type, bed_count, available_beds,
	daily_rate, status, has_ac, has_tv, has_oxygen, version_id, created_at, updated_at`

func scanRoom(row pgx.Row) (*Room, error) {
	var rm Room
	err := row.Scan(&rm.ID, &rm.WardID, &rm.RoomNumber, &rm.RoomType,
		&rm.BedCount, &rm.AvailableBeds, &rm.DailyRate, &rm.Status,
		&rm.HasAC, &rm.HasTV, &rm.HasOxygen,
		&rm.VersionID, &rm.CreatedAt, &rm.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &rm, nil
}

func (r *roomRepoPG) Create(ctx context.Context, rm *Room) error {
	if rm.ID == uuid.Nil {
		rm.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO rooms (id, ward_id, room_number, room_type, bed_count, available_beds,
			daily_rate, status, has_ac, has_tv, has_oxygen)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		rm.ID, rm.WardID, rm.RoomNumber, rm.RoomType, rm.BedCount, rm.AvailableBeds,
		rm.DailyRate, rm.Status, rm.HasAC, rm.HasTV, rm.HasOxygen)
	return err
}

func (r *roomRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Room, error) {
	return scanRoom(r.conn(ctx).QueryRow(ctx, `SELECT `+roomCols+` FROM rooms WHERE id = $1`, id))
}

func (r *roomRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Room, error) {
	return scanRoom(r.conn(ctx).QueryRow(ctx, `SELECT `+roomCols+` FROM rooms WHERE id = $1 FOR UPDATE`, id))
}

func (r *roomRepoPG) Update(ctx context.Context, rm *Room) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE rooms SET ward_id=$2, room_number=$3, room_type=$4, bed_count=$5,
			available_beds=$6, daily_rate=$7, status=$8, has_ac=$9, has_tv=$10, has_oxygen=$11,
			version_id=version_id+1, updated_at=NOW()
		WHERE id = $1 AND version_id = $12`,
		rm.ID, rm.WardID, rm.RoomNumber, rm.RoomType, rm.BedCount,
		rm.AvailableBeds, rm.DailyRate, rm.Status, rm.HasAC, rm.HasTV, rm.HasOxygen,
		rm.VersionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrVersionConflict
	}
	rm.VersionID++
	return nil
}

func (r *roomRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *roomRepoPG) List(ctx context.Context, f RoomFilter, limit, offset int) ([]*Room, int, error) {
	where := "1=1"
	args := []interface{}{}
	n := 0
	if f.WardID != nil {
		n++
		where += fmt.Sprintf(" AND ward_id = $%d", n)
		args = append(args, *f.WardID)
	}
	if f.Status != "" {
		n++
		where += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, f.Status)
	}
	if f.Type != "" {
		n++
		where += fmt.Sprintf(" AND room_type = $%d", n)
		args = append(args, f.Type)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM rooms WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT `+roomCols+` FROM rooms WHERE %s ORDER BY room_number LIMIT $%d OFFSET $%d`,
		where, n+1, n+2)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Room
	for rows.Next() {
		rm, err := scanRoom(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rm)
	}
	return items, total, rows.Err()
}

func (r *roomRepoPG) SumWardBeds(ctx context.Context, wardID uuid.UUID) (int, int, error) {
	var total, available int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(bed_count), 0), COALESCE(SUM(available_beds), 0)
		FROM rooms
		WHERE ward_id = $1 AND status NOT IN ('maintenance', 'cleaning', 'out_of_order')`,
		wardID).Scan(&total, &available)
	return total, available, err
}

// =========== Assignment Repository ===========

type assignmentRepoPG struct{ pool *pgxpool.Pool }

func NewAssignmentRepoPG(pool *pgxpool.Pool) AssignmentRepository {
	return &assignmentRepoPG{pool: pool}
}

func (r *assignmentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const assignmentCols = `id, room_id, patient_id, status, admission_date, discharge_date,
	admission_notes, discharge_notes, assigned_by, discharged_by, created_at, updated_at`

func scanAssignment(row pgx.Row) (*RoomAssignment, error) {
	var a RoomAssignment
	err := row.Scan(&a.ID, &a.RoomID, &a.PatientID, &a.Status,
		&a.AdmissionDate, &a.DischargeDate,
		&a.AdmissionNotes, &a.DischargeNotes, &a.AssignedBy, &a.DischargedBy,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *assignmentRepoPG) Create(ctx context.Context, a *RoomAssignment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO room_assignments (id, room_id, patient_id, status, admission_date,
			discharge_date, admission_notes, discharge_notes, assigned_by, discharged_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, a.RoomID, a.PatientID, a.Status, a.AdmissionDate,
		a.DischargeDate, a.AdmissionNotes, a.DischargeNotes, a.AssignedBy, a.DischargedBy)
	if err != nil {
		return activeAdmissionConflict(err)
	}
	return nil
}

func (r *assignmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*RoomAssignment, error) {
	return scanAssignment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+assignmentCols+` FROM room_assignments WHERE id = $1`, id))
}

func (r *assignmentRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*RoomAssignment, error) {
	return scanAssignment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+assignmentCols+` FROM room_assignments WHERE id = $1 FOR UPDATE`, id))
}

func (r *assignmentRepoPG) Update(ctx context.Context, a *RoomAssignment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE room_assignments SET status=$2, discharge_date=$3, discharge_notes=$4,
			discharged_by=$5, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.Status, a.DischargeDate, a.DischargeNotes, a.DischargedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *assignmentRepoPG) GetActiveByPatient(ctx context.Context, patientID uuid.UUID) (*RoomAssignment, error) {
	return scanAssignment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+assignmentCols+` FROM room_assignments WHERE patient_id = $1 AND status = 'active'`,
		patientID))
}

func (r *assignmentRepoPG) CountActiveByRoom(ctx context.Context, roomID uuid.UUID) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM room_assignments WHERE room_id = $1 AND status = 'active'`,
		roomID).Scan(&count)
	return count, err
}

func (r *assignmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*RoomAssignment, int, error) {
	return r.list(ctx, `patient_id`, patientID, limit, offset)
}

func (r *assignmentRepoPG) ListByRoom(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]*RoomAssignment, int, error) {
	return r.list(ctx, `room_id`, roomID, limit, offset)
}

func (r *assignmentRepoPG) list(ctx context.Context, col string, id uuid.UUID, limit, offset int) ([]*RoomAssignment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM room_assignments WHERE `+col+` = $1`, id).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+assignmentCols+` FROM room_assignments WHERE `+col+` = $1 ORDER BY admission_date DESC LIMIT $2 OFFSET $3`,
		id, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*RoomAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}
