package allocation

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Islam-alshiki/Hospital-Management-System/internal/platform/clock"
	"github.com/Islam-alshiki/Hospital-Management-System/internal/platform/db"
)

// Service implements bed allocation. Every mutating operation runs as a
// single transaction with row locks on the rooms it touches, retried on
// transient conflicts up to the retry policy's cap.
type Service struct {
	wards       WardRepository
	rooms       RoomRepository
	assignments AssignmentRepository
	clk         clock.Clock
	runTx       func(ctx context.Context, fn func(context.Context) error) error
	retry       db.RetryPolicy
}

func NewService(pool *pgxpool.Pool, wards WardRepository, rooms RoomRepository, assignments AssignmentRepository, clk clock.Clock) *Service {
	return &Service{
		wards:       wards,
		rooms:       rooms,
		assignments: assignments,
		clk:         clk,
		runTx: func(ctx context.Context, fn func(context.Context) error) error {
			return db.WithTx(ctx, pool, fn)
		},
		retry: db.DefaultRetryPolicy(),
	}
}

type AdmitRequest struct {
	PatientID  uuid.UUID `json:"patient_id"`
	RoomID     uuid.UUID `json:"room_id"`
	Notes      *string   `json:"notes,omitempty"`
	AssignedBy *string   `json:"assigned_by,omitempty"`
}

type DischargeRequest struct {
	Notes        *string `json:"notes,omitempty"`
	DischargedBy *string `json:"discharged_by,omitempty"`
}

type TransferRequest struct {
	TargetRoomID uuid.UUID `json:"target_room_id"`
	Notes        *string   `json:"notes,omitempty"`
	AssignedBy   *string   `json:"assigned_by,omitempty"`
}

// Admit places a patient into a room. Exactly one of two admits racing
// for the last bed succeeds; the loser observes ErrRoomUnavailable.
func (s *Service) Admit(ctx context.Context, req AdmitRequest) (*RoomAssignment, error) {
	if req.PatientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	if req.RoomID == uuid.Nil {
		return nil, fmt.Errorf("room_id is required")
	}

	var out *RoomAssignment
	err := db.WithRetry(ctx, s.retry, func(ctx context.Context) error {
		return s.runTx(ctx, func(ctx context.Context) error {
			a, err := s.admitLocked(ctx, req.PatientID, req.RoomID, req.Notes, req.AssignedBy)
			if err != nil {
				return err
			}
			out = a
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// admitLocked performs admission inside an open transaction. The caller
// is responsible for lock ordering when more than one room is involved.
func (s *Service) admitLocked(ctx context.Context, patientID, roomID uuid.UUID, notes, assignedBy *string) (*RoomAssignment, error) {
	existing, err := s.assignments.GetActiveByPatient(ctx, patientID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, ErrPatientAlreadyAdmitted
	}

	room, err := s.rooms.GetForUpdate(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.Allocatable() {
		return nil, ErrRoomUnavailable
	}

	room.AvailableBeds--
	if room.AvailableBeds == 0 {
		room.Status = RoomOccupied
	}
	if err := s.rooms.Update(ctx, room); err != nil {
		return nil, err
	}

	a := &RoomAssignment{
		ID:             uuid.New(),
		RoomID:         room.ID,
		PatientID:      patientID,
		Status:         AssignmentActive,
		AdmissionDate:  s.clk.Now(),
		AdmissionNotes: notes,
		AssignedBy:     assignedBy,
	}
	if err := s.assignments.Create(ctx, a); err != nil {
		return nil, err
	}

	if err := s.refreshWardCounts(ctx, room.WardID); err != nil {
		return nil, err
	}
	return a, nil
}

// Discharge releases an assignment's bed-slot. The transition out of
// active happens exactly once; repeats fail with ErrAssignmentNotActive.
func (s *Service) Discharge(ctx context.Context, assignmentID uuid.UUID, req DischargeRequest) (*RoomAssignment, error) {
	var out *RoomAssignment
	err := db.WithRetry(ctx, s.retry, func(ctx context.Context) error {
		return s.runTx(ctx, func(ctx context.Context) error {
			a, err := s.releaseLocked(ctx, assignmentID, AssignmentDischarged, req.Notes, req.DischargedBy)
			if err != nil {
				return err
			}
			out = a
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// releaseLocked transitions an active assignment to a terminal status and
// frees its bed inside an open transaction.
func (s *Service) releaseLocked(ctx context.Context, assignmentID uuid.UUID, terminal string, notes, by *string) (*RoomAssignment, error) {
	a, err := s.assignments.GetForUpdate(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if !a.IsActive() {
		return nil, ErrAssignmentNotActive
	}

	room, err := s.rooms.GetForUpdate(ctx, a.RoomID)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	a.Status = terminal
	a.DischargeDate = &now
	a.DischargeNotes = notes
	a.DischargedBy = by
	if err := s.assignments.Update(ctx, a); err != nil {
		return nil, err
	}

	if room.AvailableBeds < room.BedCount {
		room.AvailableBeds++
	}
	if room.Status == RoomOccupied && room.AvailableBeds > 0 {
		room.Status = RoomAvailable
	}
	if err := s.rooms.Update(ctx, room); err != nil {
		return nil, err
	}

	if err := s.refreshWardCounts(ctx, room.WardID); err != nil {
		return nil, err
	}
	return a, nil
}

// Transfer moves a patient between rooms as one atomic unit. Both rooms
// are locked in ascending id order so two opposing transfers over the
// same pair cannot deadlock.
func (s *Service) Transfer(ctx context.Context, assignmentID uuid.UUID, req TransferRequest) (*RoomAssignment, error) {
	if req.TargetRoomID == uuid.Nil {
		return nil, fmt.Errorf("target_room_id is required")
	}

	var out *RoomAssignment
	err := db.WithRetry(ctx, s.retry, func(ctx context.Context) error {
		return s.runTx(ctx, func(ctx context.Context) error {
			a, err := s.assignments.GetForUpdate(ctx, assignmentID)
			if err != nil {
				return err
			}
			if !a.IsActive() {
				return ErrAssignmentNotActive
			}
			if a.RoomID == req.TargetRoomID {
				return fmt.Errorf("transfer target is the current room")
			}

			// Lock both rooms in a fixed global order before mutating either.
			if err := s.lockRoomPair(ctx, a.RoomID, req.TargetRoomID); err != nil {
				return err
			}

			target, err := s.rooms.GetByID(ctx, req.TargetRoomID)
			if err != nil {
				return err
			}
			if !target.Allocatable() {
				return ErrRoomUnavailable
			}

			if _, err := s.releaseLocked(ctx, assignmentID, AssignmentTransferred, req.Notes, req.AssignedBy); err != nil {
				return err
			}

			next, err := s.admitLocked(ctx, a.PatientID, target.ID, req.Notes, req.AssignedBy)
			if err != nil {
				return err
			}
			out = next
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) lockRoomPair(ctx context.Context, a, b uuid.UUID) error {
	first, second := a, b
	if bytes.Compare(b[:], a[:]) < 0 {
		first, second = b, a
	}
	if _, err := s.rooms.GetForUpdate(ctx, first); err != nil {
		return err
	}
	_, err := s.rooms.GetForUpdate(ctx, second)
	return err
}

// CurrentOccupancy counts active assignments for a room.
func (s *Service) CurrentOccupancy(ctx context.Context, roomID uuid.UUID) (int, error) {
	if _, err := s.rooms.GetByID(ctx, roomID); err != nil {
		return 0, err
	}
	return s.assignments.CountActiveByRoom(ctx, roomID)
}

// GetStay derives the billable span of an assignment. Active stays are
// measured up to the current time; every stay bills at least one night.
func (s *Service) GetStay(ctx context.Context, assignmentID uuid.UUID) (*Stay, error) {
	a, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	room, err := s.rooms.GetByID(ctx, a.RoomID)
	if err != nil {
		return nil, err
	}

	end := s.clk.Now()
	if a.DischargeDate != nil {
		end = *a.DischargeDate
	}
	return &Stay{
		AssignmentID: a.ID,
		RoomID:       a.RoomID,
		PatientID:    a.PatientID,
		AdmittedAt:   a.AdmissionDate,
		DischargedAt: a.DischargeDate,
		Nights:       NightsBetween(a.AdmissionDate, end),
		DailyRate:    room.DailyRate,
	}, nil
}

// -- Ward lifecycle --

func (s *Service) CreateWard(ctx context.Context, w *Ward) error {
	if w.Name == "" {
		return fmt.Errorf("name is required")
	}
	if w.Code == "" {
		return fmt.Errorf("code is required")
	}
	if w.WardType == "" {
		w.WardType = "general"
	}
	if !validWardTypes[w.WardType] {
		return fmt.Errorf("invalid ward type: %s", w.WardType)
	}
	return s.wards.Create(ctx, w)
}

func (s *Service) GetWard(ctx context.Context, id uuid.UUID) (*Ward, error) {
	return s.wards.GetByID(ctx, id)
}

func (s *Service) ListWards(ctx context.Context, limit, offset int) ([]*Ward, int, error) {
	return s.wards.List(ctx, limit, offset)
}

func (s *Service) UpdateWard(ctx context.Context, w *Ward) error {
	if w.WardType != "" && !validWardTypes[w.WardType] {
		return fmt.Errorf("invalid ward type: %s", w.WardType)
	}
	return s.wards.Update(ctx, w)
}

func (s *Service) DeleteWard(ctx context.Context, id uuid.UUID) error {
	_, total, err := s.rooms.List(ctx, RoomFilter{WardID: &id}, 1, 0)
	if err != nil {
		return err
	}
	if total > 0 {
		return fmt.Errorf("ward still has %d rooms", total)
	}
	return s.wards.Delete(ctx, id)
}

// RecalculateWardCounts re-derives a ward's cached bed counts from its
// rooms. Idempotent; rooms remain the source of truth.
func (s *Service) RecalculateWardCounts(ctx context.Context, wardID uuid.UUID) (*Ward, error) {
	if _, err := s.wards.GetByID(ctx, wardID); err != nil {
		return nil, err
	}
	err := s.runTx(ctx, func(ctx context.Context) error {
		return s.refreshWardCounts(ctx, wardID)
	})
	if err != nil {
		return nil, err
	}
	return s.wards.GetByID(ctx, wardID)
}

func (s *Service) refreshWardCounts(ctx context.Context, wardID uuid.UUID) error {
	total, available, err := s.rooms.SumWardBeds(ctx, wardID)
	if err != nil {
		return err
	}
	return s.wards.UpdateCounts(ctx, wardID, total, available)
}

// -- Room lifecycle --

func (s *Service) CreateRoom(ctx context.Context, r *Room) error {
	if r.RoomNumber == "" {
		return fmt.Errorf("room_number is required")
	}
	if r.BedCount < 1 {
		return fmt.Errorf("bed_count must be at least 1")
	}
	if _, err := s.wards.GetByID(ctx, r.WardID); err != nil {
		return err
	}
	if r.Status == "" {
		r.Status = RoomAvailable
	}
	if !validRoomStatuses[r.Status] {
		return fmt.Errorf("invalid room status: %s", r.Status)
	}
	r.AvailableBeds = r.BedCount

	return s.runTx(ctx, func(ctx context.Context) error {
		if err := s.rooms.Create(ctx, r); err != nil {
			return err
		}
		return s.refreshWardCounts(ctx, r.WardID)
	})
}

func (s *Service) GetRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	return s.rooms.GetByID(ctx, id)
}

func (s *Service) ListRooms(ctx context.Context, f RoomFilter, limit, offset int) ([]*Room, int, error) {
	if f.Status != "" && !validRoomStatuses[f.Status] {
		return nil, 0, fmt.Errorf("invalid room status: %s", f.Status)
	}
	return s.rooms.List(ctx, f, limit, offset)
}

func (s *Service) DeleteRoom(ctx context.Context, id uuid.UUID) error {
	active, err := s.assignments.CountActiveByRoom(ctx, id)
	if err != nil {
		return err
	}
	if active > 0 {
		return ErrRoomOccupiedForStatus
	}

	room, err := s.rooms.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return s.runTx(ctx, func(ctx context.Context) error {
		if err := s.rooms.Delete(ctx, id); err != nil {
			return err
		}
		return s.refreshWardCounts(ctx, room.WardID)
	})
}

// SetRoomStatus moves a room between housekeeping states. occupied is
// owned by the allocator and cannot be set here, and a room holding
// active assignments cannot leave service.
func (s *Service) SetRoomStatus(ctx context.Context, roomID uuid.UUID, status string) (*Room, error) {
	if !validRoomStatuses[status] {
		return nil, fmt.Errorf("invalid room status: %s", status)
	}
	if status == RoomOccupied {
		return nil, fmt.Errorf("occupied is set by admission, not directly")
	}

	var out *Room
	err := db.WithRetry(ctx, s.retry, func(ctx context.Context) error {
		return s.runTx(ctx, func(ctx context.Context) error {
			room, err := s.rooms.GetForUpdate(ctx, roomID)
			if err != nil {
				return err
			}

			active, err := s.assignments.CountActiveByRoom(ctx, roomID)
			if err != nil {
				return err
			}
			if active > 0 {
				return ErrRoomOccupiedForStatus
			}

			room.Status = status
			if err := s.rooms.Update(ctx, room); err != nil {
				return err
			}
			if err := s.refreshWardCounts(ctx, room.WardID); err != nil {
				return err
			}
			out = room
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// -- Assignment reads --

func (s *Service) GetAssignment(ctx context.Context, id uuid.UUID) (*RoomAssignment, error) {
	return s.assignments.GetByID(ctx, id)
}

func (s *Service) ListAssignmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*RoomAssignment, int, error) {
	return s.assignments.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListAssignmentsByRoom(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]*RoomAssignment, int, error) {
	return s.assignments.ListByRoom(ctx, roomID, limit, offset)
}
