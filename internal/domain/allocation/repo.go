package allocation

import (
	"context"

	"github.com/google/uuid"
)

type WardRepository interface {
	Create(ctx context.Context, w *Ward) error
	GetByID(ctx context.Context, id uuid.UUID) (*Ward, error)
	Update(ctx context.Context, w *Ward) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Ward, int, error)
	// UpdateCounts overwrites the cached aggregate bed counts.
	UpdateCounts(ctx context.Context, id uuid.UUID, totalBeds, availableBeds int) error
}

type RoomFilter struct {
	WardID *uuid.UUID
	Status string
	Type   string
}

type RoomRepository interface {
	Create(ctx context.Context, r *Room) error
	GetByID(ctx context.Context, id uuid.UUID) (*Room, error)
	// GetForUpdate locks the room row for the current transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Room, error)
	// Update is conditional on the room's version and increments it.
	Update(ctx context.Context, r *Room) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f RoomFilter, limit, offset int) ([]*Room, int, error)
	// SumWardBeds aggregates bed_count and available_beds over a ward's
	// in-service rooms.
	SumWardBeds(ctx context.Context, wardID uuid.UUID) (total, available int, err error)
}

type AssignmentRepository interface {
	Create(ctx context.Context, a *RoomAssignment) error
	GetByID(ctx context.Context, id uuid.UUID) (*RoomAssignment, error)
	// GetForUpdate locks the assignment row for the current transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*RoomAssignment, error)
	Update(ctx context.Context, a *RoomAssignment) error
	// GetActiveByPatient returns the patient's active assignment, or
	// ErrNotFound when the patient is not admitted.
	GetActiveByPatient(ctx context.Context, patientID uuid.UUID) (*RoomAssignment, error)
	CountActiveByRoom(ctx context.Context, roomID uuid.UUID) (int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*RoomAssignment, int, error)
	ListByRoom(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]*RoomAssignment, int, error)
}
