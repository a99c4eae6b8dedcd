package allocation

import (
	"time"

	"github.com/google/uuid"
)

// Room statuses. A room is allocatable only while available or reserved;
// occupied is set by the allocator itself when the last bed fills.
const (
	RoomAvailable   = "available"
	RoomOccupied    = "occupied"
	RoomMaintenance = "maintenance"
	RoomCleaning    = "cleaning"
	RoomReserved    = "reserved"
	RoomOutOfOrder  = "out_of_order"
)

// Assignment statuses. active is the only non-terminal state.
const (
	AssignmentActive      = "active"
	AssignmentDischarged  = "discharged"
	AssignmentTransferred = "transferred"
)

// Ward is a physical subdivision of the hospital. Its bed counts are a
// cached aggregate over its rooms; room-level counts are authoritative.
type Ward struct {
	ID            uuid.UUID `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	Code          string    `db:"code" json:"code"`
	WardType      string    `db:"ward_type" json:"ward_type"`
	Location      *string   `db:"location" json:"location,omitempty"`
	TotalBeds     int       `db:"total_beds" json:"total_beds"`
	AvailableBeds int       `db:"available_beds" json:"available_beds"`
	Description   *string   `db:"description" json:"description,omitempty"`
	VersionID     int       `db:"version_id" json:"version_id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

func (w *Ward) GetVersionID() int  { return w.VersionID }
func (w *Ward) SetVersionID(v int) { w.VersionID = v }

// OccupancyRate returns the fraction of beds in use, 0 when the ward is empty.
func (w *Ward) OccupancyRate() float64 {
	if w.TotalBeds == 0 {
		return 0
	}
	return float64(w.TotalBeds-w.AvailableBeds) / float64(w.TotalBeds)
}

// Room is the unit of allocation. available_beds stays within
// [0, bed_count] and equals bed_count minus its active assignments.
type Room struct {
	ID            uuid.UUID `db:"id" json:"id"`
	WardID        uuid.UUID `db:"ward_id" json:"ward_id"`
	RoomNumber    string    `db:"room_number" json:"room_number"`
	RoomType      string    `db:"room_type" json:"room_type"`
	BedCount      int       `db:"bed_count" json:"bed_count"`
	AvailableBeds int       `db:"available_beds" json:"available_beds"`
	DailyRate     float64   `db:"daily_rate" json:"daily_rate"`
	Status        string    `db:"status" json:"status"`
	HasAC         bool      `db:"has_ac" json:"has_ac"`
	HasTV         bool      `db:"has_tv" json:"has_tv"`
	HasOxygen     bool      `db:"has_oxygen" json:"has_oxygen"`
	VersionID     int       `db:"version_id" json:"version_id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

func (r *Room) GetVersionID() int  { return r.VersionID }
func (r *Room) SetVersionID(v int) { r.VersionID = v }

// Allocatable reports whether a new admission may take a bed here.
func (r *Room) Allocatable() bool {
	if r.AvailableBeds <= 0 {
		return false
	}
	return r.Status == RoomAvailable || r.Status == RoomReserved
}

// InService reports whether the room participates in allocation at all.
// out_of_order rooms are handled the same way as maintenance.
func (r *Room) InService() bool {
	switch r.Status {
	case RoomMaintenance, RoomCleaning, RoomOutOfOrder:
		return false
	}
	return true
}

// RoomAssignment records one patient occupying one bed-slot. Assignments
// are never deleted; they transition out of active exactly once.
type RoomAssignment struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	RoomID         uuid.UUID  `db:"room_id" json:"room_id"`
	PatientID      uuid.UUID  `db:"patient_id" json:"patient_id"`
	Status         string     `db:"status" json:"status"`
	AdmissionDate  time.Time  `db:"admission_date" json:"admission_date"`
	DischargeDate  *time.Time `db:"discharge_date" json:"discharge_date,omitempty"`
	AdmissionNotes *string    `db:"admission_notes" json:"admission_notes,omitempty"`
	DischargeNotes *string    `db:"discharge_notes" json:"discharge_notes,omitempty"`
	AssignedBy     *string    `db:"assigned_by" json:"assigned_by,omitempty"`
	DischargedBy   *string    `db:"discharged_by" json:"discharged_by,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// IsActive reports whether the assignment still holds its bed-slot.
func (a *RoomAssignment) IsActive() bool { return a.Status == AssignmentActive }

// Stay summarizes the billable span of an assignment. Nights are counted
// from admission to discharge (or now for active stays), minimum one.
type Stay struct {
	AssignmentID uuid.UUID  `json:"assignment_id"`
	RoomID       uuid.UUID  `json:"room_id"`
	PatientID    uuid.UUID  `json:"patient_id"`
	AdmittedAt   time.Time  `json:"admitted_at"`
	DischargedAt *time.Time `json:"discharged_at,omitempty"`
	Nights       int        `json:"nights"`
	DailyRate    float64    `json:"daily_rate"`
}

// TotalCharge is nights times the room's daily rate.
func (s *Stay) TotalCharge() float64 { return float64(s.Nights) * s.DailyRate }

// NightsBetween counts whole 24h periods between admission and end,
// rounded up, never less than one.
func NightsBetween(admitted, end time.Time) int {
	if !end.After(admitted) {
		return 1
	}
	d := end.Sub(admitted)
	nights := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		nights++
	}
	if nights < 1 {
		nights = 1
	}
	return nights
}

var validRoomStatuses = map[string]bool{
	RoomAvailable: true, RoomOccupied: true, RoomMaintenance: true,
	RoomCleaning: true, RoomReserved: true, RoomOutOfOrder: true,
}

var validWardTypes = map[string]bool{
	"general": true, "icu": true, "emergency": true, "maternity": true,
	"pediatric": true, "surgical": true, "psychiatric": true, "isolation": true,
}
