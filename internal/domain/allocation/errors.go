package allocation

import "errors"

var (
	// ErrNotFound is returned when a ward, room or assignment id does not resolve.
	ErrNotFound = errors.New("not found")

	// ErrRoomUnavailable is returned when a room has no free bed or is not
	// in an allocatable status.
	ErrRoomUnavailable = errors.New("room unavailable")

	// ErrPatientAlreadyAdmitted is returned when the patient already holds
	// an active assignment anywhere in the hospital.
	ErrPatientAlreadyAdmitted = errors.New("patient already admitted")

	// ErrAssignmentNotActive is returned when discharging or transferring
	// an assignment that has already reached a terminal status.
	ErrAssignmentNotActive = errors.New("assignment not active")

	// ErrRoomOccupiedForStatus is returned when a status change would take
	// a room with active assignments out of service.
	ErrRoomOccupiedForStatus = errors.New("room has active assignments")
)
