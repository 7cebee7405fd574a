package domain

import "github.com/google/uuid"

type Role string

const (
	RolePatient Role = "PATIENT"
	RoleDoctor  Role = "DOCTOR"
	RoleAdmin   Role = "ADMIN"
)

// Actor is the resolved identity behind a request.
type Actor struct {
	UserID    uuid.UUID
	Role      Role
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
}

// OwnsAsDoctor reports whether the actor's doctor profile is doctorID.
func (a Actor) OwnsAsDoctor(doctorID uuid.UUID) bool {
	return a.DoctorID != nil && *a.DoctorID == doctorID
}

// IsParticipant reports whether the actor is an admin or a party of appt.
func (a Actor) IsParticipant(appt Appointment) bool {
	if a.Role == RoleAdmin {
		return true
	}
	if a.OwnsAsDoctor(appt.DoctorID) {
		return true
	}
	return a.PatientID != nil && *a.PatientID == appt.PatientID
}
