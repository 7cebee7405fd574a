package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type AppointmentStatus string

const (
	StatusScheduled  AppointmentStatus = "SCHEDULED"
	StatusInProgress AppointmentStatus = "IN_PROGRESS"
	StatusFinished   AppointmentStatus = "FINISHED"
	StatusCanceled   AppointmentStatus = "CANCELED"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusInProgress, StatusFinished, StatusCanceled:
		return true
	}
	return false
}

func (s AppointmentStatus) Terminal() bool {
	return s == StatusFinished || s == StatusCanceled
}

type Appointment struct {
	bun.BaseModel `bun:"table:appointments"`

	ID          uuid.UUID         `bun:"id,pk,type:uuid"`
	DoctorID    uuid.UUID         `bun:"doctor_id,notnull,type:uuid"`
	PatientID   uuid.UUID         `bun:"patient_id,notnull,type:uuid"`
	SpecialtyID uuid.UUID         `bun:"specialty_id,notnull,type:uuid"`
	Date        time.Time         `bun:"date,notnull,type:date"`
	StartTime   string            `bun:"start_time,notnull,type:time"`
	EndTime     string            `bun:"end_time,notnull,type:time"`
	Status      AppointmentStatus `bun:"status,notnull"`
	CreatedAt   time.Time         `bun:"created_at,notnull"`
	UpdatedAt   time.Time         `bun:"updated_at,notnull"`
}

func (a *Appointment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if a.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			a.ID = id
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		a.UpdatedAt = now
	}
	return nil
}

func (a *Appointment) AfterScanRow(ctx context.Context) error {
	a.StartTime = canonicalTime(a.StartTime)
	a.EndTime = canonicalTime(a.EndTime)
	a.Date = DateOf(a.Date)
	return nil
}

// Minutes returns the appointment's [start,end) minute offsets.
func (a Appointment) Minutes() (int, int, error) {
	return ParseTimeRange(a.StartTime, a.EndTime)
}

// SameBooking reports whether two appointments describe the same request. Used for idempotent replays.
func (a Appointment) SameBooking(b Appointment) bool {
	return a.DoctorID == b.DoctorID &&
		a.PatientID == b.PatientID &&
		a.SpecialtyID == b.SpecialtyID &&
		a.Date.Equal(b.Date) &&
		a.StartTime == b.StartTime &&
		a.EndTime == b.EndTime
}

type LogAction string

const (
	ActionCreated  LogAction = "CREATED"
	ActionStarted  LogAction = "STARTED"
	ActionFinished LogAction = "FINISHED"
	ActionCanceled LogAction = "CANCELED"
)

// AppointmentLog is the append-only audit trail of appointment transitions.
type AppointmentLog struct {
	bun.BaseModel `bun:"table:appointment_logs"`

	ID            uuid.UUID `bun:"id,pk,type:uuid"`
	AppointmentID uuid.UUID `bun:"appointment_id,notnull,type:uuid"`
	Action        LogAction `bun:"action,notnull"`
	ActorID       uuid.UUID `bun:"actor_id,notnull,type:uuid"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

func (l *AppointmentLog) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); ok {
		if l.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			l.ID = id
		}
		if l.CreatedAt.IsZero() {
			l.CreatedAt = time.Now().UTC()
		}
	}
	return nil
}
