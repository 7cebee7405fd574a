package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medibook/schedula/internal/domain"
)

// AvailabilityReader is the read side needed to generate slots for one doctor and date.
type AvailabilityReader interface {
	// GetWeeklyAvailability returns nil when the doctor does not work on weekday.
	GetWeeklyAvailability(ctx context.Context, doctorID uuid.UUID, weekday domain.Weekday) (*domain.WeeklyAvailability, error)
	ListBlocks(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]domain.ScheduleBlock, error)
	// ListActiveAppointments returns the doctor's non-canceled appointments on date.
	ListActiveAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]domain.Appointment, error)
}

type SchedulingTx interface {
	AvailabilityReader

	ListWeeklyAvailability(ctx context.Context, doctorID uuid.UUID) ([]domain.WeeklyAvailability, error)
	ReplaceWeeklyAvailability(ctx context.Context, doctorID uuid.UUID, entries []domain.WeeklyAvailability) error

	GetBlock(ctx context.Context, doctorID, blockID uuid.UUID) (domain.ScheduleBlock, error)
	InsertBlock(ctx context.Context, block domain.ScheduleBlock) (domain.ScheduleBlock, error)
	UpdateBlock(ctx context.Context, block domain.ScheduleBlock) (domain.ScheduleBlock, error)
	DeleteBlock(ctx context.Context, doctorID, blockID uuid.UUID) error

	DoctorHasSpecialty(ctx context.Context, doctorID, specialtyID uuid.UUID) (bool, error)

	GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	// LockAppointment reads the appointment and holds its row until the transaction ends.
	LockAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	// CompareAndSetStatus moves the appointment from one status to another in a single statement.
	// It returns ErrNotFound when the row is missing or no longer in from.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to domain.AppointmentStatus) (domain.Appointment, error)
	InsertLog(ctx context.Context, entry domain.AppointmentLog) error

	// Teleconsultation rooms belong to a separate module; stamping a missing room is a no-op.
	StampRoomStarted(ctx context.Context, appointmentID uuid.UUID, at time.Time) error
	StampRoomEnded(ctx context.Context, appointmentID uuid.UUID, at time.Time) error
}

type TxFunc func(ctx context.Context, tx SchedulingTx) error

type SchedulingRepository interface {
	AvailabilityReader

	ListWeeklyAvailability(ctx context.Context, doctorID uuid.UUID) ([]domain.WeeklyAvailability, error)
	// WorkingWeekdays returns the weekdays on which at least one of doctorIDs works.
	WorkingWeekdays(ctx context.Context, doctorIDs []uuid.UUID) (map[domain.Weekday]bool, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	ListAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]domain.Appointment, error)

	// InDoctorTransaction serializes writers of one doctor's configuration.
	InDoctorTransaction(ctx context.Context, doctorID uuid.UUID, fn TxFunc) error
	// InDoctorDayTransaction serializes writers of one doctor's calendar day.
	InDoctorDayTransaction(ctx context.Context, doctorID uuid.UUID, date time.Time, fn TxFunc) error
	InTransaction(ctx context.Context, fn TxFunc) error
}
