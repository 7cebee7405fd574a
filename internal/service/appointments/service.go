package appointments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medibook/schedula/internal/domain"
	"github.com/medibook/schedula/internal/metrics"
	"github.com/medibook/schedula/internal/store"
)

// ErrBookingBusy means another booking for the same doctor and date holds the booking gate.
// The request did not run and may be retried.
var ErrBookingBusy = errors.New("another booking for this doctor and date is in progress")

type CancelPolicy string

const (
	// CancelAny lets any authenticated actor cancel a scheduled appointment.
	CancelAny CancelPolicy = "any"
	// CancelParticipants limits cancellation to the booked patient, the owning doctor and admins.
	CancelParticipants CancelPolicy = "participants"
)

func ParseCancelPolicy(s string) (CancelPolicy, error) {
	switch p := CancelPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return CancelAny, nil
	case CancelAny, CancelParticipants:
		return p, nil
	}
	return "", fmt.Errorf("unknown cancel policy %q", s)
}

// BookingGate serializes bookings of one doctor and date across processes before the database
// transaction opens. It returns store.ErrLocked when the gate could not be taken in time.
type BookingGate interface {
	WithBookingLock(ctx context.Context, doctorID uuid.UUID, date time.Time, fn func(ctx context.Context) error) error
}

// DoctorFinder picks the doctor who will receive a specialty booking.
type DoctorFinder interface {
	FindBestDoctorForSlot(ctx context.Context, specialtyID uuid.UUID, date time.Time, startTime string) (uuid.UUID, bool, error)
}

type Service struct {
	repo     store.SchedulingRepository
	identity store.IdentityResolver
	finder   DoctorFinder

	gate         BookingGate
	metrics      *metrics.Collector
	cancelPolicy CancelPolicy
	now          func() time.Time
}

type Option func(*Service)

func WithBookingGate(g BookingGate) Option {
	return func(s *Service) { s.gate = g }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(s *Service) { s.metrics = c }
}

func WithCancelPolicy(p CancelPolicy) Option {
	return func(s *Service) { s.cancelPolicy = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo store.SchedulingRepository, identity store.IdentityResolver, finder DoctorFinder, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		identity:     identity,
		finder:       finder,
		cancelPolicy: CancelAny,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateInput struct {
	DoctorID       uuid.UUID
	PatientID      uuid.UUID
	SpecialtyID    uuid.UUID
	Date           time.Time
	StartTime      string
	EndTime        string
	IdempotencyKey string
}

func (in CreateInput) toAppointment(actorID uuid.UUID) (domain.Appointment, int, int, error) {
	if actorID == uuid.Nil {
		return domain.Appointment{}, 0, 0, domain.NewValidationError("actor_id is required")
	}
	if in.DoctorID == uuid.Nil {
		return domain.Appointment{}, 0, 0, domain.NewValidationError("doctor_id is required")
	}
	if in.PatientID == uuid.Nil {
		return domain.Appointment{}, 0, 0, domain.NewValidationError("patient_id is required")
	}
	if in.SpecialtyID == uuid.Nil {
		return domain.Appointment{}, 0, 0, domain.NewValidationError("specialty_id is required")
	}
	if in.Date.IsZero() {
		return domain.Appointment{}, 0, 0, domain.NewValidationError("date is required")
	}
	start, end, err := domain.ParseTimeRange(in.StartTime, in.EndTime)
	if err != nil {
		return domain.Appointment{}, 0, 0, err
	}

	appt := domain.Appointment{
		DoctorID:    in.DoctorID,
		PatientID:   in.PatientID,
		SpecialtyID: in.SpecialtyID,
		Date:        domain.DateOf(in.Date),
		StartTime:   domain.MinutesToTime(start),
		EndTime:     domain.MinutesToTime(end),
		Status:      domain.StatusScheduled,
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		if len(key) > 256 {
			return domain.Appointment{}, 0, 0, domain.NewValidationError("idempotency_key too long")
		}
		appt.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("schedula:create_appointment:"+actorID.String()+":"+key))
	}
	return appt, start, end, nil
}

// CreateAppointment books an appointment inside one transaction serialized on (doctor, date).
// Checks run in a fixed order and each has its own error: specialty, working hours, blocks, conflicts.
func (s *Service) CreateAppointment(ctx context.Context, in CreateInput, actorID uuid.UUID) (domain.Appointment, error) {
	appt, start, end, err := in.toAppointment(actorID)
	if err != nil {
		s.metrics.ObserveBooking(metrics.ResultInvalid)
		return domain.Appointment{}, err
	}

	var (
		out      domain.Appointment
		replayed bool
	)
	book := func(ctx context.Context) error {
		return s.repo.InDoctorDayTransaction(ctx, appt.DoctorID, appt.Date, func(ctx context.Context, tx store.SchedulingTx) error {
			if appt.ID != uuid.Nil {
				existing, err := tx.GetAppointment(ctx, appt.ID)
				switch {
				case err == nil:
					if !existing.SameBooking(appt) {
						return store.ErrIdempotencyConflict
					}
					out, replayed = existing, true
					return nil
				case !errors.Is(err, store.ErrNotFound):
					return err
				}
			}

			if err := checkBookable(ctx, tx, appt, start, end); err != nil {
				return err
			}

			created, err := tx.InsertAppointment(ctx, appt)
			if err != nil {
				if errors.Is(err, store.ErrConflict) {
					return domain.ErrScheduleConflict
				}
				return err
			}
			if err := tx.InsertLog(ctx, domain.AppointmentLog{
				AppointmentID: created.ID,
				Action:        domain.ActionCreated,
				ActorID:       actorID,
			}); err != nil {
				return err
			}
			out = created
			return nil
		})
	}

	if s.gate != nil {
		err = s.gate.WithBookingLock(ctx, appt.DoctorID, appt.Date, book)
		if errors.Is(err, store.ErrLocked) {
			err = ErrBookingBusy
		}
	} else {
		err = book(ctx)
	}

	switch {
	case err != nil:
		s.metrics.ObserveBooking(bookingResult(err))
		return domain.Appointment{}, err
	case replayed:
		s.metrics.ObserveBooking(metrics.ResultReplayed)
	default:
		s.metrics.ObserveBooking(metrics.ResultCreated)
	}
	return out, nil
}

func checkBookable(ctx context.Context, tx store.SchedulingTx, appt domain.Appointment, start, end int) error {
	ok, err := tx.DoctorHasSpecialty(ctx, appt.DoctorID, appt.SpecialtyID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrInvalidSpecialty
	}

	schedule, err := tx.GetWeeklyAvailability(ctx, appt.DoctorID, domain.WeekdayOf(appt.Date))
	if err != nil {
		return err
	}
	if schedule == nil {
		return domain.ErrOutsideWorkingHours
	}
	workStart, workEnd, err := schedule.Minutes()
	if err != nil || start < workStart || end > workEnd {
		return domain.ErrOutsideWorkingHours
	}

	blocks, err := tx.ListBlocks(ctx, appt.DoctorID, appt.Date)
	if err != nil {
		return err
	}
	for _, b := range blocks {
		if b.Overlaps(start, end) {
			return domain.ErrScheduleBlocked
		}
	}

	booked, err := tx.ListActiveAppointments(ctx, appt.DoctorID, appt.Date)
	if err != nil {
		return err
	}
	for _, other := range booked {
		otherStart, otherEnd, err := other.Minutes()
		if err != nil || domain.IntervalsOverlap(start, end, otherStart, otherEnd) {
			return domain.ErrScheduleConflict
		}
	}
	return nil
}

type BookSlotInput struct {
	SpecialtyID    uuid.UUID
	PatientID      uuid.UUID
	Date           time.Time
	StartTime      string
	IdempotencyKey string
}

// BookSlot books a day-view slot for a specialty, assigning the first doctor who still has it free.
func (s *Service) BookSlot(ctx context.Context, in BookSlotInput, actorID uuid.UUID) (domain.Appointment, error) {
	if in.SpecialtyID == uuid.Nil {
		return domain.Appointment{}, domain.NewValidationError("specialty_id is required")
	}
	if in.Date.IsZero() {
		return domain.Appointment{}, domain.NewValidationError("date is required")
	}
	start, err := domain.TimeToMinutes(in.StartTime)
	if err != nil {
		return domain.Appointment{}, err
	}
	end := start + domain.SlotMinutes
	if end > 24*60 {
		return domain.Appointment{}, domain.NewValidationError("slot must end by midnight")
	}

	doctorID, ok, err := s.finder.FindBestDoctorForSlot(ctx, in.SpecialtyID, in.Date, domain.MinutesToTime(start))
	if err != nil {
		return domain.Appointment{}, err
	}
	if !ok {
		s.metrics.ObserveBooking(metrics.ResultConflict)
		return domain.Appointment{}, domain.ErrScheduleConflict
	}

	return s.CreateAppointment(ctx, CreateInput{
		DoctorID:       doctorID,
		PatientID:      in.PatientID,
		SpecialtyID:    in.SpecialtyID,
		Date:           in.Date,
		StartTime:      domain.MinutesToTime(start),
		EndTime:        domain.MinutesToTime(end),
		IdempotencyKey: in.IdempotencyKey,
	}, actorID)
}

func (s *Service) StartAppointment(ctx context.Context, appointmentID, actorID uuid.UUID) (domain.Appointment, error) {
	return s.transition(ctx, domain.ActionStarted, appointmentID, actorID)
}

func (s *Service) FinishAppointment(ctx context.Context, appointmentID, actorID uuid.UUID) (domain.Appointment, error) {
	return s.transition(ctx, domain.ActionFinished, appointmentID, actorID)
}

func (s *Service) CancelAppointment(ctx context.Context, appointmentID, actorID uuid.UUID) (domain.Appointment, error) {
	return s.transition(ctx, domain.ActionCanceled, appointmentID, actorID)
}

// transition applies one state machine edge. The actor is resolved up front; under the row lock the
// appointment's existence is checked first, then authorization, then its status. The status is
// compared and set in one statement.
func (s *Service) transition(ctx context.Context, action domain.LogAction, appointmentID, actorID uuid.UUID) (domain.Appointment, error) {
	if appointmentID == uuid.Nil {
		return domain.Appointment{}, domain.NewValidationError("appointment_id is required")
	}
	if actorID == uuid.Nil {
		return domain.Appointment{}, domain.NewValidationError("actor_id is required")
	}
	tr, ok := domain.TransitionFor(action)
	if !ok {
		return domain.Appointment{}, fmt.Errorf("no transition for action %s", action)
	}

	authorize, err := s.authorizer(ctx, tr, actorID)
	if err != nil {
		s.metrics.ObserveTransition(string(action), transitionResult(err))
		return domain.Appointment{}, err
	}

	var out domain.Appointment
	err = s.repo.InTransaction(ctx, func(ctx context.Context, tx store.SchedulingTx) error {
		current, err := tx.LockAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if err := authorize(current); err != nil {
			return err
		}
		next, err := tr.Apply(current.Status)
		if err != nil {
			return err
		}

		updated, err := tx.CompareAndSetStatus(ctx, current.ID, current.Status, next)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.ErrInvalidStateTransition
			}
			return err
		}
		if err := tx.InsertLog(ctx, domain.AppointmentLog{
			AppointmentID: current.ID,
			Action:        action,
			ActorID:       actorID,
		}); err != nil {
			return err
		}

		switch action {
		case domain.ActionStarted:
			err = tx.StampRoomStarted(ctx, current.ID, s.now())
		case domain.ActionFinished:
			err = tx.StampRoomEnded(ctx, current.ID, s.now())
		}
		if err != nil {
			return err
		}
		out = updated
		return nil
	})

	if err != nil {
		s.metrics.ObserveTransition(string(action), transitionResult(err))
		return domain.Appointment{}, err
	}
	s.metrics.ObserveTransition(string(action), metrics.ResultOK)
	return out, nil
}

// authorizer resolves the actor when the transition needs it and returns the check to run
// against the locked appointment.
func (s *Service) authorizer(ctx context.Context, tr domain.Transition, actorID uuid.UUID) (func(domain.Appointment) error, error) {
	needsParticipant := tr.Action == domain.ActionCanceled && s.cancelPolicy == CancelParticipants
	if !tr.OwnerOnly && !needsParticipant {
		return func(domain.Appointment) error { return nil }, nil
	}

	actor, err := s.identity.ResolveActor(ctx, actorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.ErrAccessDenied
		}
		return nil, err
	}

	if tr.OwnerOnly {
		return func(appt domain.Appointment) error {
			if !actor.OwnsAsDoctor(appt.DoctorID) {
				return domain.ErrAccessDenied
			}
			return nil
		}, nil
	}
	return func(appt domain.Appointment) error {
		if !actor.IsParticipant(appt) {
			return domain.ErrAccessDenied
		}
		return nil
	}, nil
}

func (s *Service) GetAppointment(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	if appointmentID == uuid.Nil {
		return domain.Appointment{}, domain.NewValidationError("appointment_id is required")
	}
	return s.repo.GetAppointment(ctx, appointmentID)
}

// ListDoctorAppointments returns every appointment of the doctor on date, canceled ones included.
func (s *Service) ListDoctorAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]domain.Appointment, error) {
	if doctorID == uuid.Nil {
		return nil, domain.NewValidationError("doctor_id is required")
	}
	if date.IsZero() {
		return nil, domain.NewValidationError("date is required")
	}
	return s.repo.ListAppointments(ctx, doctorID, domain.DateOf(date))
}

func bookingResult(err error) string {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		return metrics.ResultInvalid
	case errors.Is(err, domain.ErrInvalidSpecialty):
		return metrics.ResultSpecialty
	case errors.Is(err, domain.ErrOutsideWorkingHours):
		return metrics.ResultOutsideHours
	case errors.Is(err, domain.ErrScheduleBlocked):
		return metrics.ResultBlocked
	case errors.Is(err, domain.ErrScheduleConflict):
		return metrics.ResultConflict
	case errors.Is(err, ErrBookingBusy):
		return metrics.ResultBusy
	case errors.Is(err, store.ErrIdempotencyConflict):
		return metrics.ResultInvalid
	}
	return metrics.ResultError
}

func transitionResult(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return metrics.ResultNotFound
	case errors.Is(err, domain.ErrAccessDenied):
		return metrics.ResultDenied
	case errors.Is(err, domain.ErrInvalidStateTransition):
		return metrics.ResultInvalidState
	}
	return metrics.ResultError
}
