package grpc

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/medibook/schedula/internal/domain"
	"github.com/medibook/schedula/internal/service/appointments"
	"github.com/medibook/schedula/internal/service/schedules"
	"github.com/medibook/schedula/internal/store"
)

type SchedulingServer struct {
	schedules    schedulesService
	availability availabilityService
	appointments appointmentsService
	log          *slog.Logger
}

type schedulesService interface {
	ListWeeklyAvailability(ctx context.Context, doctorID uuid.UUID) ([]domain.WeeklyAvailability, error)
	ReplaceWeeklyAvailability(ctx context.Context, doctorID uuid.UUID, entries []domain.WeeklyEntry) ([]domain.WeeklyAvailability, error)
	GetBlocksForDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]domain.ScheduleBlock, error)
	CreateBlock(ctx context.Context, doctorID uuid.UUID, in schedules.BlockInput) (domain.ScheduleBlock, error)
	UpdateBlock(ctx context.Context, doctorID, blockID uuid.UUID, in schedules.BlockInput) (domain.ScheduleBlock, error)
	DeleteBlock(ctx context.Context, doctorID, blockID uuid.UUID) error
}

type availabilityService interface {
	GetAvailableMonthDays(ctx context.Context, specialtyID uuid.UUID, year int, month time.Month) ([]int, error)
	GetAvailableSlotsForDay(ctx context.Context, specialtyID uuid.UUID, date time.Time) ([]domain.Slot, error)
}

type appointmentsService interface {
	CreateAppointment(ctx context.Context, in appointments.CreateInput, actorID uuid.UUID) (domain.Appointment, error)
	BookSlot(ctx context.Context, in appointments.BookSlotInput, actorID uuid.UUID) (domain.Appointment, error)
	StartAppointment(ctx context.Context, appointmentID, actorID uuid.UUID) (domain.Appointment, error)
	FinishAppointment(ctx context.Context, appointmentID, actorID uuid.UUID) (domain.Appointment, error)
	CancelAppointment(ctx context.Context, appointmentID, actorID uuid.UUID) (domain.Appointment, error)
	GetAppointment(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error)
	ListDoctorAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]domain.Appointment, error)
}

func NewSchedulingServer(sch schedulesService, avail availabilityService, appts appointmentsService, log *slog.Logger) *SchedulingServer {
	if log == nil {
		log = slog.Default()
	}
	return &SchedulingServer{
		schedules:    sch,
		availability: avail,
		appointments: appts,
		log:          log.With(slog.String("component", "grpc.scheduling")),
	}
}

func (s *SchedulingServer) ListWeeklyAvailability(ctx context.Context, req *ListWeeklyAvailabilityRequest) (*WeeklyAvailabilityResponse, error) {
	log := s.log.With(slog.String("rpc", "ListWeeklyAvailability"))

	doctorID, err := parseID("doctor_id", req.DoctorID)
	if err != nil {
		return nil, s.invalid(log, err)
	}
	rows, err := s.schedules.ListWeeklyAvailability(ctx, doctorID)
	if err != nil {
		return nil, s.fail(log, err, slog.String("doctor_id", req.DoctorID))
	}
	return weeklyResponse(rows), nil
}

func (s *SchedulingServer) ReplaceWeeklyAvailability(ctx context.Context, req *ReplaceWeeklyAvailabilityRequest) (*WeeklyAvailabilityResponse, error) {
	log := s.log.With(slog.String("rpc", "ReplaceWeeklyAvailability"))

	doctorID, err := parseID("doctor_id", req.DoctorID)
	if err != nil {
		return nil, s.invalid(log, err)
	}
	entries := make([]domain.WeeklyEntry, 0, len(req.Entries))
	for _, e := range req.Entries {
		entries = append(entries, domain.WeeklyEntry{
			Weekday:   domain.Weekday(e.Weekday),
			StartTime: e.StartTime,
			EndTime:   e.EndTime,
		})
	}

	rows, err := s.schedules.ReplaceWeeklyAvailability(ctx, doctorID, entries)
	if err != nil {
		return nil, s.fail(log, err, slog.String("doctor_id", req.DoctorID))
	}
	log.Info("weekly availability replaced", slog.String("doctor_id", req.DoctorID), slog.Int("days", len(rows)))
	return weeklyResponse(rows), nil
}

func weeklyResponse(rows []domain.WeeklyAvailability) *WeeklyAvailabilityResponse {
	out := &WeeklyAvailabilityResponse{Entries: make([]WeeklyAvailability, 0, len(rows))}
	for _, r := range rows {
		out.Entries = append(out.Entries, toWeeklyAvailability(r))
	}
	return out
}

func (s *SchedulingServer) ListBlocks(ctx context.Context, req *ListBlocksRequest) (*ListBlocksResponse, error) {
	log := s.log.With(slog.String("rpc", "ListBlocks"))

	doctorID, err := parseID("doctor_id", req.DoctorID)
	if err != nil {
		return nil, s.invalid(log, err)
	}
	date, err := domain.ParseDate(req.Date)
	if err != nil {
		return nil, s.invalid(log, err)
	}
	rows, err := s.schedules.GetBlocksForDate(ctx, doctorID, date)
	if err != nil {
		return nil, s.fail(log, err, slog.String("doctor_id", req.DoctorID))
	}
	out := &ListBlocksResponse{Blocks: make([]Block, 0, len(rows))}
	for _, b := range rows {
		out.Blocks = append(out.Blocks, toBlock(b))
	}
	return out, nil
}

func (s *SchedulingServer) CreateBlock(ctx context.Context, req *CreateBlockRequest) (*BlockResponse, error) {
	log := s.log.With(slog.String("rpc", "CreateBlock"))

	doctorID, err := parseID("doctor_id", req.DoctorID)
	if err != nil {
		return nil, s.invalid(log, err)
	}
	in, err := blockInput(req.Date, req.StartTime, req.EndTime, req.Reason)
	if err != nil {
		return nil, s.invalid(log, err)
	}

	block, err := s.schedules.CreateBlock(ctx, doctorID, in)
	if err != nil {
		return nil, s.fail(log, err, slog.String("doctor_id", req.DoctorID))
	}
	log.Info("block created", slog.String("block_id", block.ID.String()), slog.String("doctor_id", req.DoctorID), slog.String("date", req.Date))
	return &BlockResponse{Block: toBlock(block)}, nil
}

func (s *SchedulingServer) UpdateBlock(ctx context.Context, req *UpdateBlockRequest) (*BlockResponse, error) {
	log := s.log.With(slog.String("rpc", "UpdateBlock"))

	doctorID, err := parseID("doctor_id", req.DoctorID)
	if err != nil {
		return nil, s.invalid(log, err)
	}
	blockID, err := parseID("block_id", req.BlockID)
	if err != nil {
		return nil, s.invalid(log, err)
	}
	in, err := blockInput(req.Date, req.StartTime, req.EndTime, req.Reason)
	if err != nil {
		return nil, s.invalid(log, err)
	}

	block, err := s.schedules.UpdateBlock(ctx, doctorID, blockID, in)
	if err != nil {
		return nil, s.fail(log, err, slog.String("doctor_id", req.DoctorID), slog.String("block_id", req.BlockID))
	}
	log.Info("block updated", slog.String("block_id", req.BlockID), slog.String("doctor_id", req.DoctorID))
	return &BlockResponse{Block: toBlock(block)}, nil
}

func (s *SchedulingServer) DeleteBlock(ctx context.Context, req *DeleteBlockRequest) (*DeleteBlockResponse, error) {
	log := s.log.With(slog.String("rpc", "DeleteBlock"))

	doctorID, err := parseID("doctor_id", req.DoctorID)
	if err != nil {
		return nil, s.invalid(log, err)
	}
	blockID, err := parseID("block_id", req.BlockID)
	if err != nil {
		return nil, s.invalid(log, err)
	}
	if err := s.schedules.DeleteBlock(ctx, doctorID, blockID); err != nil {
		return nil, s.fail(log, err, slog.String("doctor_id", req.DoctorID), slog.String("block_id", req.BlockID))
	}
	log.Info("block deleted", slog.String("block_id", req.BlockID), slog.String("doctor_id", req.DoctorID))
	return &DeleteBlockResponse{}, nil
}

func blockInput(date string, start, end *string, reason string) (schedules.BlockInput, error) {
	d, err := domain.ParseDate(date)
	if err != nil {
		return schedules.BlockInput{}, err
	}
	return schedules.BlockInput{Date: d, StartTime: start, EndTime: end, Reason: reason}, nil
}

func (s *SchedulingServer) GetAvailableMonthDays(ctx context.Context, req *GetAvailableMonthDaysRequest) (*GetAvailableMonthDaysResponse, error) {
	log := s.log.With(slog.String("rpc", "GetAvailableMonthDays"))

	specialtyID, err := parseID("specialty_id", req.SpecialtyID)
	if err != nil {
		return nil, s.invalid(log, err)
	}
	days, err := s.availability.GetAvailableMonthDays(ctx, specialtyID, req.Year, time.Month(req.Month))
	if err != nil {
		return nil, s.fail(log, err, slog.String("specialty_id", req.SpecialtyID))
	}
	return &GetAvailableMonthDaysResponse{Days: days}, nil
}

func (s *SchedulingServer) GetAvailableSlotsForDay(ctx context.Context, req *GetAvailableSlotsForDayRequest) (*GetAvailableSlotsForDayResponse, error) {
	log := s.log.With(slog.String("rpc", "GetAvailableSlotsForDay"))

	specialtyID, err := parseID("specialty_id", req.SpecialtyID)
	if err != nil {
		return nil, s.invalid(log, err)
	}
	date, err := domain.ParseDate(req.Date)
	if err != nil {
		return nil, s.invalid(log, err)
	}
	slots, err := s.availability.GetAvailableSlotsForDay(ctx, specialtyID, date)
	if err != nil {
		return nil, s.fail(log, err, slog.String("specialty_id", req.SpecialtyID), slog.String("date", req.Date))
	}
	if slots == nil {
		slots = []domain.Slot{}
	}
	return &GetAvailableSlotsForDayResponse{Slots: slots}, nil
}

func (s *SchedulingServer) CreateAppointment(ctx context.Context, req *CreateAppointmentRequest) (*AppointmentResponse, error) {
	log := s.log.With(slog.String("rpc", "CreateAppointment"))

	actorID, err := actorFromContext(ctx)
	if err != nil {
		log.Warn("unauthenticated", slog.Any("err", err))
		return nil, err
	}
	in := appointments.CreateInput{
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		IdempotencyKey: idempotencyKey(ctx),
	}
	if in.DoctorID, err = parseID("doctor_id", req.DoctorID); err != nil {
		return nil, s.invalid(log, err)
	}
	if in.PatientID, err = parseID("patient_id", req.PatientID); err != nil {
		return nil, s.invalid(log, err)
	}
	if in.SpecialtyID, err = parseID("specialty_id", req.SpecialtyID); err != nil {
		return nil, s.invalid(log, err)
	}
	if in.Date, err = domain.ParseDate(req.Date); err != nil {
		return nil, s.invalid(log, err)
	}

	appt, err := s.appointments.CreateAppointment(ctx, in, actorID)
	if err != nil {
		return nil, s.fail(log, err,
			slog.String("doctor_id", req.DoctorID),
			slog.String("date", req.Date),
			slog.String("start_time", req.StartTime),
		)
	}
	log.Info(
		"appointment created",
		slog.String("appointment_id", appt.ID.String()),
		slog.String("doctor_id", req.DoctorID),
		slog.String("date", req.Date),
		slog.String("start_time", appt.StartTime),
	)
	return &AppointmentResponse{Appointment: toAppointment(appt)}, nil
}

func (s *SchedulingServer) BookSlot(ctx context.Context, req *BookSlotRequest) (*AppointmentResponse, error) {
	log := s.log.With(slog.String("rpc", "BookSlot"))

	actorID, err := actorFromContext(ctx)
	if err != nil {
		log.Warn("unauthenticated", slog.Any("err", err))
		return nil, err
	}
	in := appointments.BookSlotInput{
		StartTime:      req.StartTime,
		IdempotencyKey: idempotencyKey(ctx),
	}
	if in.SpecialtyID, err = parseID("specialty_id", req.SpecialtyID); err != nil {
		return nil, s.invalid(log, err)
	}
	if in.PatientID, err = parseID("patient_id", req.PatientID); err != nil {
		return nil, s.invalid(log, err)
	}
	if in.Date, err = domain.ParseDate(req.Date); err != nil {
		return nil, s.invalid(log, err)
	}

	appt, err := s.appointments.BookSlot(ctx, in, actorID)
	if err != nil {
		return nil, s.fail(log, err, slog.String("specialty_id", req.SpecialtyID), slog.String("date", req.Date), slog.String("start_time", req.StartTime))
	}
	log.Info(
		"slot booked",
		slog.String("appointment_id", appt.ID.String()),
		slog.String("doctor_id", appt.DoctorID.String()),
		slog.String("date", req.Date),
		slog.String("start_time", appt.StartTime),
	)
	return &AppointmentResponse{Appointment: toAppointment(appt)}, nil
}

func (s *SchedulingServer) GetAppointment(ctx context.Context, req *GetAppointmentRequest) (*AppointmentResponse, error) {
	log := s.log.With(slog.String("rpc", "GetAppointment"))

	id, err := parseID("appointment_id", req.AppointmentID)
	if err != nil {
		return nil, s.invalid(log, err)
	}
	appt, err := s.appointments.GetAppointment(ctx, id)
	if err != nil {
		return nil, s.fail(log, err, slog.String("appointment_id", req.AppointmentID))
	}
	return &AppointmentResponse{Appointment: toAppointment(appt)}, nil
}

func (s *SchedulingServer) ListDoctorAppointments(ctx context.Context, req *ListDoctorAppointmentsRequest) (*ListDoctorAppointmentsResponse, error) {
	log := s.log.With(slog.String("rpc", "ListDoctorAppointments"))

	doctorID, err := parseID("doctor_id", req.DoctorID)
	if err != nil {
		return nil, s.invalid(log, err)
	}
	date, err := domain.ParseDate(req.Date)
	if err != nil {
		return nil, s.invalid(log, err)
	}
	rows, err := s.appointments.ListDoctorAppointments(ctx, doctorID, date)
	if err != nil {
		return nil, s.fail(log, err, slog.String("doctor_id", req.DoctorID))
	}
	out := &ListDoctorAppointmentsResponse{Appointments: make([]Appointment, 0, len(rows))}
	for _, a := range rows {
		out.Appointments = append(out.Appointments, toAppointment(a))
	}
	return out, nil
}

func (s *SchedulingServer) StartAppointment(ctx context.Context, req *TransitionRequest) (*AppointmentResponse, error) {
	return s.transition(ctx, "StartAppointment", req, s.appointments.StartAppointment)
}

func (s *SchedulingServer) FinishAppointment(ctx context.Context, req *TransitionRequest) (*AppointmentResponse, error) {
	return s.transition(ctx, "FinishAppointment", req, s.appointments.FinishAppointment)
}

func (s *SchedulingServer) CancelAppointment(ctx context.Context, req *TransitionRequest) (*AppointmentResponse, error) {
	return s.transition(ctx, "CancelAppointment", req, s.appointments.CancelAppointment)
}

func (s *SchedulingServer) transition(
	ctx context.Context,
	rpc string,
	req *TransitionRequest,
	apply func(ctx context.Context, appointmentID, actorID uuid.UUID) (domain.Appointment, error),
) (*AppointmentResponse, error) {
	log := s.log.With(slog.String("rpc", rpc))

	actorID, err := actorFromContext(ctx)
	if err != nil {
		log.Warn("unauthenticated", slog.Any("err", err))
		return nil, err
	}
	id, err := parseID("appointment_id", req.AppointmentID)
	if err != nil {
		return nil, s.invalid(log, err)
	}

	appt, err := apply(ctx, id, actorID)
	if err != nil {
		return nil, s.fail(log, err, slog.String("appointment_id", req.AppointmentID), slog.String("actor_id", actorID.String()))
	}
	log.Info(
		"appointment transitioned",
		slog.String("appointment_id", req.AppointmentID),
		slog.String("actor_id", actorID.String()),
		slog.String("status", string(appt.Status)),
	)
	return &AppointmentResponse{Appointment: toAppointment(appt)}, nil
}

func (s *SchedulingServer) invalid(log *slog.Logger, err error) error {
	log.Warn("invalid request", slog.Any("err", err))
	return status.Error(codes.InvalidArgument, err.Error())
}

// fail maps a service error to its status and logs it at the level the outcome deserves.
func (s *SchedulingServer) fail(log *slog.Logger, err error, attrs ...any) error {
	st := errorStatus(err)
	args := append([]any{slog.Any("err", err)}, attrs...)
	switch st.Code() {
	case codes.Internal:
		log.Error("request failed", args...)
	case codes.InvalidArgument:
		log.Warn("invalid request", args...)
	default:
		log.Info("request refused", append(args, slog.String("code", st.Code().String()))...)
	}
	return st.Err()
}

func errorStatus(err error) *status.Status {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		return status.New(codes.InvalidArgument, vErr.Error())
	case errors.Is(err, store.ErrNotFound):
		return status.New(codes.NotFound, "not found")
	case errors.Is(err, domain.ErrAccessDenied):
		return status.New(codes.PermissionDenied, err.Error())
	case errors.Is(err, domain.ErrInvalidSpecialty),
		errors.Is(err, domain.ErrOutsideWorkingHours),
		errors.Is(err, domain.ErrScheduleBlocked),
		errors.Is(err, domain.ErrInvalidStateTransition):
		return status.New(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrScheduleConflict):
		return status.New(codes.FailedPrecondition, "That time is no longer available. Pick a different slot.")
	case errors.Is(err, store.ErrIdempotencyConflict):
		return status.New(codes.FailedPrecondition, "This request key was already used for a different appointment. Try again.")
	case errors.Is(err, appointments.ErrBookingBusy):
		return status.New(codes.Aborted, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.New(codes.DeadlineExceeded, "deadline exceeded")
	case errors.Is(err, context.Canceled):
		return status.New(codes.Canceled, "request canceled")
	}
	return status.New(codes.Internal, "internal error")
}

func parseID(field, raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, domain.NewValidationError(field + " is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.NewValidationError(field + " must be a UUID")
	}
	return id, nil
}

// actorFromContext reads the authenticated user id that the gateway forwards as x-actor-id.
func actorFromContext(ctx context.Context) (uuid.UUID, error) {
	raw := firstMetadata(ctx, "x-actor-id")
	if raw == "" {
		return uuid.Nil, status.Error(codes.Unauthenticated, "x-actor-id metadata is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, status.Error(codes.Unauthenticated, "x-actor-id must be a UUID")
	}
	return id, nil
}

func idempotencyKey(ctx context.Context) string {
	if v := firstMetadata(ctx, "idempotency-key"); v != "" {
		return v
	}
	return firstMetadata(ctx, "x-idempotency-key")
}

func firstMetadata(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}
