// Package memory is an in-process implementation of the scheduling store. Every transaction runs
// against a private copy of the state under one mutex and is published only when fn succeeds, so
// writers are serialized the same way the Postgres advisory locks serialize them.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medibook/schedula/internal/domain"
	"github.com/medibook/schedula/internal/store"
)

type Room struct {
	AppointmentID uuid.UUID
	StartedAt     *time.Time
	EndedAt       *time.Time
}

type state struct {
	weekly       map[uuid.UUID]map[domain.Weekday]domain.WeeklyAvailability
	blocks       map[uuid.UUID]domain.ScheduleBlock
	appointments map[uuid.UUID]domain.Appointment
	logs         []domain.AppointmentLog
	rooms        map[uuid.UUID]Room
}

func newState() *state {
	return &state{
		weekly:       make(map[uuid.UUID]map[domain.Weekday]domain.WeeklyAvailability),
		blocks:       make(map[uuid.UUID]domain.ScheduleBlock),
		appointments: make(map[uuid.UUID]domain.Appointment),
		rooms:        make(map[uuid.UUID]Room),
	}
}

func (s *state) clone() *state {
	out := newState()
	for doctorID, days := range s.weekly {
		cp := make(map[domain.Weekday]domain.WeeklyAvailability, len(days))
		for wd, wa := range days {
			cp[wd] = wa
		}
		out.weekly[doctorID] = cp
	}
	for id, b := range s.blocks {
		out.blocks[id] = copyBlock(b)
	}
	for id, a := range s.appointments {
		out.appointments[id] = a
	}
	out.logs = append(out.logs, s.logs...)
	for id, r := range s.rooms {
		out.rooms[id] = r
	}
	return out
}

type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time

	catalog *catalog
}

func New() *Store {
	return &Store{
		state:   newState(),
		now:     func() time.Time { return time.Now().UTC() },
		catalog: newCatalog(),
	}
}

func (s *Store) InDoctorTransaction(ctx context.Context, doctorID uuid.UUID, fn store.TxFunc) error {
	return s.inTx(ctx, fn)
}

func (s *Store) InDoctorDayTransaction(ctx context.Context, doctorID uuid.UUID, date time.Time, fn store.TxFunc) error {
	return s.inTx(ctx, fn)
}

func (s *Store) InTransaction(ctx context.Context, fn store.TxFunc) error {
	return s.inTx(ctx, fn)
}

func (s *Store) inTx(ctx context.Context, fn store.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(ctx, &tx{state: working, now: s.now, catalog: s.catalog}); err != nil {
		return err
	}
	s.state = working
	return nil
}

// read runs fn against the committed state.
func (s *Store) read(fn func(v view)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(view{state: s.state})
}

func (s *Store) GetWeeklyAvailability(ctx context.Context, doctorID uuid.UUID, weekday domain.Weekday) (*domain.WeeklyAvailability, error) {
	var out *domain.WeeklyAvailability
	s.read(func(v view) { out = v.weeklyFor(doctorID, weekday) })
	return out, nil
}

func (s *Store) ListWeeklyAvailability(ctx context.Context, doctorID uuid.UUID) ([]domain.WeeklyAvailability, error) {
	var out []domain.WeeklyAvailability
	s.read(func(v view) { out = v.weeklyList(doctorID) })
	return out, nil
}

func (s *Store) WorkingWeekdays(ctx context.Context, doctorIDs []uuid.UUID) (map[domain.Weekday]bool, error) {
	out := make(map[domain.Weekday]bool, 7)
	s.read(func(v view) {
		for _, id := range doctorIDs {
			for wd := range v.state.weekly[id] {
				out[wd] = true
			}
		}
	})
	return out, nil
}

func (s *Store) ListBlocks(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]domain.ScheduleBlock, error) {
	var out []domain.ScheduleBlock
	s.read(func(v view) { out = v.blocksFor(doctorID, date) })
	return out, nil
}

func (s *Store) ListActiveAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]domain.Appointment, error) {
	var out []domain.Appointment
	s.read(func(v view) { out = v.appointmentsFor(doctorID, date, false) })
	return out, nil
}

func (s *Store) ListAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]domain.Appointment, error) {
	var out []domain.Appointment
	s.read(func(v view) { out = v.appointmentsFor(doctorID, date, true) })
	return out, nil
}

func (s *Store) GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	var (
		out domain.Appointment
		ok  bool
	)
	s.read(func(v view) { out, ok = v.state.appointments[id] })
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	return out, nil
}

// Logs returns the audit trail of one appointment in insertion order.
func (s *Store) Logs(appointmentID uuid.UUID) []domain.AppointmentLog {
	var out []domain.AppointmentLog
	s.read(func(v view) {
		for _, l := range v.state.logs {
			if l.AppointmentID == appointmentID {
				out = append(out, l)
			}
		}
	})
	return out
}

// AddRoom registers a teleconsultation room for an appointment.
func (s *Store) AddRoom(appointmentID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.rooms[appointmentID] = Room{AppointmentID: appointmentID}
}

func (s *Store) Room(appointmentID uuid.UUID) (Room, bool) {
	var (
		out Room
		ok  bool
	)
	s.read(func(v view) { out, ok = v.state.rooms[appointmentID] })
	return out, ok
}

// view holds the read helpers shared by the committed state and open transactions.
type view struct {
	state *state
}

func (v view) weeklyFor(doctorID uuid.UUID, weekday domain.Weekday) *domain.WeeklyAvailability {
	wa, ok := v.state.weekly[doctorID][weekday]
	if !ok {
		return nil
	}
	return &wa
}

func (v view) weeklyList(doctorID uuid.UUID) []domain.WeeklyAvailability {
	days := v.state.weekly[doctorID]
	out := make([]domain.WeeklyAvailability, 0, len(days))
	for _, wa := range days {
		out = append(out, wa)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Weekday < out[j].Weekday })
	return out
}

func (v view) blocksFor(doctorID uuid.UUID, date time.Time) []domain.ScheduleBlock {
	day := domain.DateOf(date)
	var out []domain.ScheduleBlock
	for _, b := range v.state.blocks {
		if b.DoctorID == doctorID && b.Date.Equal(day) {
			out = append(out, copyBlock(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := blockStart(out[i]), blockStart(out[j])
		if si != sj {
			return si < sj
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (v view) appointmentsFor(doctorID uuid.UUID, date time.Time, includeCanceled bool) []domain.Appointment {
	day := domain.DateOf(date)
	var out []domain.Appointment
	for _, a := range v.state.appointments {
		if a.DoctorID != doctorID || !a.Date.Equal(day) {
			continue
		}
		if !includeCanceled && a.Status == domain.StatusCanceled {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func blockStart(b domain.ScheduleBlock) string {
	if b.StartTime == nil {
		return ""
	}
	return *b.StartTime
}

func copyBlock(b domain.ScheduleBlock) domain.ScheduleBlock {
	out := b
	out.StartTime = copyString(b.StartTime)
	out.EndTime = copyString(b.EndTime)
	out.Reason = copyString(b.Reason)
	return out
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
