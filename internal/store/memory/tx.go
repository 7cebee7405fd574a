package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medibook/schedula/internal/domain"
	"github.com/medibook/schedula/internal/store"
)

type tx struct {
	state   *state
	now     func() time.Time
	catalog *catalog
}

var _ store.SchedulingTx = (*tx)(nil)

func (t *tx) view() view {
	return view{state: t.state}
}

func (t *tx) GetWeeklyAvailability(ctx context.Context, doctorID uuid.UUID, weekday domain.Weekday) (*domain.WeeklyAvailability, error) {
	return t.view().weeklyFor(doctorID, weekday), nil
}

func (t *tx) ListWeeklyAvailability(ctx context.Context, doctorID uuid.UUID) ([]domain.WeeklyAvailability, error) {
	return t.view().weeklyList(doctorID), nil
}

func (t *tx) ReplaceWeeklyAvailability(ctx context.Context, doctorID uuid.UUID, entries []domain.WeeklyAvailability) error {
	days := make(map[domain.Weekday]domain.WeeklyAvailability, len(entries))
	for _, e := range entries {
		if _, dup := days[e.Weekday]; dup {
			return store.ErrConflict
		}
		if e.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			e.ID = id
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = t.now()
		}
		e.DoctorID = doctorID
		days[e.Weekday] = e
	}
	t.state.weekly[doctorID] = days
	return nil
}

func (t *tx) ListBlocks(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]domain.ScheduleBlock, error) {
	return t.view().blocksFor(doctorID, date), nil
}

func (t *tx) GetBlock(ctx context.Context, doctorID, blockID uuid.UUID) (domain.ScheduleBlock, error) {
	b, ok := t.state.blocks[blockID]
	if !ok || b.DoctorID != doctorID {
		return domain.ScheduleBlock{}, store.ErrNotFound
	}
	return copyBlock(b), nil
}

func (t *tx) InsertBlock(ctx context.Context, block domain.ScheduleBlock) (domain.ScheduleBlock, error) {
	b := copyBlock(block)
	if b.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.ScheduleBlock{}, err
		}
		b.ID = id
	}
	if _, exists := t.state.blocks[b.ID]; exists {
		return domain.ScheduleBlock{}, store.ErrIdempotencyConflict
	}
	now := t.now()
	b.Date = domain.DateOf(b.Date)
	b.CreatedAt, b.UpdatedAt = now, now
	t.state.blocks[b.ID] = b
	return copyBlock(b), nil
}

func (t *tx) UpdateBlock(ctx context.Context, block domain.ScheduleBlock) (domain.ScheduleBlock, error) {
	current, ok := t.state.blocks[block.ID]
	if !ok || current.DoctorID != block.DoctorID {
		return domain.ScheduleBlock{}, store.ErrNotFound
	}
	b := copyBlock(block)
	b.Date = domain.DateOf(b.Date)
	b.CreatedAt = current.CreatedAt
	b.UpdatedAt = t.now()
	t.state.blocks[b.ID] = b
	return copyBlock(b), nil
}

func (t *tx) DeleteBlock(ctx context.Context, doctorID, blockID uuid.UUID) error {
	b, ok := t.state.blocks[blockID]
	if !ok || b.DoctorID != doctorID {
		return store.ErrNotFound
	}
	delete(t.state.blocks, blockID)
	return nil
}

func (t *tx) DoctorHasSpecialty(ctx context.Context, doctorID, specialtyID uuid.UUID) (bool, error) {
	return t.catalog.hasSpecialty(doctorID, specialtyID), nil
}

func (t *tx) ListActiveAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]domain.Appointment, error) {
	return t.view().appointmentsFor(doctorID, date, false), nil
}

func (t *tx) GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	a, ok := t.state.appointments[id]
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	return a, nil
}

// LockAppointment is a plain read: the store mutex is already held for the whole transaction.
func (t *tx) LockAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	return t.GetAppointment(ctx, id)
}

// InsertAppointment enforces the same rules as the Postgres primary key and exclusion constraint.
func (t *tx) InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	a := appt
	if a.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Appointment{}, err
		}
		a.ID = id
	}
	if _, exists := t.state.appointments[a.ID]; exists {
		return domain.Appointment{}, store.ErrIdempotencyConflict
	}
	a.Date = domain.DateOf(a.Date)

	if a.Status != domain.StatusCanceled {
		start, end, err := a.Minutes()
		if err != nil {
			return domain.Appointment{}, err
		}
		for _, other := range t.view().appointmentsFor(a.DoctorID, a.Date, false) {
			otherStart, otherEnd, err := other.Minutes()
			if err != nil || domain.IntervalsOverlap(start, end, otherStart, otherEnd) {
				return domain.Appointment{}, store.ErrConflict
			}
		}
	}

	now := t.now()
	a.CreatedAt, a.UpdatedAt = now, now
	t.state.appointments[a.ID] = a
	return a, nil
}

func (t *tx) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to domain.AppointmentStatus) (domain.Appointment, error) {
	a, ok := t.state.appointments[id]
	if !ok || a.Status != from {
		return domain.Appointment{}, store.ErrNotFound
	}
	a.Status = to
	a.UpdatedAt = t.now()
	t.state.appointments[id] = a
	return a, nil
}

func (t *tx) InsertLog(ctx context.Context, entry domain.AppointmentLog) error {
	l := entry
	if l.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		l.ID = id
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = t.now()
	}
	t.state.logs = append(t.state.logs, l)
	return nil
}

func (t *tx) StampRoomStarted(ctx context.Context, appointmentID uuid.UUID, at time.Time) error {
	r, ok := t.state.rooms[appointmentID]
	if !ok {
		return nil
	}
	ts := at.UTC()
	r.StartedAt = &ts
	t.state.rooms[appointmentID] = r
	return nil
}

func (t *tx) StampRoomEnded(ctx context.Context, appointmentID uuid.UUID, at time.Time) error {
	r, ok := t.state.rooms[appointmentID]
	if !ok {
		return nil
	}
	ts := at.UTC()
	r.EndedAt = &ts
	t.state.rooms[appointmentID] = r
	return nil
}
