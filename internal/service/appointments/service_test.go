package appointments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/medibook/schedula/internal/domain"
	"github.com/medibook/schedula/internal/metrics"
	"github.com/medibook/schedula/internal/service/availability"
	"github.com/medibook/schedula/internal/store"
	"github.com/medibook/schedula/internal/store/memory"
)

var (
	specialty      = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	otherSpecialty = uuid.MustParse("00000000-0000-0000-0000-0000000000a2")

	doctorA     = uuid.MustParse("00000000-0000-0000-0000-0000000000d1")
	doctorB     = uuid.MustParse("00000000-0000-0000-0000-0000000000d2")
	doctorAUser = uuid.MustParse("00000000-0000-0000-0000-00000000c0d1")
	doctorBUser = uuid.MustParse("00000000-0000-0000-0000-00000000c0d2")

	patient      = uuid.MustParse("00000000-0000-0000-0000-0000000000b1")
	patientUser  = uuid.MustParse("00000000-0000-0000-0000-00000000c0b1")
	strangerUser = uuid.MustParse("00000000-0000-0000-0000-00000000c0b2")
	adminUser    = uuid.MustParse("00000000-0000-0000-0000-00000000c0a1")

	// 2026-03-09 is a Monday.
	monday = time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
)

type fakeFinder struct {
	findFn func(ctx context.Context, specialtyID uuid.UUID, date time.Time, startTime string) (uuid.UUID, bool, error)
}

func (f *fakeFinder) FindBestDoctorForSlot(ctx context.Context, specialtyID uuid.UUID, date time.Time, startTime string) (uuid.UUID, bool, error) {
	if f.findFn == nil {
		panic("FindBestDoctorForSlot not configured")
	}
	return f.findFn(ctx, specialtyID, date, startTime)
}

type fakeGate struct {
	withBookingLockFn func(ctx context.Context, doctorID uuid.UUID, date time.Time, fn func(ctx context.Context) error) error
}

func (f *fakeGate) WithBookingLock(ctx context.Context, doctorID uuid.UUID, date time.Time, fn func(ctx context.Context) error) error {
	if f.withBookingLockFn == nil {
		panic("WithBookingLock not configured")
	}
	return f.withBookingLockFn(ctx, doctorID, date, fn)
}

// newFixture builds two doctors of one specialty who both work Monday 08:00-12:00.
func newFixture(t *testing.T) *memory.Store {
	t.Helper()
	repo := memory.New()
	repo.AddDoctor(memory.Doctor{ID: doctorA, UserID: doctorAUser, Approved: true, Active: true, Specialties: []uuid.UUID{specialty}})
	repo.AddDoctor(memory.Doctor{ID: doctorB, UserID: doctorBUser, Approved: true, Active: true, Specialties: []uuid.UUID{specialty}})
	repo.AddPatient(patientUser, patient)
	repo.AddPatient(strangerUser, uuid.MustParse("00000000-0000-0000-0000-0000000000b2"))
	repo.AddActor(domain.Actor{UserID: adminUser, Role: domain.RoleAdmin})

	for _, doctorID := range []uuid.UUID{doctorA, doctorB} {
		err := repo.InDoctorTransaction(context.Background(), doctorID, func(ctx context.Context, tx store.SchedulingTx) error {
			return tx.ReplaceWeeklyAvailability(ctx, doctorID, []domain.WeeklyAvailability{
				{Weekday: 1, StartTime: "08:00:00", EndTime: "12:00:00"},
			})
		})
		if err != nil {
			t.Fatalf("seed weekly: %v", err)
		}
	}
	return repo
}

func newService(repo *memory.Store, opts ...Option) *Service {
	return NewService(repo, repo, availability.NewService(repo, repo), opts...)
}

func booking(start, end string) CreateInput {
	return CreateInput{
		DoctorID:    doctorA,
		PatientID:   patient,
		SpecialtyID: specialty,
		Date:        monday,
		StartTime:   start,
		EndTime:     end,
	}
}

func TestCreateAppointment_ValidationErrorType(t *testing.T) {
	svc := newService(newFixture(t))

	in := booking("10:00", "09:00")
	_, err := svc.CreateAppointment(context.Background(), in, patientUser)
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error type = %T, want *domain.ValidationError", err)
	}

	in = booking("09:00", "09:30")
	in.PatientID = uuid.Nil
	_, err = svc.CreateAppointment(context.Background(), in, patientUser)
	if !errors.As(err, &vErr) || vErr.Error() != "patient_id is required" {
		t.Fatalf("err = %v, want patient_id validation error", err)
	}
}

func TestCreateAppointment_PersistsScheduledWithCreatedLog(t *testing.T) {
	repo := newFixture(t)
	svc := newService(repo)

	appt, err := svc.CreateAppointment(context.Background(), booking("9:00", "9:30"), patientUser)
	if err != nil {
		t.Fatalf("CreateAppointment error: %v", err)
	}
	if appt.Status != domain.StatusScheduled || appt.StartTime != "09:00:00" || appt.EndTime != "09:30:00" {
		t.Fatalf("appointment = %+v, want SCHEDULED 09:00:00-09:30:00", appt)
	}

	logs := repo.Logs(appt.ID)
	if len(logs) != 1 || logs[0].Action != domain.ActionCreated || logs[0].ActorID != patientUser {
		t.Fatalf("logs = %+v, want one CREATED by patient", logs)
	}
}

func TestCreateAppointment_CheckOrder(t *testing.T) {
	repo := newFixture(t)
	ctx := context.Background()

	// Seeded directly so that a blocked interval also holds an appointment.
	err := repo.InTransaction(ctx, func(ctx context.Context, tx store.SchedulingTx) error {
		start, end := "10:00:00", "10:30:00"
		if _, err := tx.InsertBlock(ctx, domain.ScheduleBlock{DoctorID: doctorA, Date: monday, StartTime: &start, EndTime: &end}); err != nil {
			return err
		}
		for _, window := range [][2]string{{"09:00:00", "09:30:00"}, {"10:00:00", "10:30:00"}} {
			if _, err := tx.InsertAppointment(ctx, domain.Appointment{
				DoctorID: doctorA, PatientID: patient, SpecialtyID: specialty, Date: monday,
				StartTime: window[0], EndTime: window[1], Status: domain.StatusScheduled,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := newService(repo)

	tests := []struct {
		name string
		in   func() CreateInput
		want error
	}{
		{
			name: "specialty before hours",
			in: func() CreateInput {
				in := booking("12:00", "12:30")
				in.SpecialtyID = otherSpecialty
				return in
			},
			want: domain.ErrInvalidSpecialty,
		},
		{name: "past configured end", in: func() CreateInput { return booking("11:45", "12:15") }, want: domain.ErrOutsideWorkingHours},
		{name: "before configured start", in: func() CreateInput { return booking("07:30", "08:00") }, want: domain.ErrOutsideWorkingHours},
		{
			name: "non-working weekday",
			in: func() CreateInput {
				in := booking("09:00", "09:30")
				in.Date = monday.AddDate(0, 0, 1)
				return in
			},
			want: domain.ErrOutsideWorkingHours,
		},
		{name: "block before conflict", in: func() CreateInput { return booking("10:00", "10:30") }, want: domain.ErrScheduleBlocked},
		{name: "partial overlap with block", in: func() CreateInput { return booking("10:15", "10:45") }, want: domain.ErrScheduleBlocked},
		{name: "conflict", in: func() CreateInput { return booking("09:15", "09:45") }, want: domain.ErrScheduleConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateAppointment(ctx, tt.in(), patientUser)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	for _, window := range [][2]string{{"09:30", "10:00"}, {"11:30", "12:00"}, {"08:00", "09:00"}} {
		if _, err := svc.CreateAppointment(ctx, booking(window[0], window[1]), patientUser); err != nil {
			t.Fatalf("booking %s-%s err = %v, want success", window[0], window[1], err)
		}
	}

	active, _ := repo.ListActiveAppointments(ctx, doctorA, monday)
	if len(active) != 5 {
		t.Fatalf("len(active) = %d, want 5", len(active))
	}
}

func TestCreateAppointment_ConcurrentSameSlotExactlyOneSucceeds(t *testing.T) {
	repo := newFixture(t)
	collector := metrics.NewCollector(prometheus.NewRegistry())
	svc := newService(repo, WithMetrics(collector))

	const attempts = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		others    []error
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			// Alternate between the exact slot and an overlapping interval.
			in := booking("10:00", "10:30")
			if i%2 == 1 {
				in = booking("10:15", "10:45")
			}
			_, err := svc.CreateAppointment(context.Background(), in, patientUser)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrScheduleConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if successes != 1 || conflicts != attempts-1 || len(others) != 0 {
		t.Fatalf("successes=%d conflicts=%d others=%v, want 1/%d/none", successes, conflicts, others, attempts-1)
	}
	if got := testutil.ToFloat64(collector.BookingsTotal.WithLabelValues(metrics.ResultCreated)); got != 1 {
		t.Fatalf("created metric = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.BookingsTotal.WithLabelValues(metrics.ResultConflict)); got != attempts-1 {
		t.Fatalf("conflict metric = %v, want %d", got, attempts-1)
	}
}

func TestCreateAppointment_IdempotencyKey(t *testing.T) {
	repo := newFixture(t)
	svc := newService(repo)
	ctx := context.Background()

	in := booking("09:00", "09:30")
	in.IdempotencyKey = "k1"

	first, err := svc.CreateAppointment(ctx, in, patientUser)
	if err != nil {
		t.Fatalf("CreateAppointment error: %v", err)
	}
	want := uuid.NewSHA1(uuid.NameSpaceOID, []byte("schedula:create_appointment:"+patientUser.String()+":k1"))
	if first.ID != want {
		t.Fatalf("id = %s, want %s", first.ID, want)
	}

	again, err := svc.CreateAppointment(ctx, in, patientUser)
	if err != nil {
		t.Fatalf("replay error: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("replay id = %s, want %s", again.ID, first.ID)
	}
	if logs := repo.Logs(first.ID); len(logs) != 1 {
		t.Fatalf("len(logs) = %d, want 1 after replay", len(logs))
	}

	changed := in
	changed.StartTime, changed.EndTime = "11:00", "11:30"
	if _, err := svc.CreateAppointment(ctx, changed, patientUser); !errors.Is(err, store.ErrIdempotencyConflict) {
		t.Fatalf("reused key err = %v, want %v", err, store.ErrIdempotencyConflict)
	}
}

func TestCreateAppointment_BookingGate(t *testing.T) {
	repo := newFixture(t)
	ctx := context.Background()

	var gatedDoctor uuid.UUID
	passThrough := &fakeGate{
		withBookingLockFn: func(ctx context.Context, doctorID uuid.UUID, date time.Time, fn func(ctx context.Context) error) error {
			gatedDoctor = doctorID
			return fn(ctx)
		},
	}
	if _, err := newService(repo, WithBookingGate(passThrough)).CreateAppointment(ctx, booking("09:00", "09:30"), patientUser); err != nil {
		t.Fatalf("CreateAppointment error: %v", err)
	}
	if gatedDoctor != doctorA {
		t.Fatalf("gate doctor = %s, want %s", gatedDoctor, doctorA)
	}

	busy := &fakeGate{
		withBookingLockFn: func(ctx context.Context, doctorID uuid.UUID, date time.Time, fn func(ctx context.Context) error) error {
			return store.ErrLocked
		},
	}
	_, err := newService(repo, WithBookingGate(busy)).CreateAppointment(ctx, booking("10:00", "10:30"), patientUser)
	if !errors.Is(err, ErrBookingBusy) {
		t.Fatalf("err = %v, want %v", err, ErrBookingBusy)
	}
}

func TestStateMachineScenario(t *testing.T) {
	repo := newFixture(t)
	now := time.Date(2026, 3, 9, 9, 1, 0, 0, time.UTC)
	svc := newService(repo, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	appt, err := svc.CreateAppointment(ctx, booking("09:00", "09:30"), patientUser)
	if err != nil {
		t.Fatalf("CreateAppointment error: %v", err)
	}
	repo.AddRoom(appt.ID)

	started, err := svc.StartAppointment(ctx, appt.ID, doctorAUser)
	if err != nil {
		t.Fatalf("StartAppointment error: %v", err)
	}
	if started.Status != domain.StatusInProgress {
		t.Fatalf("status = %s, want %s", started.Status, domain.StatusInProgress)
	}
	if _, err := svc.StartAppointment(ctx, appt.ID, doctorAUser); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Fatalf("second start err = %v, want %v", err, domain.ErrInvalidStateTransition)
	}

	finished, err := svc.FinishAppointment(ctx, appt.ID, doctorAUser)
	if err != nil {
		t.Fatalf("FinishAppointment error: %v", err)
	}
	if finished.Status != domain.StatusFinished {
		t.Fatalf("status = %s, want %s", finished.Status, domain.StatusFinished)
	}
	if _, err := svc.CancelAppointment(ctx, appt.ID, patientUser); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Fatalf("cancel after finish err = %v, want %v", err, domain.ErrInvalidStateTransition)
	}

	room, ok := repo.Room(appt.ID)
	if !ok || room.StartedAt == nil || room.EndedAt == nil || !room.StartedAt.Equal(now) {
		t.Fatalf("room = %+v, want start and end stamped", room)
	}

	var actions []domain.LogAction
	for _, l := range repo.Logs(appt.ID) {
		actions = append(actions, l.Action)
	}
	want := []domain.LogAction{domain.ActionCreated, domain.ActionStarted, domain.ActionFinished}
	if len(actions) != len(want) {
		t.Fatalf("log actions = %v, want %v", actions, want)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Fatalf("log actions = %v, want %v", actions, want)
		}
	}
}

func TestOwnershipScenario(t *testing.T) {
	repo := newFixture(t)
	svc := newService(repo)
	ctx := context.Background()

	in := booking("09:00", "09:30")
	in.DoctorID = doctorB
	appt, err := svc.CreateAppointment(ctx, in, patientUser)
	if err != nil {
		t.Fatalf("CreateAppointment error: %v", err)
	}

	for _, actorID := range []uuid.UUID{doctorAUser, patientUser, adminUser, uuid.New()} {
		if _, err := svc.StartAppointment(ctx, appt.ID, actorID); !errors.Is(err, domain.ErrAccessDenied) {
			t.Fatalf("start by %s err = %v, want %v", actorID, err, domain.ErrAccessDenied)
		}
	}

	got, err := svc.GetAppointment(ctx, appt.ID)
	if err != nil {
		t.Fatalf("GetAppointment error: %v", err)
	}
	if got.Status != domain.StatusScheduled {
		t.Fatalf("status = %s, want %s", got.Status, domain.StatusScheduled)
	}
	if logs := repo.Logs(appt.ID); len(logs) != 1 {
		t.Fatalf("len(logs) = %d, want 1", len(logs))
	}
}

func TestCancelPolicy(t *testing.T) {
	tests := []struct {
		name    string
		policy  CancelPolicy
		actorID uuid.UUID
		wantErr error
	}{
		{name: "any allows stranger", policy: CancelAny, actorID: strangerUser},
		{name: "participants denies stranger", policy: CancelParticipants, actorID: strangerUser, wantErr: domain.ErrAccessDenied},
		{name: "participants allows booked patient", policy: CancelParticipants, actorID: patientUser},
		{name: "participants allows owning doctor", policy: CancelParticipants, actorID: doctorAUser},
		{name: "participants denies other doctor", policy: CancelParticipants, actorID: doctorBUser, wantErr: domain.ErrAccessDenied},
		{name: "participants allows admin", policy: CancelParticipants, actorID: adminUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFixture(t)
			svc := newService(repo, WithCancelPolicy(tt.policy))
			ctx := context.Background()

			appt, err := svc.CreateAppointment(ctx, booking("09:00", "09:30"), patientUser)
			if err != nil {
				t.Fatalf("CreateAppointment error: %v", err)
			}

			got, err := svc.CancelAppointment(ctx, appt.ID, tt.actorID)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("CancelAppointment error: %v", err)
			}
			if got.Status != domain.StatusCanceled {
				t.Fatalf("status = %s, want %s", got.Status, domain.StatusCanceled)
			}

			// The canceled interval is bookable again.
			if _, err := svc.CreateAppointment(ctx, booking("09:00", "09:30"), patientUser); err != nil {
				t.Fatalf("rebooking canceled slot err = %v", err)
			}
		})
	}
}

func TestCancelAppointment_InProgressRejected(t *testing.T) {
	repo := newFixture(t)
	svc := newService(repo)
	ctx := context.Background()

	appt, err := svc.CreateAppointment(ctx, booking("09:00", "09:30"), patientUser)
	if err != nil {
		t.Fatalf("CreateAppointment error: %v", err)
	}
	if _, err := svc.StartAppointment(ctx, appt.ID, doctorAUser); err != nil {
		t.Fatalf("StartAppointment error: %v", err)
	}
	if _, err := svc.CancelAppointment(ctx, appt.ID, patientUser); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Fatalf("err = %v, want %v", err, domain.ErrInvalidStateTransition)
	}
}

func TestTransitions_UnknownAppointment(t *testing.T) {
	svc := newService(newFixture(t))
	ctx := context.Background()
	missing := uuid.New()

	if _, err := svc.CancelAppointment(ctx, missing, patientUser); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("cancel err = %v, want %v", err, store.ErrNotFound)
	}
	if _, err := svc.StartAppointment(ctx, missing, doctorAUser); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("start err = %v, want %v", err, store.ErrNotFound)
	}
}

func TestBookSlot(t *testing.T) {
	repo := newFixture(t)
	svc := newService(repo)
	ctx := context.Background()

	if _, err := svc.CreateAppointment(ctx, booking("09:00", "09:30"), patientUser); err != nil {
		t.Fatalf("CreateAppointment error: %v", err)
	}

	appt, err := svc.BookSlot(ctx, BookSlotInput{SpecialtyID: specialty, PatientID: patient, Date: monday, StartTime: "09:00"}, patientUser)
	if err != nil {
		t.Fatalf("BookSlot error: %v", err)
	}
	if appt.DoctorID != doctorB || appt.StartTime != "09:00:00" || appt.EndTime != "09:30:00" {
		t.Fatalf("appointment = %+v, want doctor B 09:00:00-09:30:00", appt)
	}

	_, err = svc.BookSlot(ctx, BookSlotInput{SpecialtyID: specialty, PatientID: patient, Date: monday, StartTime: "09:00"}, patientUser)
	if !errors.Is(err, domain.ErrScheduleConflict) {
		t.Fatalf("fully booked slot err = %v, want %v", err, domain.ErrScheduleConflict)
	}
}

func TestBookSlot_FinderErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	repo := newFixture(t)
	svc := NewService(repo, repo, &fakeFinder{
		findFn: func(ctx context.Context, specialtyID uuid.UUID, date time.Time, startTime string) (uuid.UUID, bool, error) {
			if startTime != "08:30:00" {
				t.Fatalf("startTime = %q, want normalized 08:30:00", startTime)
			}
			return uuid.Nil, false, boom
		},
	})

	_, err := svc.BookSlot(context.Background(), BookSlotInput{SpecialtyID: specialty, PatientID: patient, Date: monday, StartTime: "8:30"}, patientUser)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestParseCancelPolicy(t *testing.T) {
	for in, want := range map[string]CancelPolicy{"": CancelAny, "any": CancelAny, " Participants ": CancelParticipants} {
		got, err := ParseCancelPolicy(in)
		if err != nil || got != want {
			t.Fatalf("ParseCancelPolicy(%q) = (%q, %v), want %q", in, got, err, want)
		}
	}
	if _, err := ParseCancelPolicy("nobody"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}
