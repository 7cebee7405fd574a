package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/medibook/schedula/internal/domain"
	"github.com/medibook/schedula/internal/metrics"
	"github.com/medibook/schedula/internal/service/appointments"
	"github.com/medibook/schedula/internal/service/availability"
	"github.com/medibook/schedula/internal/service/schedules"
	"github.com/medibook/schedula/internal/store/memory"
)

var (
	e2eSpecialty  = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	e2eDoctor     = uuid.MustParse("00000000-0000-0000-0000-0000000000d1")
	e2eDoctorUser = uuid.MustParse("00000000-0000-0000-0000-00000000c0d1")
	e2ePatient    = uuid.MustParse("00000000-0000-0000-0000-0000000000b1")
	e2eUser       = uuid.MustParse("00000000-0000-0000-0000-00000000c0b1")
)

type harness struct {
	conn    *grpc.ClientConn
	metrics *metrics.Collector
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	repo := memory.New()
	repo.AddDoctor(memory.Doctor{ID: e2eDoctor, UserID: e2eDoctorUser, Approved: true, Active: true, Specialties: []uuid.UUID{e2eSpecialty}})
	repo.AddPatient(e2eUser, e2ePatient)

	collector := metrics.NewCollector(prometheus.NewRegistry())
	avail := availability.NewService(repo, repo, availability.WithMetrics(collector))
	srv := NewSchedulingServer(
		schedules.NewService(repo),
		avail,
		appointments.NewService(repo, repo, avail, appointments.WithMetrics(collector)),
		quietLogger(),
	)

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(DefaultRequestTimeout(5*time.Second), Metrics(collector)))
	RegisterSchedulingServiceServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return &harness{conn: conn, metrics: collector}
}

func (h *harness) call(t *testing.T, ctx context.Context, method string, req, resp any) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return h.conn.Invoke(ctx, FullMethod(method), req, resp)
}

func asActor(actorID uuid.UUID, kv ...string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), append([]string{"x-actor-id", actorID.String()}, kv...)...)
}

func TestEndToEnd_BookingFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var weekly WeeklyAvailabilityResponse
	err := h.call(t, ctx, "ReplaceWeeklyAvailability", &ReplaceWeeklyAvailabilityRequest{
		DoctorID: e2eDoctor.String(),
		Entries:  []WeeklyEntry{{Weekday: 1, StartTime: "08:00", EndTime: "10:00"}},
	}, &weekly)
	if err != nil {
		t.Fatalf("ReplaceWeeklyAvailability: %v", err)
	}
	if len(weekly.Entries) != 1 || weekly.Entries[0].StartTime != "08:00:00" {
		t.Fatalf("weekly = %+v", weekly.Entries)
	}

	start, end := "09:00", "09:30"
	var block BlockResponse
	if err := h.call(t, ctx, "CreateBlock", &CreateBlockRequest{
		DoctorID:  e2eDoctor.String(),
		Date:      "2030-03-11",
		StartTime: &start,
		EndTime:   &end,
	}, &block); err != nil {
		t.Fatalf("CreateBlock: %v", err)
	}

	// 2030-03-11 is a Monday.
	var slots GetAvailableSlotsForDayResponse
	if err := h.call(t, ctx, "GetAvailableSlotsForDay", &GetAvailableSlotsForDayRequest{
		SpecialtyID: e2eSpecialty.String(),
		Date:        "2030-03-11",
	}, &slots); err != nil {
		t.Fatalf("GetAvailableSlotsForDay: %v", err)
	}
	var times []string
	for _, s := range slots.Slots {
		times = append(times, s.Time)
	}
	if len(times) != 3 || times[0] != "08:00:00" || times[1] != "08:30:00" || times[2] != "09:30:00" {
		t.Fatalf("slot times = %v, want [08:00:00 08:30:00 09:30:00]", times)
	}

	var booked AppointmentResponse
	err = h.call(t, asActor(e2eUser, "idempotency-key", "book-1"), "BookSlot", &BookSlotRequest{
		SpecialtyID: e2eSpecialty.String(),
		PatientID:   e2ePatient.String(),
		Date:        "2030-03-11",
		StartTime:   "08:30",
	}, &booked)
	if err != nil {
		t.Fatalf("BookSlot: %v", err)
	}
	if booked.Appointment.DoctorID != e2eDoctor.String() || booked.Appointment.EndTime != "09:00:00" {
		t.Fatalf("booked = %+v", booked.Appointment)
	}

	err = h.call(t, asActor(e2eUser), "CreateAppointment", &CreateAppointmentRequest{
		DoctorID:    e2eDoctor.String(),
		PatientID:   e2ePatient.String(),
		SpecialtyID: e2eSpecialty.String(),
		Date:        "2030-03-11",
		StartTime:   "08:45",
		EndTime:     "09:15",
	}, &AppointmentResponse{})
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("overlapping booking code = %s, want %s", status.Code(err), codes.FailedPrecondition)
	}

	err = h.call(t, asActor(e2eUser), "StartAppointment", &TransitionRequest{AppointmentID: booked.Appointment.ID}, &AppointmentResponse{})
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("patient start code = %s, want %s", status.Code(err), codes.PermissionDenied)
	}

	var started AppointmentResponse
	if err := h.call(t, asActor(e2eDoctorUser), "StartAppointment", &TransitionRequest{AppointmentID: booked.Appointment.ID}, &started); err != nil {
		t.Fatalf("StartAppointment: %v", err)
	}
	if started.Appointment.Status != string(domain.StatusInProgress) {
		t.Fatalf("status = %s, want %s", started.Appointment.Status, domain.StatusInProgress)
	}

	var listed ListDoctorAppointmentsResponse
	if err := h.call(t, ctx, "ListDoctorAppointments", &ListDoctorAppointmentsRequest{DoctorID: e2eDoctor.String(), Date: "2030-03-11"}, &listed); err != nil {
		t.Fatalf("ListDoctorAppointments: %v", err)
	}
	if len(listed.Appointments) != 1 {
		t.Fatalf("appointments = %+v, want one", listed.Appointments)
	}

	if got := testutil.ToFloat64(h.metrics.RPCRequestsTotal.WithLabelValues("StartAppointment", codes.PermissionDenied.String())); got != 1 {
		t.Fatalf("denied StartAppointment count = %v, want 1", got)
	}
}

func TestEndToEnd_Unauthenticated(t *testing.T) {
	h := newHarness(t)

	err := h.call(t, context.Background(), "CancelAppointment", &TransitionRequest{AppointmentID: uuid.NewString()}, &AppointmentResponse{})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("code = %s, want %s", status.Code(err), codes.Unauthenticated)
	}
}
