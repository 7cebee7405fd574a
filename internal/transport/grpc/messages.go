package grpc

import (
	"time"

	"github.com/medibook/schedula/internal/domain"
)

type WeeklyEntry struct {
	Weekday   int    `json:"weekday"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type WeeklyAvailability struct {
	ID        string `json:"id"`
	DoctorID  string `json:"doctor_id"`
	Weekday   int    `json:"weekday"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type ReplaceWeeklyAvailabilityRequest struct {
	DoctorID string        `json:"doctor_id"`
	Entries  []WeeklyEntry `json:"entries"`
}

type ListWeeklyAvailabilityRequest struct {
	DoctorID string `json:"doctor_id"`
}

type WeeklyAvailabilityResponse struct {
	Entries []WeeklyAvailability `json:"entries"`
}

type Block struct {
	ID        string    `json:"id"`
	DoctorID  string    `json:"doctor_id"`
	Date      string    `json:"date"`
	StartTime *string   `json:"start_time,omitempty"`
	EndTime   *string   `json:"end_time,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CreateBlockRequest struct {
	DoctorID  string  `json:"doctor_id"`
	Date      string  `json:"date"`
	StartTime *string `json:"start_time,omitempty"`
	EndTime   *string `json:"end_time,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

type UpdateBlockRequest struct {
	DoctorID  string  `json:"doctor_id"`
	BlockID   string  `json:"block_id"`
	Date      string  `json:"date"`
	StartTime *string `json:"start_time,omitempty"`
	EndTime   *string `json:"end_time,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

type BlockResponse struct {
	Block Block `json:"block"`
}

type DeleteBlockRequest struct {
	DoctorID string `json:"doctor_id"`
	BlockID  string `json:"block_id"`
}

type DeleteBlockResponse struct{}

type ListBlocksRequest struct {
	DoctorID string `json:"doctor_id"`
	Date     string `json:"date"`
}

type ListBlocksResponse struct {
	Blocks []Block `json:"blocks"`
}

type GetAvailableMonthDaysRequest struct {
	SpecialtyID string `json:"specialty_id"`
	Year        int    `json:"year"`
	Month       int    `json:"month"`
}

type GetAvailableMonthDaysResponse struct {
	Days []int `json:"days"`
}

type GetAvailableSlotsForDayRequest struct {
	SpecialtyID string `json:"specialty_id"`
	Date        string `json:"date"`
}

type GetAvailableSlotsForDayResponse struct {
	Slots []domain.Slot `json:"slots"`
}

type Appointment struct {
	ID          string    `json:"id"`
	DoctorID    string    `json:"doctor_id"`
	PatientID   string    `json:"patient_id"`
	SpecialtyID string    `json:"specialty_id"`
	Date        string    `json:"date"`
	StartTime   string    `json:"start_time"`
	EndTime     string    `json:"end_time"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type CreateAppointmentRequest struct {
	DoctorID    string `json:"doctor_id"`
	PatientID   string `json:"patient_id"`
	SpecialtyID string `json:"specialty_id"`
	Date        string `json:"date"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
}

type BookSlotRequest struct {
	SpecialtyID string `json:"specialty_id"`
	PatientID   string `json:"patient_id"`
	Date        string `json:"date"`
	StartTime   string `json:"start_time"`
}

type AppointmentResponse struct {
	Appointment Appointment `json:"appointment"`
}

type GetAppointmentRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type ListDoctorAppointmentsRequest struct {
	DoctorID string `json:"doctor_id"`
	Date     string `json:"date"`
}

type ListDoctorAppointmentsResponse struct {
	Appointments []Appointment `json:"appointments"`
}

// TransitionRequest is shared by StartAppointment, FinishAppointment and CancelAppointment.
type TransitionRequest struct {
	AppointmentID string `json:"appointment_id"`
}

func toWeeklyAvailability(w domain.WeeklyAvailability) WeeklyAvailability {
	return WeeklyAvailability{
		ID:        w.ID.String(),
		DoctorID:  w.DoctorID.String(),
		Weekday:   int(w.Weekday),
		StartTime: w.StartTime,
		EndTime:   w.EndTime,
	}
}

func toBlock(b domain.ScheduleBlock) Block {
	out := Block{
		ID:        b.ID.String(),
		DoctorID:  b.DoctorID.String(),
		Date:      b.Date.Format(time.DateOnly),
		StartTime: b.StartTime,
		EndTime:   b.EndTime,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
	if b.Reason != nil {
		out.Reason = *b.Reason
	}
	return out
}

func toAppointment(a domain.Appointment) Appointment {
	return Appointment{
		ID:          a.ID.String(),
		DoctorID:    a.DoctorID.String(),
		PatientID:   a.PatientID.String(),
		SpecialtyID: a.SpecialtyID.String(),
		Date:        a.Date.Format(time.DateOnly),
		StartTime:   a.StartTime,
		EndTime:     a.EndTime,
		Status:      string(a.Status),
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}
