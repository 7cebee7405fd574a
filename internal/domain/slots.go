package domain

import (
	"github.com/google/uuid"
)

// SlotMinutes is the fixed length of a bookable slot.
const SlotMinutes = 30

type Slot struct {
	Time     string    `json:"time"`
	DoctorID uuid.UUID `json:"doctor_id"`
	Duration int       `json:"duration"`
}

type span struct {
	start int
	end   int
}

// GenerateSlots discretizes the doctor's working window into 30 minute slots and drops every slot
// that intersects a block or a non-canceled appointment. A nil schedule means the doctor does not
// work that day. The result depends only on the arguments.
func GenerateSlots(doctorID uuid.UUID, schedule *WeeklyAvailability, blocks []ScheduleBlock, appointments []Appointment) []Slot {
	if schedule == nil {
		return nil
	}
	workStart, workEnd, err := schedule.Minutes()
	if err != nil {
		return nil
	}

	busy := make([]span, 0, len(blocks)+len(appointments))
	for _, b := range blocks {
		s, e, err := b.Minutes()
		if err != nil {
			s, e = 0, minutesPerDay
		}
		busy = append(busy, span{start: s, end: e})
	}
	for _, a := range appointments {
		if a.Status == StatusCanceled {
			continue
		}
		s, e, err := a.Minutes()
		if err != nil {
			s, e = 0, minutesPerDay
		}
		busy = append(busy, span{start: s, end: e})
	}

	out := make([]Slot, 0, (workEnd-workStart)/SlotMinutes)
	for start := workStart; start+SlotMinutes <= workEnd; start += SlotMinutes {
		end := start + SlotMinutes
		if overlapsAny(start, end, busy) {
			continue
		}
		out = append(out, Slot{
			Time:     MinutesToTime(start),
			DoctorID: doctorID,
			Duration: SlotMinutes,
		})
	}
	return out
}

func overlapsAny(start, end int, busy []span) bool {
	for _, b := range busy {
		if IntervalsOverlap(start, end, b.start, b.end) {
			return true
		}
	}
	return false
}

// ContainsSlot reports whether slots has one starting at startTime.
func ContainsSlot(slots []Slot, startTime string) bool {
	for _, s := range slots {
		if s.Time == startTime {
			return true
		}
	}
	return false
}
