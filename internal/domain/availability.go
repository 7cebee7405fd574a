package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Weekday is 0..6 with 0 = Sunday, the same numbering as time.Weekday.
type Weekday int16

func (w Weekday) Valid() bool {
	return w >= 0 && w <= 6
}

func (w Weekday) String() string {
	if !w.Valid() {
		return fmt.Sprintf("Weekday(%d)", int16(w))
	}
	return time.Weekday(w).String()
}

// WeeklyAvailability is a doctor's recurring working interval for one weekday.
// A doctor has at most one entry per weekday.
type WeeklyAvailability struct {
	bun.BaseModel `bun:"table:weekly_availability"`

	ID        uuid.UUID `bun:"id,pk,type:uuid"`
	DoctorID  uuid.UUID `bun:"doctor_id,notnull,type:uuid"`
	Weekday   Weekday   `bun:"weekday,notnull"`
	StartTime string    `bun:"start_time,notnull,type:time"`
	EndTime   string    `bun:"end_time,notnull,type:time"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

func (w *WeeklyAvailability) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); ok {
		if w.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			w.ID = id
		}
		if w.CreatedAt.IsZero() {
			w.CreatedAt = time.Now().UTC()
		}
	}
	return nil
}

func (w *WeeklyAvailability) AfterScanRow(ctx context.Context) error {
	w.StartTime = canonicalTime(w.StartTime)
	w.EndTime = canonicalTime(w.EndTime)
	return nil
}

// Minutes returns the working window as [start,end) minute offsets.
func (w WeeklyAvailability) Minutes() (int, int, error) {
	return ParseTimeRange(w.StartTime, w.EndTime)
}

// WeeklyEntry is one weekday of a replacement payload.
type WeeklyEntry struct {
	Weekday   Weekday
	StartTime string
	EndTime   string
}

// ScheduleBlock is a doctor-declared absence on a date. Nil StartTime and EndTime mean the whole day.
type ScheduleBlock struct {
	bun.BaseModel `bun:"table:schedule_blocks"`

	ID        uuid.UUID `bun:"id,pk,type:uuid"`
	DoctorID  uuid.UUID `bun:"doctor_id,notnull,type:uuid"`
	Date      time.Time `bun:"date,notnull,type:date"`
	StartTime *string   `bun:"start_time,type:time"`
	EndTime   *string   `bun:"end_time,type:time"`
	Reason    *string   `bun:"reason"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

func (b *ScheduleBlock) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if b.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		b.UpdatedAt = now
	}
	return nil
}

func (b *ScheduleBlock) AfterScanRow(ctx context.Context) error {
	if b.StartTime != nil {
		st := canonicalTime(*b.StartTime)
		b.StartTime = &st
	}
	if b.EndTime != nil {
		et := canonicalTime(*b.EndTime)
		b.EndTime = &et
	}
	return nil
}

func (b ScheduleBlock) FullDay() bool {
	return b.StartTime == nil || b.EndTime == nil
}

// Minutes returns the blocked window. A full-day block covers the whole day.
func (b ScheduleBlock) Minutes() (int, int, error) {
	if b.FullDay() {
		return 0, minutesPerDay, nil
	}
	return ParseTimeRange(*b.StartTime, *b.EndTime)
}

// Overlaps reports whether the block intersects [start,end). Unparseable partial blocks
// are treated as covering the whole day so that bad data never opens a slot.
func (b ScheduleBlock) Overlaps(start, end int) bool {
	bs, be, err := b.Minutes()
	if err != nil {
		return true
	}
	return IntervalsOverlap(start, end, bs, be)
}

// ValidateBlockWindow checks the optional start/end pair of a block.
func ValidateBlockWindow(start, end *string) (*string, *string, error) {
	if start == nil && end == nil {
		return nil, nil, nil
	}
	if start == nil || end == nil {
		return nil, nil, validationError("partial block requires both start and end time")
	}
	s, e, err := ParseTimeRange(*start, *end)
	if err != nil {
		return nil, nil, err
	}
	st, et := MinutesToTime(s), MinutesToTime(e)
	return &st, &et, nil
}
