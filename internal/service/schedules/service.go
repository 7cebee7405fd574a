package schedules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medibook/schedula/internal/domain"
	"github.com/medibook/schedula/internal/store"
)

const maxReasonLength = 500

type Service struct {
	repo store.SchedulingRepository
}

func NewService(repo store.SchedulingRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetWeeklyAvailability(ctx context.Context, doctorID uuid.UUID, weekday domain.Weekday) (*domain.WeeklyAvailability, error) {
	if doctorID == uuid.Nil {
		return nil, domain.NewValidationError("doctor_id is required")
	}
	if !weekday.Valid() {
		return nil, domain.NewValidationError("weekday must be between 0 and 6")
	}
	return s.repo.GetWeeklyAvailability(ctx, doctorID, weekday)
}

func (s *Service) ListWeeklyAvailability(ctx context.Context, doctorID uuid.UUID) ([]domain.WeeklyAvailability, error) {
	if doctorID == uuid.Nil {
		return nil, domain.NewValidationError("doctor_id is required")
	}
	return s.repo.ListWeeklyAvailability(ctx, doctorID)
}

// ReplaceWeeklyAvailability discards the doctor's weekly schedule and stores entries in its place.
// Nothing is written unless every entry is valid.
func (s *Service) ReplaceWeeklyAvailability(ctx context.Context, doctorID uuid.UUID, entries []domain.WeeklyEntry) ([]domain.WeeklyAvailability, error) {
	if doctorID == uuid.Nil {
		return nil, domain.NewValidationError("doctor_id is required")
	}

	seen := make(map[domain.Weekday]struct{}, len(entries))
	rows := make([]domain.WeeklyAvailability, 0, len(entries))
	for i, e := range entries {
		if !e.Weekday.Valid() {
			return nil, domain.NewValidationError(fmt.Sprintf("entries[%d]: weekday must be between 0 and 6", i))
		}
		if _, dup := seen[e.Weekday]; dup {
			return nil, domain.NewValidationError(fmt.Sprintf("entries[%d]: duplicate weekday %d", i, e.Weekday))
		}
		seen[e.Weekday] = struct{}{}

		start, end, err := domain.ParseTimeRange(e.StartTime, e.EndTime)
		if err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("entries[%d]: %v", i, err))
		}
		rows = append(rows, domain.WeeklyAvailability{
			DoctorID:  doctorID,
			Weekday:   e.Weekday,
			StartTime: domain.MinutesToTime(start),
			EndTime:   domain.MinutesToTime(end),
		})
	}

	var out []domain.WeeklyAvailability
	err := s.repo.InDoctorTransaction(ctx, doctorID, func(ctx context.Context, tx store.SchedulingTx) error {
		if err := tx.ReplaceWeeklyAvailability(ctx, doctorID, rows); err != nil {
			return err
		}
		stored, err := tx.ListWeeklyAvailability(ctx, doctorID)
		if err != nil {
			return err
		}
		out = stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type BlockInput struct {
	Date      time.Time
	StartTime *string
	EndTime   *string
	Reason    string
}

func (in BlockInput) toBlock(doctorID uuid.UUID) (domain.ScheduleBlock, error) {
	if doctorID == uuid.Nil {
		return domain.ScheduleBlock{}, domain.NewValidationError("doctor_id is required")
	}
	if in.Date.IsZero() {
		return domain.ScheduleBlock{}, domain.NewValidationError("date is required")
	}
	start, end, err := domain.ValidateBlockWindow(in.StartTime, in.EndTime)
	if err != nil {
		return domain.ScheduleBlock{}, err
	}

	block := domain.ScheduleBlock{
		DoctorID:  doctorID,
		Date:      domain.DateOf(in.Date),
		StartTime: start,
		EndTime:   end,
	}
	reason := strings.TrimSpace(in.Reason)
	if len(reason) > maxReasonLength {
		return domain.ScheduleBlock{}, domain.NewValidationError("reason too long")
	}
	if reason != "" {
		block.Reason = &reason
	}
	return block, nil
}

func (s *Service) GetBlocksForDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]domain.ScheduleBlock, error) {
	if doctorID == uuid.Nil {
		return nil, domain.NewValidationError("doctor_id is required")
	}
	if date.IsZero() {
		return nil, domain.NewValidationError("date is required")
	}
	return s.repo.ListBlocks(ctx, doctorID, domain.DateOf(date))
}

func (s *Service) CreateBlock(ctx context.Context, doctorID uuid.UUID, in BlockInput) (domain.ScheduleBlock, error) {
	block, err := in.toBlock(doctorID)
	if err != nil {
		return domain.ScheduleBlock{}, err
	}

	var out domain.ScheduleBlock
	err = s.repo.InDoctorDayTransaction(ctx, doctorID, block.Date, func(ctx context.Context, tx store.SchedulingTx) error {
		created, err := tx.InsertBlock(ctx, block)
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	if err != nil {
		return domain.ScheduleBlock{}, err
	}
	return out, nil
}

// UpdateBlock rewrites a block owned by doctorID. A block of another doctor is reported as store.ErrNotFound.
func (s *Service) UpdateBlock(ctx context.Context, doctorID, blockID uuid.UUID, in BlockInput) (domain.ScheduleBlock, error) {
	if blockID == uuid.Nil {
		return domain.ScheduleBlock{}, domain.NewValidationError("block_id is required")
	}
	block, err := in.toBlock(doctorID)
	if err != nil {
		return domain.ScheduleBlock{}, err
	}
	block.ID = blockID

	var out domain.ScheduleBlock
	err = s.repo.InDoctorTransaction(ctx, doctorID, func(ctx context.Context, tx store.SchedulingTx) error {
		current, err := tx.GetBlock(ctx, doctorID, blockID)
		if err != nil {
			return err
		}
		block.CreatedAt = current.CreatedAt
		updated, err := tx.UpdateBlock(ctx, block)
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return domain.ScheduleBlock{}, err
	}
	return out, nil
}

func (s *Service) DeleteBlock(ctx context.Context, doctorID, blockID uuid.UUID) error {
	if doctorID == uuid.Nil {
		return domain.NewValidationError("doctor_id is required")
	}
	if blockID == uuid.Nil {
		return domain.NewValidationError("block_id is required")
	}
	return s.repo.InDoctorTransaction(ctx, doctorID, func(ctx context.Context, tx store.SchedulingTx) error {
		return tx.DeleteBlock(ctx, doctorID, blockID)
	})
}
