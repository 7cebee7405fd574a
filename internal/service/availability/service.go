package availability

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/medibook/schedula/internal/domain"
	"github.com/medibook/schedula/internal/metrics"
	"github.com/medibook/schedula/internal/store"
)

const defaultConcurrency = 4

// Repository is the read side the availability views need.
type Repository interface {
	store.AvailabilityReader
	WorkingWeekdays(ctx context.Context, doctorIDs []uuid.UUID) (map[domain.Weekday]bool, error)
}

type Service struct {
	repo        Repository
	catalog     store.Catalog
	metrics     *metrics.Collector
	concurrency int
	now         func() time.Time
}

type Option func(*Service)

func WithMetrics(c *metrics.Collector) Option {
	return func(s *Service) { s.metrics = c }
}

// WithConcurrency bounds how many doctors the day view evaluates at once.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, catalog store.Catalog, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		catalog:     catalog,
		concurrency: defaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateSlots returns the free 30 minute slots of one doctor on date.
func (s *Service) GenerateSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]domain.Slot, error) {
	if doctorID == uuid.Nil {
		return nil, domain.NewValidationError("doctor_id is required")
	}
	if date.IsZero() {
		return nil, domain.NewValidationError("date is required")
	}
	defer s.metrics.TimeGeneration("doctor_day")()
	return s.generate(ctx, doctorID, domain.DateOf(date))
}

func (s *Service) generate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]domain.Slot, error) {
	schedule, err := s.repo.GetWeeklyAvailability(ctx, doctorID, domain.WeekdayOf(date))
	if err != nil {
		return nil, err
	}
	if schedule == nil {
		return nil, nil
	}
	blocks, err := s.repo.ListBlocks(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	appointments, err := s.repo.ListActiveAppointments(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	return domain.GenerateSlots(doctorID, schedule, blocks, appointments), nil
}

// GetAvailableMonthDays lists the days of month, from today on, on which at least one qualified doctor
// has a weekly schedule. Blocks and booked appointments are not consulted; the day view applies them.
func (s *Service) GetAvailableMonthDays(ctx context.Context, specialtyID uuid.UUID, year int, month time.Month) ([]int, error) {
	if specialtyID == uuid.Nil {
		return nil, domain.NewValidationError("specialty_id is required")
	}
	if year < 1 || year > 9999 {
		return nil, domain.NewValidationError("year out of range")
	}
	if month < time.January || month > time.December {
		return nil, domain.NewValidationError("month must be between 1 and 12")
	}
	defer s.metrics.TimeGeneration("month")()

	doctors, err := s.catalog.QualifiedDoctors(ctx, specialtyID)
	if err != nil {
		return nil, err
	}
	days := []int{}
	if len(doctors) == 0 {
		return days, nil
	}
	working, err := s.repo.WorkingWeekdays(ctx, doctors)
	if err != nil {
		return nil, err
	}

	today := domain.DateOf(s.now().UTC())
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	for d := first; d.Month() == month; d = d.AddDate(0, 0, 1) {
		if d.Before(today) {
			continue
		}
		if working[domain.WeekdayOf(d)] {
			days = append(days, d.Day())
		}
	}
	return days, nil
}

// GetAvailableSlotsForDay unions the free slots of every qualified doctor. Slots starting at the same
// time collapse into one entry showing the first doctor in catalog order.
func (s *Service) GetAvailableSlotsForDay(ctx context.Context, specialtyID uuid.UUID, date time.Time) ([]domain.Slot, error) {
	if specialtyID == uuid.Nil {
		return nil, domain.NewValidationError("specialty_id is required")
	}
	if date.IsZero() {
		return nil, domain.NewValidationError("date is required")
	}
	defer s.metrics.TimeGeneration("specialty_day")()

	doctors, err := s.catalog.QualifiedDoctors(ctx, specialtyID)
	if err != nil {
		return nil, err
	}
	day := domain.DateOf(date)

	perDoctor := make([][]domain.Slot, len(doctors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, doctorID := range doctors {
		g.Go(func() error {
			slots, err := s.generate(gctx, doctorID, day)
			if err != nil {
				return err
			}
			perDoctor[i] = slots
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	out := []domain.Slot{}
	for _, slots := range perDoctor {
		for _, slot := range slots {
			if _, ok := seen[slot.Time]; ok {
				continue
			}
			seen[slot.Time] = struct{}{}
			out = append(out, slot)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

// FindBestDoctorForSlot returns the first qualified doctor, in catalog order, who has startTime free on date.
func (s *Service) FindBestDoctorForSlot(ctx context.Context, specialtyID uuid.UUID, date time.Time, startTime string) (uuid.UUID, bool, error) {
	if specialtyID == uuid.Nil {
		return uuid.Nil, false, domain.NewValidationError("specialty_id is required")
	}
	if date.IsZero() {
		return uuid.Nil, false, domain.NewValidationError("date is required")
	}
	start, err := domain.NormalizeTime(startTime)
	if err != nil {
		return uuid.Nil, false, err
	}

	doctors, err := s.catalog.QualifiedDoctors(ctx, specialtyID)
	if err != nil {
		return uuid.Nil, false, err
	}
	day := domain.DateOf(date)
	for _, doctorID := range doctors {
		slots, err := s.generate(ctx, doctorID, day)
		if err != nil {
			return uuid.Nil, false, err
		}
		if domain.ContainsSlot(slots, start) {
			return doctorID, true, nil
		}
	}
	return uuid.Nil, false, nil
}
