package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/medibook/schedula/internal/domain"
	"github.com/medibook/schedula/internal/service/schedules"
)

var specialtyNames = []string{
	"General Practice",
	"Cardiology",
	"Dermatology",
	"Pediatrics",
	"Orthopedics",
	"Neurology",
	"Psychiatry",
	"Endocrinology",
	"Ophthalmology",
	"Gynecology",
}

// shifts are the working windows a seeded doctor may get on a weekday.
var shifts = [][2]string{
	{"08:00", "12:00"},
	{"08:00", "17:00"},
	{"09:00", "13:30"},
	{"13:00", "18:00"},
	{"14:00", "20:00"},
}

type planOptions struct {
	Specialties     int
	Doctors         int
	Patients        int
	UnapprovedRatio float64
}

func (o planOptions) validate() error {
	switch {
	case o.Specialties < 1 || o.Specialties > len(specialtyNames):
		return fmt.Errorf("specialties must be between 1 and %d", len(specialtyNames))
	case o.Doctors < 0 || o.Patients < 0:
		return errors.New("doctors and patients must not be negative")
	case o.UnapprovedRatio < 0 || o.UnapprovedRatio > 1:
		return errors.New("unapproved-ratio must be between 0 and 1")
	}
	return nil
}

type userRow struct {
	bun.BaseModel `bun:"table:users"`

	ID   uuid.UUID `bun:"id,pk,type:uuid"`
	Role string    `bun:"role"`
}

type specialtyRow struct {
	bun.BaseModel `bun:"table:specialties"`

	ID   uuid.UUID `bun:"id,pk,type:uuid"`
	Name string    `bun:"name"`
}

type doctorRow struct {
	bun.BaseModel `bun:"table:doctors"`

	ID       uuid.UUID `bun:"id,pk,type:uuid"`
	UserID   uuid.UUID `bun:"user_id,type:uuid"`
	Name     string    `bun:"name"`
	Approved bool      `bun:"approved"`
	Active   bool      `bun:"active"`
}

type patientRow struct {
	bun.BaseModel `bun:"table:patients"`

	ID     uuid.UUID `bun:"id,pk,type:uuid"`
	UserID uuid.UUID `bun:"user_id,type:uuid"`
	Name   string    `bun:"name"`
}

type doctorSpecialtyRow struct {
	bun.BaseModel `bun:"table:doctor_specialties"`

	DoctorID    uuid.UUID `bun:"doctor_id,pk,type:uuid"`
	SpecialtyID uuid.UUID `bun:"specialty_id,pk,type:uuid"`
}

type plan struct {
	admin           userRow
	users           []userRow
	specialties     []specialtyRow
	doctors         []doctorRow
	patients        []patientRow
	doctorSpecialty []doctorSpecialtyRow
	weekly          map[uuid.UUID][]domain.WeeklyEntry
}

// buildPlan derives every row from f alone, so one seed always yields the same dataset.
func buildPlan(f *gofakeit.Faker, opts planOptions) plan {
	newID := func() uuid.UUID {
		return uuid.MustParse(f.UUID())
	}

	p := plan{weekly: make(map[uuid.UUID][]domain.WeeklyEntry, opts.Doctors)}
	p.admin = userRow{ID: newID(), Role: string(domain.RoleAdmin)}
	p.users = append(p.users, p.admin)

	for _, i := range perm(f, len(specialtyNames))[:opts.Specialties] {
		p.specialties = append(p.specialties, specialtyRow{ID: newID(), Name: specialtyNames[i]})
	}

	unapproved := int(float64(opts.Doctors) * opts.UnapprovedRatio)
	for i := 0; i < opts.Doctors; i++ {
		user := userRow{ID: newID(), Role: string(domain.RoleDoctor)}
		doc := doctorRow{
			ID:       newID(),
			UserID:   user.ID,
			Name:     "Dr. " + f.Name(),
			Approved: i >= unapproved,
			Active:   true,
		}
		p.users = append(p.users, user)
		p.doctors = append(p.doctors, doc)

		count := f.Number(1, min(2, len(p.specialties)))
		for _, j := range perm(f, len(p.specialties))[:count] {
			p.doctorSpecialty = append(p.doctorSpecialty, doctorSpecialtyRow{DoctorID: doc.ID, SpecialtyID: p.specialties[j].ID})
		}

		var entries []domain.WeeklyEntry
		for wd := domain.Weekday(1); wd <= 6; wd++ {
			if wd == 6 && !f.Bool() {
				continue
			}
			if f.Number(1, 10) <= 2 {
				continue
			}
			shift := shifts[f.Number(0, len(shifts)-1)]
			entries = append(entries, domain.WeeklyEntry{Weekday: wd, StartTime: shift[0], EndTime: shift[1]})
		}
		p.weekly[doc.ID] = entries
	}

	for i := 0; i < opts.Patients; i++ {
		user := userRow{ID: newID(), Role: string(domain.RolePatient)}
		p.users = append(p.users, user)
		p.patients = append(p.patients, patientRow{ID: newID(), UserID: user.ID, Name: f.Name()})
	}
	return p
}

func perm(f *gofakeit.Faker, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	f.ShuffleInts(out)
	return out
}

func insertCatalog(ctx context.Context, db *bun.DB, p plan) error {
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		models := []any{&p.users, &p.specialties, &p.doctors, &p.patients, &p.doctorSpecialty}
		lengths := []int{len(p.users), len(p.specialties), len(p.doctors), len(p.patients), len(p.doctorSpecialty)}
		for i, m := range models {
			if lengths[i] == 0 {
				continue
			}
			if _, err := tx.NewInsert().Model(m).Exec(ctx); err != nil {
				return fmt.Errorf("insert %T: %w", m, err)
			}
		}
		return nil
	})
}

type weeklyReplacer interface {
	ReplaceWeeklyAvailability(ctx context.Context, doctorID uuid.UUID, entries []domain.WeeklyEntry) ([]domain.WeeklyAvailability, error)
}

var _ weeklyReplacer = (*schedules.Service)(nil)

func applySchedules(ctx context.Context, svc weeklyReplacer, p plan) error {
	for _, doc := range p.doctors {
		if _, err := svc.ReplaceWeeklyAvailability(ctx, doc.ID, p.weekly[doc.ID]); err != nil {
			return fmt.Errorf("doctor %s: %w", doc.ID, err)
		}
	}
	return nil
}
