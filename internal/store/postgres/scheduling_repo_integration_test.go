package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/medibook/schedula/internal/domain"
	"github.com/medibook/schedula/internal/store"
)

func TestPostgresIntegration_SchedulingRoundTripOverlapAndIdempotency(t *testing.T) {
	databaseURL := strings.TrimSpace(os.Getenv("SCHEDULA_TEST_DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("SCHEDULA_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := Open(ctx, databaseURL, PoolConfig{MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(db)
	})

	schema := "schedula_test_" + randomHex(t, 8)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = db.NewRaw("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Exec(ctx)
	})

	doctorID := uuid.MustParse("00000000-0000-0000-0000-0000000000d1")
	specialtyID := uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	patientID := uuid.MustParse("00000000-0000-0000-0000-0000000000b1")
	date := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewRaw("CREATE SCHEMA " + schema).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewRaw("SET LOCAL search_path TO " + schema).Exec(ctx); err != nil {
			return err
		}
		if err := applyMigrations(ctx, tx); err != nil {
			return err
		}
		if err := seedCatalog(ctx, tx, doctorID, specialtyID); err != nil {
			return err
		}

		q := queries{db: tx}

		err := q.ReplaceWeeklyAvailability(ctx, doctorID, []domain.WeeklyAvailability{
			{DoctorID: doctorID, Weekday: domain.WeekdayOf(date), StartTime: "08:00:00", EndTime: "12:00:00"},
		})
		if err != nil {
			return err
		}
		wa, err := q.GetWeeklyAvailability(ctx, doctorID, domain.WeekdayOf(date))
		if err != nil {
			return err
		}
		if wa == nil || wa.StartTime != "08:00:00" || wa.EndTime != "12:00:00" {
			return fmt.Errorf("weekly availability = %+v, want 08:00:00-12:00:00", wa)
		}
		missing, err := q.GetWeeklyAvailability(ctx, doctorID, domain.WeekdayOf(date.AddDate(0, 0, 1)))
		if err != nil {
			return err
		}
		if missing != nil {
			return fmt.Errorf("expected no availability on the next weekday, got %+v", missing)
		}

		ok, err := q.DoctorHasSpecialty(ctx, doctorID, specialtyID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("doctor should have specialty")
		}

		start, end := "09:00:00", "09:30:00"
		block, err := q.InsertBlock(ctx, domain.ScheduleBlock{DoctorID: doctorID, Date: date, StartTime: &start, EndTime: &end})
		if err != nil {
			return err
		}
		blocks, err := q.ListBlocks(ctx, doctorID, date)
		if err != nil {
			return err
		}
		if len(blocks) != 1 || blocks[0].ID != block.ID || *blocks[0].StartTime != start {
			return fmt.Errorf("blocks = %+v, want the inserted block", blocks)
		}
		if err := q.DeleteBlock(ctx, doctorID, block.ID); err != nil {
			return err
		}
		if err := q.DeleteBlock(ctx, doctorID, block.ID); err != store.ErrNotFound {
			return fmt.Errorf("second delete err = %v, want %v", err, store.ErrNotFound)
		}

		a1, err := q.InsertAppointment(ctx, domain.Appointment{
			ID:          uuid.MustParse("00000000-0000-0000-0000-000000000901"),
			DoctorID:    doctorID,
			PatientID:   patientID,
			SpecialtyID: specialtyID,
			Date:        date,
			StartTime:   "10:00:00",
			EndTime:     "10:30:00",
			Status:      domain.StatusScheduled,
		})
		if err != nil {
			return err
		}

		err = withSavepoint(ctx, tx, func() error {
			_, err := q.InsertAppointment(ctx, domain.Appointment{
				DoctorID:    doctorID,
				PatientID:   patientID,
				SpecialtyID: specialtyID,
				Date:        date,
				StartTime:   "10:15:00",
				EndTime:     "10:45:00",
				Status:      domain.StatusScheduled,
			})
			return err
		})
		if err != store.ErrConflict {
			return fmt.Errorf("overlap err = %v, want %v", err, store.ErrConflict)
		}

		err = withSavepoint(ctx, tx, func() error {
			dup := a1
			dup.StartTime, dup.EndTime = "11:30:00", "12:00:00"
			_, err := q.InsertAppointment(ctx, dup)
			return err
		})
		if err != store.ErrIdempotencyConflict {
			return fmt.Errorf("duplicate id err = %v, want %v", err, store.ErrIdempotencyConflict)
		}

		if _, err := q.InsertAppointment(ctx, domain.Appointment{
			DoctorID:    doctorID,
			PatientID:   patientID,
			SpecialtyID: specialtyID,
			Date:        date,
			StartTime:   "10:30:00",
			EndTime:     "11:00:00",
			Status:      domain.StatusScheduled,
		}); err != nil {
			return fmt.Errorf("touching appointment: %w", err)
		}

		canceled, err := q.CompareAndSetStatus(ctx, a1.ID, domain.StatusScheduled, domain.StatusCanceled)
		if err != nil {
			return err
		}
		if canceled.Status != domain.StatusCanceled {
			return fmt.Errorf("status = %s, want %s", canceled.Status, domain.StatusCanceled)
		}
		if _, err := q.CompareAndSetStatus(ctx, a1.ID, domain.StatusScheduled, domain.StatusCanceled); err != store.ErrNotFound {
			return fmt.Errorf("stale CAS err = %v, want %v", err, store.ErrNotFound)
		}

		if _, err := q.InsertAppointment(ctx, domain.Appointment{
			DoctorID:    doctorID,
			PatientID:   patientID,
			SpecialtyID: specialtyID,
			Date:        date,
			StartTime:   "10:00:00",
			EndTime:     "10:30:00",
			Status:      domain.StatusScheduled,
		}); err != nil {
			return fmt.Errorf("rebook canceled slot: %w", err)
		}

		active, err := q.ListActiveAppointments(ctx, doctorID, date)
		if err != nil {
			return err
		}
		if len(active) != 2 {
			return fmt.Errorf("len(active) = %d, want 2", len(active))
		}
		all, err := q.ListAppointments(ctx, doctorID, date)
		if err != nil {
			return err
		}
		if len(all) != 3 {
			return fmt.Errorf("len(all) = %d, want 3", len(all))
		}

		return q.InsertLog(ctx, domain.AppointmentLog{AppointmentID: a1.ID, Action: domain.ActionCanceled, ActorID: patientID})
	})
	if err != nil {
		t.Fatalf("tx error: %v", err)
	}
}

func seedCatalog(ctx context.Context, tx bun.Tx, doctorID, specialtyID uuid.UUID) error {
	stmts := []struct {
		query string
		args  []any
	}{
		{"INSERT INTO specialties (id, name) VALUES (?, 'Cardiology')", []any{specialtyID}},
		{"INSERT INTO doctors (id, name, approved, active) VALUES (?, 'Dr. Test', true, true)", []any{doctorID}},
		{"INSERT INTO doctor_specialties (doctor_id, specialty_id) VALUES (?, ?)", []any{doctorID, specialtyID}},
	}
	for _, s := range stmts {
		if _, err := tx.NewRaw(s.query, s.args...).Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// withSavepoint runs fn so that a failed statement does not abort the enclosing transaction.
func withSavepoint(ctx context.Context, tx bun.Tx, fn func() error) error {
	if _, err := tx.NewRaw("SAVEPOINT probe").Exec(ctx); err != nil {
		return err
	}
	if err := fn(); err != nil {
		if _, rbErr := tx.NewRaw("ROLLBACK TO SAVEPOINT probe").Exec(ctx); rbErr != nil {
			return rbErr
		}
		return err
	}
	_, err := tx.NewRaw("RELEASE SAVEPOINT probe").Exec(ctx)
	return err
}

func randomHex(t *testing.T, bytesLen int) string {
	t.Helper()
	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read error: %v", err)
	}
	return hex.EncodeToString(b)
}

type rawExecutor interface {
	NewRaw(query string, args ...any) *bun.RawQuery
}

func applyMigrations(ctx context.Context, exec rawExecutor) error {
	dir, err := migrationsDir()
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	type mig struct {
		name string
		path string
	}
	migs := make([]mig, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		migs = append(migs, mig{name: e.Name(), path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].name < migs[j].name })

	for _, m := range migs {
		b, err := os.ReadFile(m.path)
		if err != nil {
			return err
		}
		upSQL, err := extractGooseUp(string(b))
		if err != nil {
			return err
		}
		stmts := splitSQLStatements(upSQL)
		for _, stmt := range stmts {
			if normalized, ok := normalizeExtensionStatement(stmt); ok {
				stmt = normalized
			}
			if _, err := exec.NewRaw(stmt).Exec(ctx); err != nil {
				return err
			}
		}
	}

	return nil
}

func migrationsDir() (string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("runtime.Caller failed")
	}
	base := filepath.Dir(file)
	return filepath.Clean(filepath.Join(base, "..", "..", "..", "migrations")), nil
}

func extractGooseUp(sql string) (string, error) {
	upMarker := "-- +goose Up"
	downMarker := "-- +goose Down"

	upIdx := strings.Index(sql, upMarker)
	if upIdx < 0 {
		return "", fmt.Errorf("missing goose up marker")
	}
	afterUp := sql[upIdx+len(upMarker):]
	afterUp = strings.TrimLeft(afterUp, "\r\n")

	downIdx := strings.Index(afterUp, downMarker)
	if downIdx < 0 {
		return strings.TrimSpace(afterUp), nil
	}
	return strings.TrimSpace(afterUp[:downIdx]), nil
}

func normalizeExtensionStatement(stmt string) (string, bool) {
	s := strings.TrimSpace(stmt)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "CREATE EXTENSION") {
		return "", false
	}
	if !strings.Contains(upper, "BTREE_GIST") {
		return "", false
	}
	if strings.Contains(upper, " SCHEMA ") {
		return "", false
	}
	return s + " SCHEMA public", true
}

func splitSQLStatements(sql string) []string {
	parts := strings.Split(sql, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
