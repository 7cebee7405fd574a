package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"github.com/medibook/schedula/internal/domain"
	"github.com/medibook/schedula/internal/store"
)

const appointmentsNoOverlap = "appointments_no_overlap"

type SchedulingRepo struct {
	queries
	db *bun.DB
}

func NewSchedulingRepo(db *bun.DB) *SchedulingRepo {
	return &SchedulingRepo{queries: queries{db: db}, db: db}
}

// queries runs against either the pool or an open transaction.
type queries struct {
	db bun.IDB
}

func (r *SchedulingRepo) InDoctorTransaction(ctx context.Context, doctorID uuid.UUID, fn store.TxFunc) error {
	return r.inTx(ctx, doctorLockKey(doctorID), fn)
}

func (r *SchedulingRepo) InDoctorDayTransaction(ctx context.Context, doctorID uuid.UUID, date time.Time, fn store.TxFunc) error {
	return r.inTx(ctx, doctorDayLockKey(doctorID, date), fn)
}

func (r *SchedulingRepo) InTransaction(ctx context.Context, fn store.TxFunc) error {
	return r.inTx(ctx, "", fn)
}

func (r *SchedulingRepo) inTx(ctx context.Context, lockKey string, fn store.TxFunc) error {
	opts := &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	return r.db.RunInTx(ctx, opts, func(ctx context.Context, tx bun.Tx) error {
		if lockKey != "" {
			if err := advisoryLock(ctx, tx, lockKey); err != nil {
				return err
			}
		}
		return fn(ctx, queries{db: tx})
	})
}

func advisoryLock(ctx context.Context, tx bun.Tx, key string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", key).Exec(ctx)
	return err
}

func doctorLockKey(doctorID uuid.UUID) string {
	return "schedule:" + doctorID.String()
}

func doctorDayLockKey(doctorID uuid.UUID, date time.Time) string {
	return "calendar:" + doctorID.String() + ":" + day(date)
}

func day(date time.Time) string {
	return date.Format(time.DateOnly)
}

func (q queries) GetWeeklyAvailability(ctx context.Context, doctorID uuid.UUID, weekday domain.Weekday) (*domain.WeeklyAvailability, error) {
	var row domain.WeeklyAvailability
	err := q.db.NewSelect().
		Model(&row).
		Where("doctor_id = ?", doctorID).
		Where("weekday = ?", weekday).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (q queries) ListWeeklyAvailability(ctx context.Context, doctorID uuid.UUID) ([]domain.WeeklyAvailability, error) {
	var rows []domain.WeeklyAvailability
	err := q.db.NewSelect().
		Model(&rows).
		Where("doctor_id = ?", doctorID).
		OrderExpr("weekday ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (q queries) WorkingWeekdays(ctx context.Context, doctorIDs []uuid.UUID) (map[domain.Weekday]bool, error) {
	out := make(map[domain.Weekday]bool, 7)
	if len(doctorIDs) == 0 {
		return out, nil
	}
	var weekdays []domain.Weekday
	err := q.db.NewSelect().
		Model((*domain.WeeklyAvailability)(nil)).
		ColumnExpr("DISTINCT weekday").
		Where("doctor_id IN (?)", bun.In(doctorIDs)).
		Scan(ctx, &weekdays)
	if err != nil {
		return nil, err
	}
	for _, wd := range weekdays {
		out[wd] = true
	}
	return out, nil
}

func (q queries) ReplaceWeeklyAvailability(ctx context.Context, doctorID uuid.UUID, entries []domain.WeeklyAvailability) error {
	_, err := q.db.NewDelete().
		Model((*domain.WeeklyAvailability)(nil)).
		Where("doctor_id = ?", doctorID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	rows := make([]domain.WeeklyAvailability, len(entries))
	copy(rows, entries)
	_, err = q.db.NewInsert().Model(&rows).Exec(ctx)
	return err
}

func (q queries) ListBlocks(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]domain.ScheduleBlock, error) {
	var rows []domain.ScheduleBlock
	err := q.db.NewSelect().
		Model(&rows).
		Where("doctor_id = ?", doctorID).
		Where("date = ?::date", day(date)).
		OrderExpr("start_time ASC NULLS FIRST, created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (q queries) GetBlock(ctx context.Context, doctorID, blockID uuid.UUID) (domain.ScheduleBlock, error) {
	var row domain.ScheduleBlock
	err := q.db.NewSelect().
		Model(&row).
		Where("id = ?", blockID).
		Where("doctor_id = ?", doctorID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ScheduleBlock{}, store.ErrNotFound
		}
		return domain.ScheduleBlock{}, err
	}
	return row, nil
}

func (q queries) InsertBlock(ctx context.Context, block domain.ScheduleBlock) (domain.ScheduleBlock, error) {
	m := block
	if _, err := q.db.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.ScheduleBlock{}, err
	}
	return m, nil
}

func (q queries) UpdateBlock(ctx context.Context, block domain.ScheduleBlock) (domain.ScheduleBlock, error) {
	m := block
	res, err := q.db.NewUpdate().
		Model(&m).
		Column("date", "start_time", "end_time", "reason", "updated_at").
		Where("id = ?", block.ID).
		Where("doctor_id = ?", block.DoctorID).
		Exec(ctx)
	if err != nil {
		return domain.ScheduleBlock{}, err
	}
	if err := requireAffected(res); err != nil {
		return domain.ScheduleBlock{}, err
	}
	return m, nil
}

func (q queries) DeleteBlock(ctx context.Context, doctorID, blockID uuid.UUID) error {
	res, err := q.db.NewDelete().
		Model((*domain.ScheduleBlock)(nil)).
		Where("id = ?", blockID).
		Where("doctor_id = ?", doctorID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (q queries) DoctorHasSpecialty(ctx context.Context, doctorID, specialtyID uuid.UUID) (bool, error) {
	return q.db.NewSelect().
		Table("doctor_specialties").
		Where("doctor_id = ?", doctorID).
		Where("specialty_id = ?", specialtyID).
		Exists(ctx)
}

func (q queries) ListActiveAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := q.db.NewSelect().
		Model(&rows).
		Where("doctor_id = ?", doctorID).
		Where("date = ?::date", day(date)).
		Where("status <> ?", domain.StatusCanceled).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (q queries) ListAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := q.db.NewSelect().
		Model(&rows).
		Where("doctor_id = ?", doctorID).
		Where("date = ?::date", day(date)).
		OrderExpr("start_time ASC, created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (q queries) GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	return q.selectAppointment(ctx, id, false)
}

func (q queries) LockAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	return q.selectAppointment(ctx, id, true)
}

func (q queries) selectAppointment(ctx context.Context, id uuid.UUID, forUpdate bool) (domain.Appointment, error) {
	var row domain.Appointment
	query := q.db.NewSelect().
		Model(&row).
		Where("id = ?", id).
		Limit(1)
	if forUpdate {
		query = query.For("UPDATE")
	}
	if err := query.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, err
	}
	return row, nil
}

func (q queries) InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m := appt
	if _, err := q.db.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.Appointment{}, mapWriteError(err)
	}
	return m, nil
}

func (q queries) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to domain.AppointmentStatus) (domain.Appointment, error) {
	var out domain.Appointment
	err := q.db.NewUpdate().
		Model(&out).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", from).
		Returning("*").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, mapWriteError(err)
	}
	return out, nil
}

func (q queries) InsertLog(ctx context.Context, entry domain.AppointmentLog) error {
	m := entry
	_, err := q.db.NewInsert().Model(&m).Exec(ctx)
	return err
}

func (q queries) StampRoomStarted(ctx context.Context, appointmentID uuid.UUID, at time.Time) error {
	return q.stampRoom(ctx, "started_at", appointmentID, at)
}

func (q queries) StampRoomEnded(ctx context.Context, appointmentID uuid.UUID, at time.Time) error {
	return q.stampRoom(ctx, "ended_at", appointmentID, at)
}

func (q queries) stampRoom(ctx context.Context, column string, appointmentID uuid.UUID, at time.Time) error {
	_, err := q.db.NewUpdate().
		Table("teleconsultation_rooms").
		Set("? = ?", bun.Ident(column), at.UTC()).
		Where("appointment_id = ?", appointmentID).
		Exec(ctx)
	return err
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == "23P01" && pgErr.ConstraintName == appointmentsNoOverlap:
		return store.ErrConflict
	case pgErr.Code == "23505":
		return store.ErrIdempotencyConflict
	}
	return err
}
