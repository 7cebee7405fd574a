package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/medibook/schedula/internal/domain"
	"github.com/medibook/schedula/internal/store"
)

// CatalogRepo reads the doctor/specialty catalog and user identities. Those tables are owned by
// the admin and identity modules; this repository never writes them.
type CatalogRepo struct {
	db *bun.DB
}

func NewCatalogRepo(db *bun.DB) *CatalogRepo {
	return &CatalogRepo{db: db}
}

func (r *CatalogRepo) QualifiedDoctors(ctx context.Context, specialtyID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.NewSelect().
		TableExpr("doctors AS d").
		Column("d.id").
		Join("JOIN doctor_specialties AS ds ON ds.doctor_id = d.id").
		Where("ds.specialty_id = ?", specialtyID).
		Where("d.approved").
		Where("d.active").
		OrderExpr("d.created_at ASC, d.id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

type actorRow struct {
	UserID    uuid.UUID  `bun:"user_id"`
	Role      string     `bun:"role"`
	DoctorID  *uuid.UUID `bun:"doctor_id"`
	PatientID *uuid.UUID `bun:"patient_id"`
}

func (r *CatalogRepo) ResolveActor(ctx context.Context, actorID uuid.UUID) (domain.Actor, error) {
	var row actorRow
	err := r.db.NewSelect().
		TableExpr("users AS u").
		ColumnExpr("u.id AS user_id, u.role").
		ColumnExpr("d.id AS doctor_id").
		ColumnExpr("p.id AS patient_id").
		Join("LEFT JOIN doctors AS d ON d.user_id = u.id").
		Join("LEFT JOIN patients AS p ON p.user_id = u.id").
		Where("u.id = ?", actorID).
		Limit(1).
		Scan(ctx, &row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Actor{}, store.ErrNotFound
		}
		return domain.Actor{}, err
	}
	return domain.Actor{
		UserID:    row.UserID,
		Role:      domain.Role(row.Role),
		DoctorID:  row.DoctorID,
		PatientID: row.PatientID,
	}, nil
}
