package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/medibook/schedula/internal/domain"
)

// Catalog answers read-only questions about doctors and specialties.
type Catalog interface {
	// QualifiedDoctors returns approved, active doctors associated with specialtyID in a stable order.
	QualifiedDoctors(ctx context.Context, specialtyID uuid.UUID) ([]uuid.UUID, error)
}

// IdentityResolver maps an acting user to their role and doctor/patient profiles.
type IdentityResolver interface {
	ResolveActor(ctx context.Context, actorID uuid.UUID) (domain.Actor, error)
}
