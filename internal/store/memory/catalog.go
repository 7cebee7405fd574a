package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/medibook/schedula/internal/domain"
	"github.com/medibook/schedula/internal/store"
)

// Doctor is the catalog view of a doctor profile.
type Doctor struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Approved    bool
	Active      bool
	Specialties []uuid.UUID
}

// catalog is guarded by its own lock so that transactions may consult it while holding the store lock.
type catalog struct {
	mu      sync.RWMutex
	doctors []Doctor
	actors  map[uuid.UUID]domain.Actor
}

func newCatalog() *catalog {
	return &catalog{actors: make(map[uuid.UUID]domain.Actor)}
}

func (c *catalog) hasSpecialty(doctorID, specialtyID uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.doctors {
		if d.ID != doctorID {
			continue
		}
		for _, s := range d.Specialties {
			if s == specialtyID {
				return true
			}
		}
	}
	return false
}

// AddDoctor registers a doctor. Doctors are returned by QualifiedDoctors in insertion order.
// A non-nil UserID also registers the doctor's user as a DOCTOR actor.
func (s *Store) AddDoctor(d Doctor) {
	c := s.catalog
	c.mu.Lock()
	defer c.mu.Unlock()
	d.Specialties = append([]uuid.UUID(nil), d.Specialties...)
	c.doctors = append(c.doctors, d)
	if d.UserID != uuid.Nil {
		doctorID := d.ID
		c.actors[d.UserID] = domain.Actor{UserID: d.UserID, Role: domain.RoleDoctor, DoctorID: &doctorID}
	}
}

// AddPatient registers a PATIENT actor whose patient profile is patientID.
func (s *Store) AddPatient(userID, patientID uuid.UUID) {
	s.AddActor(domain.Actor{UserID: userID, Role: domain.RolePatient, PatientID: &patientID})
}

func (s *Store) AddActor(a domain.Actor) {
	c := s.catalog
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actors[a.UserID] = a
}

func (s *Store) QualifiedDoctors(ctx context.Context, specialtyID uuid.UUID) ([]uuid.UUID, error) {
	c := s.catalog
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []uuid.UUID
	for _, d := range c.doctors {
		if !d.Approved || !d.Active {
			continue
		}
		for _, sp := range d.Specialties {
			if sp == specialtyID {
				out = append(out, d.ID)
				break
			}
		}
	}
	return out, nil
}

func (s *Store) ResolveActor(ctx context.Context, actorID uuid.UUID) (domain.Actor, error) {
	c := s.catalog
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.actors[actorID]
	if !ok {
		return domain.Actor{}, store.ErrNotFound
	}
	return a, nil
}

var (
	_ store.SchedulingRepository = (*Store)(nil)
	_ store.Catalog              = (*Store)(nil)
	_ store.IdentityResolver     = (*Store)(nil)
)
