package memory

import (
	"context"
	"sync"
	"time"

	"github.com/stayos/roomkeys/internal/domain"
	"github.com/stayos/roomkeys/internal/repository"
)

// Reservations is the in-memory reservation store.
type Reservations struct {
	mu           sync.Mutex
	reservations map[string]*domain.Reservation
}

var _ repository.ReservationStore = (*Reservations)(nil)

func NewReservations() *Reservations {
	return &Reservations{reservations: make(map[string]*domain.Reservation)}
}

// Seed installs a reservation record for development and tests.
func (s *Reservations) Seed(res domain.Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := res
	s.reservations[res.ID] = &r
}

func (s *Reservations) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *Reservations) MarkOccupied(ctx context.Context, id string) (bool, error) {
	return s.setOccupied(id, true)
}

func (s *Reservations) MarkVacant(ctx context.Context, id string) (bool, error) {
	return s.setOccupied(id, false)
}

func (s *Reservations) setOccupied(id string, occupied bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[id]
	if !ok || r.Occupied == occupied {
		return false, nil
	}
	r.Occupied = occupied
	r.UpdatedAt = time.Now().UTC()
	return true, nil
}
