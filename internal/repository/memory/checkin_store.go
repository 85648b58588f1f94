package memory

import (
	"context"
	"sync"
	"time"

	"github.com/stayos/roomkeys/internal/domain"
	"github.com/stayos/roomkeys/internal/repository"
)

// CheckIns is the in-memory check-in attempt store.
type CheckIns struct {
	mu       sync.Mutex
	checkins map[string]*domain.CheckIn
	ids      counter
}

var _ repository.CheckInStore = (*CheckIns)(nil)

func NewCheckIns() *CheckIns {
	return &CheckIns{checkins: make(map[string]*domain.CheckIn)}
}

func (s *CheckIns) Create(ctx context.Context, reservationID, roomNumber string) (*domain.CheckIn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	c := &domain.CheckIn{
		ID:            s.ids.next("ci"),
		ReservationID: reservationID,
		RoomNumber:    roomNumber,
		Status:        domain.CheckInStarted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.checkins[c.ID] = c
	return copyCheckIn(c), nil
}

func (s *CheckIns) GetByID(ctx context.Context, id string) (*domain.CheckIn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.checkins[id]
	if !ok {
		return nil, nil
	}
	return copyCheckIn(c), nil
}

func (s *CheckIns) AttachKey(ctx context.Context, id, keyID string) (*domain.CheckIn, error) {
	return s.mutate(id, func(c *domain.CheckIn) {
		k := keyID
		c.KeyID = &k
		c.Status = domain.CheckInKeyPending
	})
}

func (s *CheckIns) MarkCompleted(ctx context.Context, id string) (*domain.CheckIn, error) {
	return s.mutate(id, func(c *domain.CheckIn) {
		c.Status = domain.CheckInCompleted
	})
}

func (s *CheckIns) MarkFailed(ctx context.Context, id, reason string) (*domain.CheckIn, error) {
	return s.mutate(id, func(c *domain.CheckIn) {
		c.Status = domain.CheckInFailed
		c.FailureReason = reason
	})
}

func (s *CheckIns) MarkCanceled(ctx context.Context, id, reason string) (*domain.CheckIn, error) {
	return s.mutate(id, func(c *domain.CheckIn) {
		c.Status = domain.CheckInCanceled
		c.FailureReason = reason
	})
}

// mutate applies fn only while the attempt is still live, matching the SQL
// store's status precondition.
func (s *CheckIns) mutate(id string, fn func(*domain.CheckIn)) (*domain.CheckIn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.checkins[id]
	if !ok {
		return nil, domain.ErrInvalidState
	}
	if c.Status != domain.CheckInStarted && c.Status != domain.CheckInKeyPending {
		return nil, domain.ErrInvalidState
	}
	fn(c)
	c.UpdatedAt = time.Now().UTC()
	return copyCheckIn(c), nil
}

func copyCheckIn(c *domain.CheckIn) *domain.CheckIn {
	cp := *c
	if c.KeyID != nil {
		k := *c.KeyID
		cp.KeyID = &k
	}
	return &cp
}
