package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stayos/roomkeys/internal/domain"
	"github.com/stayos/roomkeys/internal/repository"
)

// Ledger is the in-memory key ledger.
type Ledger struct {
	mu   sync.Mutex
	keys map[string]*domain.KeyRecord
	ids  counter
}

var _ repository.KeyLedger = (*Ledger)(nil)

func NewLedger() *Ledger {
	return &Ledger{keys: make(map[string]*domain.KeyRecord)}
}

func (s *Ledger) Create(ctx context.Context, checkinID, reservationID, roomNumber string, validFrom, validUntil time.Time) (*domain.KeyRecord, error) {
	if validUntil.Before(validFrom) {
		return nil, fmt.Errorf("%w: valid_until precedes valid_from", domain.ErrInvalidState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range s.keys {
		if k.RoomNumber == roomNumber && (k.State == domain.KeyPending || k.State == domain.KeyActive) {
			return nil, domain.ErrConflict
		}
	}

	now := time.Now().UTC()
	k := &domain.KeyRecord{
		KeyID:         s.ids.next("key"),
		CheckInID:     checkinID,
		ReservationID: reservationID,
		RoomNumber:    roomNumber,
		ValidFrom:     validFrom,
		ValidUntil:    validUntil,
		State:         domain.KeyPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.keys[k.KeyID] = k
	return copyKey(k), nil
}

func (s *Ledger) MarkActive(ctx context.Context, keyID, vendorToken string, ackTime time.Time) (*domain.KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[keyID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if k.State != domain.KeyPending {
		return nil, fmt.Errorf("%w: %s -> active", domain.ErrInvalidState, k.State)
	}
	k.State = domain.KeyActive
	k.VendorKeyToken = vendorToken
	ack := ackTime
	k.LastGatewayAck = &ack
	k.UpdatedAt = time.Now().UTC()
	return copyKey(k), nil
}

func (s *Ledger) MarkFailed(ctx context.Context, keyID, reason string) (*domain.KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[keyID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if k.State == domain.KeyFailed {
		return copyKey(k), nil
	}
	if k.State != domain.KeyPending {
		return nil, fmt.Errorf("%w: %s -> failed", domain.ErrInvalidState, k.State)
	}
	k.State = domain.KeyFailed
	k.FailureReason = reason
	k.UpdatedAt = time.Now().UTC()
	return copyKey(k), nil
}

func (s *Ledger) MarkRevoked(ctx context.Context, keyID, reason string, ackTime time.Time) (*domain.KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[keyID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if k.State == domain.KeyRevoked {
		return copyKey(k), nil
	}
	if k.State != domain.KeyActive {
		return nil, fmt.Errorf("%w: %s -> revoked", domain.ErrInvalidState, k.State)
	}
	k.State = domain.KeyRevoked
	k.RevocationReason = reason
	ack := ackTime
	k.LastGatewayAck = &ack
	k.UpdatedAt = time.Now().UTC()
	return copyKey(k), nil
}

func (s *Ledger) ExtendValidity(ctx context.Context, keyID string, validUntil time.Time) (*domain.KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[keyID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if k.State != domain.KeyActive {
		return nil, fmt.Errorf("%w: extend on %s key", domain.ErrInvalidState, k.State)
	}
	if validUntil.Before(k.ValidFrom) {
		return nil, fmt.Errorf("%w: valid_until precedes valid_from", domain.ErrInvalidState)
	}
	k.ValidUntil = validUntil
	k.UpdatedAt = time.Now().UTC()
	return copyKey(k), nil
}

func (s *Ledger) GetByID(ctx context.Context, keyID string) (*domain.KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[keyID]
	if !ok {
		return nil, nil
	}
	return copyKey(k), nil
}

func (s *Ledger) FindActiveByRoom(ctx context.Context, roomNumber string) (*domain.KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range s.keys {
		if k.RoomNumber == roomNumber && k.State == domain.KeyActive {
			return copyKey(k), nil
		}
	}
	return nil, nil
}

func (s *Ledger) FindLiveByRoom(ctx context.Context, roomNumber string) (*domain.KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *domain.KeyRecord
	for _, k := range s.keys {
		if k.RoomNumber != roomNumber {
			continue
		}
		if k.State != domain.KeyPending && k.State != domain.KeyActive {
			continue
		}
		if latest == nil || k.CreatedAt.After(latest.CreatedAt) {
			latest = k
		}
	}
	if latest == nil {
		return nil, nil
	}
	return copyKey(latest), nil
}

func (s *Ledger) FindExpiring(ctx context.Context, asOf time.Time) ([]domain.KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expiring []domain.KeyRecord
	for _, k := range s.keys {
		if k.State == domain.KeyActive && !k.ValidUntil.After(asOf) {
			expiring = append(expiring, *copyKey(k))
		}
	}
	return expiring, nil
}

func copyKey(k *domain.KeyRecord) *domain.KeyRecord {
	c := *k
	if k.LastGatewayAck != nil {
		ack := *k.LastGatewayAck
		c.LastGatewayAck = &ack
	}
	return &c
}
