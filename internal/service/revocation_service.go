package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stayos/roomkeys/internal/domain"
	"github.com/stayos/roomkeys/internal/gateway"
	"github.com/stayos/roomkeys/internal/repository"
	"github.com/stayos/roomkeys/pkg/events"
	"github.com/stayos/roomkeys/pkg/logger"
)

// RevocationService drives a key from active to revoked, idempotently.
// Triggers are guest checkout, staff override, check-in cancellation and
// the expiry sweeper.
type RevocationService interface {
	Revoke(ctx context.Context, keyID, reason string) (*domain.RevokeKeyRes, error)
	Extend(ctx context.Context, keyID string, validUntil time.Time) (*domain.KeyRecord, error)
	GetKey(ctx context.Context, keyID string) (*domain.KeyRecord, error)
	GetActiveKeyForRoom(ctx context.Context, roomNumber string) (*domain.KeyRecord, error)
}

type revocationService struct {
	ledger       repository.KeyLedger
	reservations repository.ReservationStore
	vendor       gateway.LockVendor
	eventBus     events.Publisher
}

func NewRevocationService(
	ledger repository.KeyLedger,
	reservations repository.ReservationStore,
	vendor gateway.LockVendor,
	eventBus events.Publisher,
) RevocationService {
	return &revocationService{
		ledger:       ledger,
		reservations: reservations,
		vendor:       vendor,
		eventBus:     eventBus,
	}
}

func (s *revocationService) Revoke(ctx context.Context, keyID, reason string) (*domain.RevokeKeyRes, error) {
	key, err := s.ledger.GetByID(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load key: %w", err)
	}
	if key == nil || key.State == domain.KeyFailed {
		return nil, domain.ErrInvalidKey
	}

	// Retried revocations converge on the existing terminal record.
	if key.State == domain.KeyRevoked {
		return &domain.RevokeKeyRes{
			Revoked:   true,
			RevokedAt: key.LastGatewayAck,
			Reason:    key.RevocationReason,
		}, nil
	}

	if key.State == domain.KeyPending {
		key, err = s.resolvePending(ctx, key)
		if err != nil {
			return nil, err
		}
		if key.State != domain.KeyActive {
			// The vendor never issued the key; nothing to revoke on
			// the lock side.
			return &domain.RevokeKeyRes{Revoked: true, Reason: key.FailureReason}, nil
		}
	}

	ack, err := s.vendor.RevokeKey(ctx, key.VendorKeyToken)
	if err != nil {
		// The guest may still hold working physical access; the record
		// must stay active until the vendor confirms.
		logger.WarnContext(ctx, "Vendor revoke failed, leaving key active",
			"key_id", key.KeyID, "room", key.RoomNumber, "error", err)

		s.publish(ctx, events.KeyRevocationPending, events.KeyRevocationPendingEvent{
			KeyID:      key.KeyID,
			RoomNumber: key.RoomNumber,
			Reason:     reason,
			Error:      err.Error(),
			AttemptAt:  time.Now().UTC(),
		})
		return nil, fmt.Errorf("%w: %v", domain.ErrRevocationPending, err)
	}

	revoked, err := s.ledger.MarkRevoked(ctx, key.KeyID, reason, ack.AckTime)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			// Lost the race against another revoker; converge.
			if existing, gerr := s.ledger.GetByID(ctx, key.KeyID); gerr == nil && existing != nil && existing.State == domain.KeyRevoked {
				return &domain.RevokeKeyRes{Revoked: true, RevokedAt: existing.LastGatewayAck, Reason: existing.RevocationReason}, nil
			}
		}
		return nil, err
	}

	if reason == domain.ReasonGuestCheckout || reason == domain.ReasonExpired {
		if _, err := s.reservations.MarkVacant(ctx, revoked.ReservationID); err != nil {
			logger.ErrorContext(ctx, "Failed to mark reservation vacant",
				"reservation_id", revoked.ReservationID, "error", err)
		}
	}

	s.publish(ctx, events.KeyRevoked, events.KeyRevokedEvent{
		KeyID:      revoked.KeyID,
		RoomNumber: revoked.RoomNumber,
		Reason:     reason,
		RevokedAt:  ack.AckTime,
	})
	if reason == domain.ReasonExpired {
		s.publish(ctx, events.KeyExpired, events.KeyRevokedEvent{
			KeyID:      revoked.KeyID,
			RoomNumber: revoked.RoomNumber,
			Reason:     reason,
			RevokedAt:  ack.AckTime,
		})
	}

	return &domain.RevokeKeyRes{
		Revoked:   true,
		RevokedAt: revoked.LastGatewayAck,
		Reason:    reason,
	}, nil
}

// resolvePending reconciles a pending key against the vendor's
// authoritative state before acting on it.
func (s *revocationService) resolvePending(ctx context.Context, key *domain.KeyRecord) (*domain.KeyRecord, error) {
	status, err := s.vendor.KeyStatus(ctx, key.KeyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRevocationPending, err)
	}

	switch status.State {
	case gateway.KeyStateActive:
		return s.ledger.MarkActive(ctx, key.KeyID, status.VendorKeyToken, time.Now().UTC())
	default:
		return s.ledger.MarkFailed(ctx, key.KeyID, "issuance_unconfirmed")
	}
}

func (s *revocationService) Extend(ctx context.Context, keyID string, validUntil time.Time) (*domain.KeyRecord, error) {
	key, err := s.ledger.GetByID(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load key: %w", err)
	}
	if key == nil {
		return nil, domain.ErrNotFound
	}
	if key.State != domain.KeyActive {
		return nil, fmt.Errorf("%w: extend on %s key", domain.ErrInvalidState, key.State)
	}

	// Vendor first: the ledger window only moves once the lock side
	// accepted the new window.
	ack, err := s.vendor.ExtendKey(ctx, key.VendorKeyToken, validUntil)
	if err != nil {
		if errors.Is(err, gateway.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %v", domain.ErrRevocationPending, err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyIssuance, err)
	}

	extended, err := s.ledger.ExtendValidity(ctx, keyID, validUntil)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.KeyExtended, events.KeyExtendedEvent{
		KeyID:      extended.KeyID,
		RoomNumber: extended.RoomNumber,
		ValidUntil: extended.ValidUntil,
		ExtendedAt: ack.AckTime,
	})
	return extended, nil
}

func (s *revocationService) GetKey(ctx context.Context, keyID string) (*domain.KeyRecord, error) {
	key, err := s.ledger.GetByID(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, domain.ErrNotFound
	}
	return key, nil
}

func (s *revocationService) GetActiveKeyForRoom(ctx context.Context, roomNumber string) (*domain.KeyRecord, error) {
	key, err := s.ledger.FindActiveByRoom(ctx, roomNumber)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, domain.ErrNotFound
	}
	return key, nil
}

func (s *revocationService) publish(ctx context.Context, subject string, event interface{}) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.Publish(ctx, subject, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish event", "subject", subject, "error", err)
	}
}
