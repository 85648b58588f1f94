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

// FinishCache stores terminal finish responses for kiosk polling. A nil
// cache disables caching.
type FinishCache interface {
	GetFinish(ctx context.Context, checkinID string) (*domain.FinishCheckInRes, error)
	SetFinish(ctx context.Context, checkinID string, res *domain.FinishCheckInRes) error
}

// CheckInService drives a kiosk check-in from "requested" to a working
// key on the door, or to a failure the kiosk can hand off to staff.
type CheckInService interface {
	Start(ctx context.Context, req *domain.StartCheckInReq) (*domain.StartCheckInRes, error)
	Finish(ctx context.Context, req *domain.FinishCheckInReq) (*domain.FinishCheckInRes, error)
	Cancel(ctx context.Context, req *domain.CancelCheckInReq) (*domain.CancelCheckInRes, error)
}

type checkInService struct {
	checkins     repository.CheckInStore
	ledger       repository.KeyLedger
	reservations repository.ReservationStore
	vendor       gateway.LockVendor
	revoker      RevocationService
	eventBus     events.Publisher
	cache        FinishCache
}

func NewCheckInService(
	checkins repository.CheckInStore,
	ledger repository.KeyLedger,
	reservations repository.ReservationStore,
	vendor gateway.LockVendor,
	revoker RevocationService,
	eventBus events.Publisher,
	cache FinishCache,
) CheckInService {
	return &checkInService{
		checkins:     checkins,
		ledger:       ledger,
		reservations: reservations,
		vendor:       vendor,
		revoker:      revoker,
		eventBus:     eventBus,
		cache:        cache,
	}
}

func (s *checkInService) Start(ctx context.Context, req *domain.StartCheckInReq) (*domain.StartCheckInRes, error) {
	if req.ReservationID == "" {
		return nil, fmt.Errorf("%w: reservation_id is required", domain.ErrNotFound)
	}

	res, err := s.reservations.GetByID(ctx, req.ReservationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reservation: %w", err)
	}
	if res == nil {
		return nil, domain.ErrNotFound
	}
	if res.Occupied {
		return nil, domain.ErrAlreadyCheckedIn
	}

	checkin, err := s.checkins.Create(ctx, res.ID, res.RoomNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to create check-in: %w", err)
	}

	logger.InfoContext(ctx, "Check-in started",
		"checkin_id", checkin.ID, "reservation_id", res.ID, "room", res.RoomNumber)

	return &domain.StartCheckInRes{
		CheckInID:  checkin.ID,
		RoomNumber: checkin.RoomNumber,
	}, nil
}

func (s *checkInService) Finish(ctx context.Context, req *domain.FinishCheckInReq) (*domain.FinishCheckInRes, error) {
	if s.cache != nil {
		if cached, err := s.cache.GetFinish(ctx, req.CheckInID); err == nil && cached != nil {
			return cached, nil
		}
	}

	checkin, err := s.checkins.GetByID(ctx, req.CheckInID)
	if err != nil {
		return nil, fmt.Errorf("failed to load check-in: %w", err)
	}
	if checkin == nil {
		return nil, domain.ErrNotFound
	}

	res, err := s.reservations.GetByID(ctx, checkin.ReservationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reservation: %w", err)
	}
	if res == nil {
		return nil, domain.ErrNotFound
	}

	switch checkin.Status {
	case domain.CheckInCompleted:
		return s.completedResponse(ctx, checkin, res)
	case domain.CheckInFailed, domain.CheckInCanceled:
		return s.failedResponse(checkin, res), nil
	case domain.CheckInKeyPending:
		return s.reconcilePending(ctx, checkin, res)
	}

	// Fresh attempt: reserve the key locally, then ask the vendor.
	validFrom := time.Now().UTC()
	validUntil := res.CheckoutTime
	if req.ValidUntil != nil {
		validUntil = req.ValidUntil.UTC()
	}

	key, err := s.ledger.Create(ctx, checkin.ID, res.ID, res.RoomNumber, validFrom, validUntil)
	if errors.Is(err, domain.ErrConflict) {
		key, err = s.resolveConflict(ctx, checkin, res, validFrom, validUntil)
	}
	if err != nil {
		if errors.Is(err, domain.ErrRoomOccupied) {
			s.failCheckIn(ctx, checkin, res, "room_occupied")
		}
		return nil, err
	}

	if _, err := s.checkins.AttachKey(ctx, checkin.ID, key.KeyID); err != nil {
		// The attempt was canceled while we were reserving; release the
		// reservation on the room.
		if _, ferr := s.ledger.MarkFailed(ctx, key.KeyID, "checkin_no_longer_live"); ferr != nil {
			logger.ErrorContext(ctx, "Failed to release key for dead check-in", "key_id", key.KeyID, "error", ferr)
		}
		return nil, err
	}

	issue, err := s.vendor.IssueKey(ctx, key.KeyID, res.RoomNumber, validFrom, validUntil)
	if err != nil {
		if errors.Is(err, gateway.ErrUnavailable) {
			// Ack not received within the bounded interval. The vendor
			// may still complete the issuance, so the key stays pending
			// and the kiosk is told to retry the status check.
			logger.WarnContext(ctx, "Vendor issuance unconfirmed, leaving key pending",
				"checkin_id", checkin.ID, "key_id", key.KeyID, "error", err)
			return s.inProgressResponse(checkin, res), nil
		}

		// Definitive vendor failure: release the room so the guest can
		// retry or fall back to staff-assisted check-in.
		if _, ferr := s.ledger.MarkFailed(ctx, key.KeyID, "vendor_rejected"); ferr != nil {
			logger.ErrorContext(ctx, "Failed to mark key failed", "key_id", key.KeyID, "error", ferr)
		}
		s.failCheckIn(ctx, checkin, res, "vendor_rejected")
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyIssuance, err)
	}

	active, err := s.ledger.MarkActive(ctx, key.KeyID, issue.VendorKeyToken, issue.AckTime)
	if err != nil {
		// The attempt was revoked or canceled between issuance and ack.
		// The vendor-side key must not outlive the ledger record.
		logger.WarnContext(ctx, "Key no longer pending after vendor ack, revoking",
			"key_id", key.KeyID, "error", err)
		if _, rerr := s.vendor.RevokeKey(ctx, issue.VendorKeyToken); rerr != nil {
			logger.ErrorContext(ctx, "Failed to revoke orphaned vendor key",
				"key_id", key.KeyID, "error", rerr)
		}
		return nil, err
	}

	return s.complete(ctx, checkin, res, active)
}

// complete finishes a check-in whose key the vendor has confirmed.
func (s *checkInService) complete(ctx context.Context, checkin *domain.CheckIn, res *domain.Reservation, key *domain.KeyRecord) (*domain.FinishCheckInRes, error) {
	if _, err := s.reservations.MarkOccupied(ctx, res.ID); err != nil {
		logger.ErrorContext(ctx, "Failed to mark reservation occupied",
			"reservation_id", res.ID, "error", err)
	}
	if _, err := s.checkins.MarkCompleted(ctx, checkin.ID); err != nil {
		logger.ErrorContext(ctx, "Failed to mark check-in completed",
			"checkin_id", checkin.ID, "error", err)
	}

	completedAt := time.Now().UTC()

	s.publish(ctx, events.KeyIssued, events.KeyIssuedEvent{
		KeyID:      key.KeyID,
		RoomNumber: key.RoomNumber,
		ValidFrom:  key.ValidFrom,
		ValidUntil: key.ValidUntil,
		IssuedAt:   completedAt,
	})
	s.publish(ctx, events.CheckInCompleted, events.CheckInCompletedEvent{
		CheckInID:     checkin.ID,
		ReservationID: res.ID,
		RoomNumber:    key.RoomNumber,
		KeyID:         key.KeyID,
		CheckoutTime:  key.ValidUntil,
		CompletedAt:   completedAt,
	})

	out := &domain.FinishCheckInRes{
		Status:       domain.FinishStatusCompleted,
		CheckInID:    checkin.ID,
		KeyID:        key.KeyID,
		RoomNumber:   key.RoomNumber,
		CheckoutTime: key.ValidUntil,
		CompletedAt:  &completedAt,
	}
	s.cacheFinish(ctx, checkin.ID, out)
	return out, nil
}

// reconcilePending resolves an attempt whose vendor ack was lost against
// the vendor's authoritative key state.
func (s *checkInService) reconcilePending(ctx context.Context, checkin *domain.CheckIn, res *domain.Reservation) (*domain.FinishCheckInRes, error) {
	if checkin.KeyID == nil {
		return nil, fmt.Errorf("%w: pending check-in without key", domain.ErrInvalidState)
	}

	key, err := s.ledger.GetByID(ctx, *checkin.KeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load key: %w", err)
	}
	if key == nil {
		return nil, fmt.Errorf("%w: key record missing", domain.ErrInvalidState)
	}

	if key.State == domain.KeyActive {
		return s.complete(ctx, checkin, res, key)
	}
	if key.State != domain.KeyPending {
		s.failCheckIn(ctx, checkin, res, string(key.State))
		return s.failedResponse(checkin, res), nil
	}

	status, err := s.vendor.KeyStatus(ctx, key.KeyID)
	if err != nil {
		// Vendor still unreachable; the kiosk keeps waiting.
		return s.inProgressResponse(checkin, res), nil
	}

	switch status.State {
	case gateway.KeyStateActive:
		active, err := s.ledger.MarkActive(ctx, key.KeyID, status.VendorKeyToken, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		return s.complete(ctx, checkin, res, active)
	default:
		// The vendor never completed the issuance.
		if _, err := s.ledger.MarkFailed(ctx, key.KeyID, "issuance_unconfirmed"); err != nil {
			return nil, err
		}
		s.failCheckIn(ctx, checkin, res, "issuance_unconfirmed")
		return s.failedResponse(checkin, res), nil
	}
}

// resolveConflict handles a room that already holds a live key. The prior
// key is revoked only when it belongs to an expired or superseded stay;
// a current guest's key is never displaced.
func (s *checkInService) resolveConflict(ctx context.Context, checkin *domain.CheckIn, res *domain.Reservation, validFrom, validUntil time.Time) (*domain.KeyRecord, error) {
	existing, err := s.ledger.FindLiveByRoom(ctx, res.RoomNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to load conflicting key: %w", err)
	}
	if existing == nil {
		// Conflict resolved itself between calls.
		return s.ledger.Create(ctx, checkin.ID, res.ID, res.RoomNumber, validFrom, validUntil)
	}

	now := time.Now().UTC()
	supersedable := existing.Expired(now) || existing.ReservationID == res.ID
	if !supersedable {
		prior, err := s.reservations.GetByID(ctx, existing.ReservationID)
		if err != nil {
			return nil, fmt.Errorf("failed to load prior reservation: %w", err)
		}
		supersedable = prior == nil || !prior.Occupied || prior.CheckoutTime.Before(now)
	}
	if !supersedable {
		return nil, domain.ErrRoomOccupied
	}

	switch existing.State {
	case domain.KeyActive:
		if _, err := s.revoker.Revoke(ctx, existing.KeyID, domain.ReasonSuperseded); err != nil {
			if errors.Is(err, domain.ErrRevocationPending) {
				// Cannot confirm the old key is dead; the room stays
				// blocked until the vendor is reachable again.
				return nil, domain.ErrRoomOccupied
			}
			return nil, err
		}
	case domain.KeyPending:
		status, err := s.vendor.KeyStatus(ctx, existing.KeyID)
		if err != nil {
			return nil, domain.ErrRoomOccupied
		}
		if status.State == gateway.KeyStateActive {
			if _, err := s.ledger.MarkActive(ctx, existing.KeyID, status.VendorKeyToken, now); err != nil {
				return nil, err
			}
			if _, err := s.revoker.Revoke(ctx, existing.KeyID, domain.ReasonSuperseded); err != nil {
				return nil, domain.ErrRoomOccupied
			}
		} else {
			if _, err := s.ledger.MarkFailed(ctx, existing.KeyID, "superseded_before_issuance"); err != nil {
				return nil, err
			}
		}
	}

	return s.ledger.Create(ctx, checkin.ID, res.ID, res.RoomNumber, validFrom, validUntil)
}

func (s *checkInService) Cancel(ctx context.Context, req *domain.CancelCheckInReq) (*domain.CancelCheckInRes, error) {
	checkin, err := s.checkins.GetByID(ctx, req.CheckInID)
	if err != nil {
		return nil, fmt.Errorf("failed to load check-in: %w", err)
	}
	if checkin == nil {
		return nil, domain.ErrNotFound
	}

	switch checkin.Status {
	case domain.CheckInCanceled, domain.CheckInFailed:
		return &domain.CancelCheckInRes{Canceled: true, Reason: checkin.FailureReason}, nil
	case domain.CheckInCompleted:
		return nil, fmt.Errorf("%w: check-in already completed", domain.ErrInvalidState)
	case domain.CheckInStarted:
		if _, err := s.checkins.MarkCanceled(ctx, checkin.ID, "guest_abandoned"); err != nil {
			return nil, err
		}
		s.publish(ctx, events.CheckInCanceled, events.CheckInFailedEvent{
			CheckInID:     checkin.ID,
			ReservationID: checkin.ReservationID,
			RoomNumber:    checkin.RoomNumber,
			Reason:        "guest_abandoned",
			FailedAt:      time.Now().UTC(),
		})
		return &domain.CancelCheckInRes{Canceled: true}, nil
	}

	// Key pending: an issueKey call is in flight. Wait for the vendor's
	// answer and revoke rather than leave an orphaned active key.
	if checkin.KeyID == nil {
		return nil, fmt.Errorf("%w: pending check-in without key", domain.ErrInvalidState)
	}
	status, err := s.vendor.KeyStatus(ctx, *checkin.KeyID)
	if err != nil {
		return &domain.CancelCheckInRes{Canceled: false, Reason: "vendor_unreachable_retry"}, nil
	}

	if status.State == gateway.KeyStateActive {
		if _, err := s.ledger.MarkActive(ctx, *checkin.KeyID, status.VendorKeyToken, time.Now().UTC()); err != nil && !errors.Is(err, domain.ErrInvalidState) {
			return nil, err
		}
		if _, err := s.revoker.Revoke(ctx, *checkin.KeyID, domain.ReasonCheckInCanceled); err != nil {
			if errors.Is(err, domain.ErrRevocationPending) {
				return &domain.CancelCheckInRes{Canceled: false, Reason: "revocation_pending"}, nil
			}
			return nil, err
		}
	} else {
		if _, err := s.ledger.MarkFailed(ctx, *checkin.KeyID, "checkin_canceled"); err != nil {
			return nil, err
		}
	}

	if _, err := s.checkins.MarkCanceled(ctx, checkin.ID, "guest_abandoned"); err != nil {
		return nil, err
	}
	return &domain.CancelCheckInRes{Canceled: true}, nil
}

func (s *checkInService) failCheckIn(ctx context.Context, checkin *domain.CheckIn, res *domain.Reservation, reason string) {
	checkin.Status = domain.CheckInFailed
	checkin.FailureReason = reason
	if _, err := s.checkins.MarkFailed(ctx, checkin.ID, reason); err != nil {
		logger.ErrorContext(ctx, "Failed to mark check-in failed",
			"checkin_id", checkin.ID, "error", err)
	}
	s.publish(ctx, events.CheckInFailed, events.CheckInFailedEvent{
		CheckInID:     checkin.ID,
		ReservationID: res.ID,
		RoomNumber:    res.RoomNumber,
		Reason:        reason,
		FailedAt:      time.Now().UTC(),
	})
}

func (s *checkInService) completedResponse(ctx context.Context, checkin *domain.CheckIn, res *domain.Reservation) (*domain.FinishCheckInRes, error) {
	out := &domain.FinishCheckInRes{
		Status:       domain.FinishStatusCompleted,
		CheckInID:    checkin.ID,
		RoomNumber:   checkin.RoomNumber,
		CheckoutTime: res.CheckoutTime,
		CompletedAt:  &checkin.UpdatedAt,
	}
	if checkin.KeyID != nil {
		out.KeyID = *checkin.KeyID
		if key, err := s.ledger.GetByID(ctx, *checkin.KeyID); err == nil && key != nil {
			out.CheckoutTime = key.ValidUntil
		}
	}
	return out, nil
}

func (s *checkInService) failedResponse(checkin *domain.CheckIn, res *domain.Reservation) *domain.FinishCheckInRes {
	return &domain.FinishCheckInRes{
		Status:       domain.FinishStatusFailed,
		CheckInID:    checkin.ID,
		RoomNumber:   checkin.RoomNumber,
		CheckoutTime: res.CheckoutTime,
		Reason:       checkin.FailureReason,
	}
}

func (s *checkInService) inProgressResponse(checkin *domain.CheckIn, res *domain.Reservation) *domain.FinishCheckInRes {
	return &domain.FinishCheckInRes{
		Status:       domain.FinishStatusInProgress,
		CheckInID:    checkin.ID,
		RoomNumber:   checkin.RoomNumber,
		CheckoutTime: res.CheckoutTime,
	}
}

func (s *checkInService) cacheFinish(ctx context.Context, checkinID string, res *domain.FinishCheckInRes) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetFinish(ctx, checkinID, res); err != nil {
		logger.WarnContext(ctx, "Failed to cache finish response",
			"checkin_id", checkinID, "error", err)
	}
}

func (s *checkInService) publish(ctx context.Context, subject string, event interface{}) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.Publish(ctx, subject, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish event", "subject", subject, "error", err)
	}
}
