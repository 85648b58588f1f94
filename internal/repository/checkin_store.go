package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stayos/roomkeys/internal/domain"
)

// CheckInStore persists kiosk check-in attempts.
type CheckInStore interface {
	Create(ctx context.Context, reservationID, roomNumber string) (*domain.CheckIn, error)
	GetByID(ctx context.Context, id string) (*domain.CheckIn, error)
	AttachKey(ctx context.Context, id, keyID string) (*domain.CheckIn, error)
	MarkCompleted(ctx context.Context, id string) (*domain.CheckIn, error)
	MarkFailed(ctx context.Context, id, reason string) (*domain.CheckIn, error)
	MarkCanceled(ctx context.Context, id, reason string) (*domain.CheckIn, error)
}

type checkInStore struct {
	pool *pgxpool.Pool
}

func NewCheckInStore(pool *pgxpool.Pool) CheckInStore {
	return &checkInStore{pool: pool}
}

const checkInCols = `id, reservation_id, room_number, status, key_id, failure_reason, created_at, updated_at`

func scanCheckIn(row pgx.Row) (*domain.CheckIn, error) {
	var c domain.CheckIn
	err := row.Scan(
		&c.ID, &c.ReservationID, &c.RoomNumber, &c.Status,
		&c.KeyID, &c.FailureReason, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *checkInStore) Create(ctx context.Context, reservationID, roomNumber string) (*domain.CheckIn, error) {
	const q = `INSERT INTO checkins (id, reservation_id, room_number, status)
		VALUES ($1, $2, $3, 'started')
		RETURNING ` + checkInCols

	id := uuid.NewString()
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanCheckIn(r.pool.QueryRow(ctx, q, id, reservationID, roomNumber))
}

func (r *checkInStore) GetByID(ctx context.Context, id string) (*domain.CheckIn, error) {
	const q = `SELECT ` + checkInCols + ` FROM checkins WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	c, err := scanCheckIn(r.pool.QueryRow(ctx, q, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (r *checkInStore) AttachKey(ctx context.Context, id, keyID string) (*domain.CheckIn, error) {
	const q = `UPDATE checkins
		SET key_id=$2, status='key_pending', updated_at=now()
		WHERE id=$1 AND status IN ('started','key_pending')
		RETURNING ` + checkInCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	c, err := scanCheckIn(r.pool.QueryRow(ctx, q, id, keyID))
	if err == pgx.ErrNoRows {
		return nil, domain.ErrInvalidState
	}
	return c, err
}

func (r *checkInStore) MarkCompleted(ctx context.Context, id string) (*domain.CheckIn, error) {
	const q = `UPDATE checkins
		SET status='completed', updated_at=now()
		WHERE id=$1 AND status IN ('started','key_pending')
		RETURNING ` + checkInCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	c, err := scanCheckIn(r.pool.QueryRow(ctx, q, id))
	if err == pgx.ErrNoRows {
		return nil, domain.ErrInvalidState
	}
	return c, err
}

func (r *checkInStore) MarkFailed(ctx context.Context, id, reason string) (*domain.CheckIn, error) {
	const q = `UPDATE checkins
		SET status='failed', failure_reason=$2, updated_at=now()
		WHERE id=$1 AND status IN ('started','key_pending')
		RETURNING ` + checkInCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	c, err := scanCheckIn(r.pool.QueryRow(ctx, q, id, reason))
	if err == pgx.ErrNoRows {
		return nil, domain.ErrInvalidState
	}
	return c, err
}

func (r *checkInStore) MarkCanceled(ctx context.Context, id, reason string) (*domain.CheckIn, error) {
	const q = `UPDATE checkins
		SET status='canceled', failure_reason=$2, updated_at=now()
		WHERE id=$1 AND status IN ('started','key_pending')
		RETURNING ` + checkInCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	c, err := scanCheckIn(r.pool.QueryRow(ctx, q, id, reason))
	if err == pgx.ErrNoRows {
		return nil, domain.ErrInvalidState
	}
	return c, err
}
