package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stayos/roomkeys/internal/domain"
)

// KeyLedger is the durable, authoritative record of every key ever issued.
// Every mutation is a compare-and-swap on state: a transition whose
// precondition no longer holds is rejected, never applied over the current
// state. That is what keeps a delayed retry from reviving a revoked key.
type KeyLedger interface {
	Create(ctx context.Context, checkinID, reservationID, roomNumber string, validFrom, validUntil time.Time) (*domain.KeyRecord, error)
	MarkActive(ctx context.Context, keyID, vendorToken string, ackTime time.Time) (*domain.KeyRecord, error)
	MarkFailed(ctx context.Context, keyID, reason string) (*domain.KeyRecord, error)
	MarkRevoked(ctx context.Context, keyID, reason string, ackTime time.Time) (*domain.KeyRecord, error)
	ExtendValidity(ctx context.Context, keyID string, validUntil time.Time) (*domain.KeyRecord, error)
	GetByID(ctx context.Context, keyID string) (*domain.KeyRecord, error)
	FindActiveByRoom(ctx context.Context, roomNumber string) (*domain.KeyRecord, error)
	FindLiveByRoom(ctx context.Context, roomNumber string) (*domain.KeyRecord, error)
	FindExpiring(ctx context.Context, asOf time.Time) ([]domain.KeyRecord, error)
}

type keyLedger struct {
	pool *pgxpool.Pool
}

func NewKeyLedger(pool *pgxpool.Pool) KeyLedger {
	return &keyLedger{pool: pool}
}

const keyCols = `key_id, checkin_id, reservation_id, room_number,
vendor_key_token, valid_from, valid_until, state,
revocation_reason, failure_reason, last_gateway_ack, created_at, updated_at`

func scanKey(row pgx.Row) (*domain.KeyRecord, error) {
	var k domain.KeyRecord
	err := row.Scan(
		&k.KeyID, &k.CheckInID, &k.ReservationID, &k.RoomNumber,
		&k.VendorKeyToken, &k.ValidFrom, &k.ValidUntil, &k.State,
		&k.RevocationReason, &k.FailureReason, &k.LastGatewayAck,
		&k.CreatedAt, &k.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (r *keyLedger) Create(ctx context.Context, checkinID, reservationID, roomNumber string, validFrom, validUntil time.Time) (*domain.KeyRecord, error) {
	if validUntil.Before(validFrom) {
		return nil, fmt.Errorf("%w: valid_until precedes valid_from", domain.ErrInvalidState)
	}

	// The WHERE NOT EXISTS clause and the partial unique index on
	// room_number (live states only) together reject a second live key
	// for the room, including under concurrent inserts.
	const q = `INSERT INTO room_keys (
		key_id, checkin_id, reservation_id, room_number,
		valid_from, valid_until, state
	)
	SELECT $1, $2, $3, $4, $5, $6, 'pending'
	WHERE NOT EXISTS (
		SELECT 1 FROM room_keys
		WHERE room_number = $4
		  AND state IN ('pending', 'active')
	)
	RETURNING ` + keyCols

	keyID := uuid.NewString()
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	k, err := scanKey(r.pool.QueryRow(ctx, q, keyID, checkinID, reservationID, roomNumber, validFrom, validUntil))
	if err == pgx.ErrNoRows {
		return nil, domain.ErrConflict
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return nil, domain.ErrConflict
	}
	return k, err
}

func (r *keyLedger) MarkActive(ctx context.Context, keyID, vendorToken string, ackTime time.Time) (*domain.KeyRecord, error) {
	const q = `UPDATE room_keys
		SET state='active', vendor_key_token=$2, last_gateway_ack=$3, updated_at=now()
		WHERE key_id=$1 AND state='pending'
		RETURNING ` + keyCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	k, err := scanKey(r.pool.QueryRow(ctx, q, keyID, vendorToken, ackTime))
	if err == pgx.ErrNoRows {
		return nil, r.transitionError(ctx, keyID, domain.KeyActive)
	}
	return k, err
}

func (r *keyLedger) MarkFailed(ctx context.Context, keyID, reason string) (*domain.KeyRecord, error) {
	const q = `UPDATE room_keys
		SET state='failed', failure_reason=$2, updated_at=now()
		WHERE key_id=$1 AND state='pending'
		RETURNING ` + keyCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	k, err := scanKey(r.pool.QueryRow(ctx, q, keyID, reason))
	if err != pgx.ErrNoRows {
		return k, err
	}

	// Already failed is a no-op, not an error.
	existing, gerr := r.GetByID(ctx, keyID)
	if gerr != nil {
		return nil, gerr
	}
	if existing == nil {
		return nil, domain.ErrNotFound
	}
	if existing.State == domain.KeyFailed {
		return existing, nil
	}
	return nil, fmt.Errorf("%w: %s -> failed", domain.ErrInvalidState, existing.State)
}

func (r *keyLedger) MarkRevoked(ctx context.Context, keyID, reason string, ackTime time.Time) (*domain.KeyRecord, error) {
	const q = `UPDATE room_keys
		SET state='revoked', revocation_reason=$2, last_gateway_ack=$3, updated_at=now()
		WHERE key_id=$1 AND state='active'
		RETURNING ` + keyCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	k, err := scanKey(r.pool.QueryRow(ctx, q, keyID, reason, ackTime))
	if err != pgx.ErrNoRows {
		return k, err
	}

	// Revocation is idempotent: a retry against an already revoked key
	// returns the existing terminal record.
	existing, gerr := r.GetByID(ctx, keyID)
	if gerr != nil {
		return nil, gerr
	}
	if existing == nil {
		return nil, domain.ErrNotFound
	}
	if existing.State == domain.KeyRevoked {
		return existing, nil
	}
	return nil, fmt.Errorf("%w: %s -> revoked", domain.ErrInvalidState, existing.State)
}

func (r *keyLedger) ExtendValidity(ctx context.Context, keyID string, validUntil time.Time) (*domain.KeyRecord, error) {
	const q = `UPDATE room_keys
		SET valid_until=$2, updated_at=now()
		WHERE key_id=$1 AND state='active' AND $2 >= valid_from
		RETURNING ` + keyCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	k, err := scanKey(r.pool.QueryRow(ctx, q, keyID, validUntil))
	if err != pgx.ErrNoRows {
		return k, err
	}

	existing, gerr := r.GetByID(ctx, keyID)
	if gerr != nil {
		return nil, gerr
	}
	if existing == nil {
		return nil, domain.ErrNotFound
	}
	if validUntil.Before(existing.ValidFrom) {
		return nil, fmt.Errorf("%w: valid_until precedes valid_from", domain.ErrInvalidState)
	}
	return nil, fmt.Errorf("%w: extend on %s key", domain.ErrInvalidState, existing.State)
}

func (r *keyLedger) GetByID(ctx context.Context, keyID string) (*domain.KeyRecord, error) {
	const q = `SELECT ` + keyCols + ` FROM room_keys WHERE key_id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	k, err := scanKey(r.pool.QueryRow(ctx, q, keyID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return k, err
}

func (r *keyLedger) FindActiveByRoom(ctx context.Context, roomNumber string) (*domain.KeyRecord, error) {
	const q = `SELECT ` + keyCols + ` FROM room_keys WHERE room_number=$1 AND state='active'`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	k, err := scanKey(r.pool.QueryRow(ctx, q, roomNumber))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return k, err
}

func (r *keyLedger) FindLiveByRoom(ctx context.Context, roomNumber string) (*domain.KeyRecord, error) {
	const q = `SELECT ` + keyCols + ` FROM room_keys
		WHERE room_number=$1 AND state IN ('pending','active')
		ORDER BY created_at DESC LIMIT 1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	k, err := scanKey(r.pool.QueryRow(ctx, q, roomNumber))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return k, err
}

func (r *keyLedger) FindExpiring(ctx context.Context, asOf time.Time) ([]domain.KeyRecord, error) {
	const q = `SELECT ` + keyCols + ` FROM room_keys
		WHERE state='active' AND valid_until <= $1
		ORDER BY valid_until ASC LIMIT 100`

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	rows, err := r.pool.Query(ctx, q, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []domain.KeyRecord
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

func (r *keyLedger) transitionError(ctx context.Context, keyID string, target domain.KeyState) error {
	existing, err := r.GetByID(ctx, keyID)
	if err != nil {
		return err
	}
	if existing == nil {
		return domain.ErrNotFound
	}
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidState, existing.State, target)
}
