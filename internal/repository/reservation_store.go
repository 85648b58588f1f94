package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stayos/roomkeys/internal/domain"
)

// ReservationStore reads guest reservations and flips their occupancy
// state. Reservation records themselves are owned by the property
// management system.
type ReservationStore interface {
	GetByID(ctx context.Context, id string) (*domain.Reservation, error)
	MarkOccupied(ctx context.Context, id string) (bool, error)
	MarkVacant(ctx context.Context, id string) (bool, error)
}

type reservationStore struct {
	pool *pgxpool.Pool
}

func NewReservationStore(pool *pgxpool.Pool) ReservationStore {
	return &reservationStore{pool: pool}
}

const reservationCols = `id, guest_name, guest_email, room_number,
checkin_date, checkout_time, occupied, created_at, updated_at`

func (r *reservationStore) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	const q = `SELECT ` + reservationCols + ` FROM reservations WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var res domain.Reservation
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&res.ID, &res.GuestName, &res.GuestEmail, &res.RoomNumber,
		&res.CheckInDate, &res.CheckoutTime, &res.Occupied,
		&res.CreatedAt, &res.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *reservationStore) MarkOccupied(ctx context.Context, id string) (bool, error) {
	const q = `UPDATE reservations SET occupied=true, updated_at=now() WHERE id=$1 AND occupied=false`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

func (r *reservationStore) MarkVacant(ctx context.Context, id string) (bool, error) {
	const q = `UPDATE reservations SET occupied=false, updated_at=now() WHERE id=$1 AND occupied=true`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}
