package domain

import "errors"

var (
	// ErrNotFound is returned when a reservation or key does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyCheckedIn is returned when the reservation is already
	// marked occupied.
	ErrAlreadyCheckedIn = errors.New("reservation already checked in")

	// ErrConflict is returned by the ledger when the room already holds a
	// pending or active key.
	ErrConflict = errors.New("conflicting key for room")

	// ErrRoomOccupied is returned when the conflicting key belongs to a
	// current guest and cannot be superseded.
	ErrRoomOccupied = errors.New("room already has an active key")

	// ErrKeyIssuance is returned when the lock vendor rejected or failed
	// the issuance.
	ErrKeyIssuance = errors.New("key issuance failed")

	// ErrRevocationPending is returned when the vendor could not be
	// reached during a revoke; the key stays active until a retry or the
	// sweeper confirms revocation with the vendor.
	ErrRevocationPending = errors.New("revocation pending vendor confirmation")

	// ErrInvalidState is returned on an illegal ledger transition.
	ErrInvalidState = errors.New("invalid key state transition")

	// ErrInvalidKey is returned when there is nothing to revoke: the key
	// is missing or already failed.
	ErrInvalidKey = errors.New("invalid key")
)
