// Package gateway defines the boundary to the smart-lock vendor's cloud
// API. The orchestrators only ever see this interface; the concrete
// adapter (HTTP or fake) is chosen once at construction time.
package gateway

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable covers timeouts and transport failures: the vendor
	// may or may not have applied the operation. Callers must not assume
	// either outcome and should retry or reconcile via KeyStatus.
	ErrUnavailable = errors.New("lock vendor unreachable")

	// ErrRejected is a definitive vendor-side refusal. The operation did
	// not and will not take effect.
	ErrRejected = errors.New("lock vendor rejected request")
)

// KeyState is the vendor's authoritative view of a key.
type KeyState string

const (
	KeyStateActive  KeyState = "active"
	KeyStateRevoked KeyState = "revoked"
	KeyStateUnknown KeyState = "unknown"
)

type IssueResult struct {
	VendorKeyToken string
	AckTime        time.Time
}

type RevokeResult struct {
	AckTime time.Time
	// AlreadyRevoked is set when the vendor no longer knows the key or
	// had already revoked it. Both count as successful revocation; the
	// two systems are allowed eventually consistent revocation state.
	AlreadyRevoked bool
}

type ExtendResult struct {
	AckTime time.Time
}

type StatusResult struct {
	State          KeyState
	VendorKeyToken string
}

// LockVendor issues and revokes keys on physical locks.
//
// keyRef is the caller-chosen reference (the ledger key id) sent with the
// issuance. The vendor deduplicates on it, which makes a retried IssueKey
// safe, and KeyStatus resolves by it so an issuance whose ack was lost can
// still be reconciled.
type LockVendor interface {
	IssueKey(ctx context.Context, keyRef, roomNumber string, validFrom, validUntil time.Time) (*IssueResult, error)
	RevokeKey(ctx context.Context, vendorToken string) (*RevokeResult, error)
	ExtendKey(ctx context.Context, vendorToken string, validUntil time.Time) (*ExtendResult, error)
	KeyStatus(ctx context.Context, keyRef string) (*StatusResult, error)
}
