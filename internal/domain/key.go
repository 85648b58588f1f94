package domain

import "time"

type KeyState string

const (
	KeyPending KeyState = "pending"
	KeyActive  KeyState = "active"
	KeyRevoked KeyState = "revoked"
	KeyFailed  KeyState = "failed"
)

func ParseKeyState(s string) (KeyState, bool) {
	switch KeyState(s) {
	case KeyPending, KeyActive, KeyRevoked, KeyFailed:
		return KeyState(s), true
	default:
		return "", false
	}
}

// Terminal reports whether no transition may leave the state.
func (s KeyState) Terminal() bool {
	return s == KeyRevoked || s == KeyFailed
}

// CanTransition reports whether a ledger transition from s to next is legal.
// Terminal states absorb; everything else follows pending → active →
// revoked, with failed reachable only from pending.
func (s KeyState) CanTransition(next KeyState) bool {
	switch s {
	case KeyPending:
		return next == KeyActive || next == KeyFailed
	case KeyActive:
		return next == KeyRevoked
	default:
		return false
	}
}

// Revocation reasons recorded on the ledger.
const (
	ReasonGuestCheckout   = "guest_checkout"
	ReasonStaffOverride   = "staff_override"
	ReasonExpired         = "expired"
	ReasonCheckInCanceled = "checkin_canceled"
	ReasonSuperseded      = "superseded"
)

// KeyRecord is the durable record of a digital key. Records are never
// deleted; revoked and failed keys are retained for audit.
type KeyRecord struct {
	KeyID            string     `json:"key_id"`
	CheckInID        string     `json:"checkin_id"`
	ReservationID    string     `json:"reservation_id"`
	RoomNumber       string     `json:"room_number"`
	VendorKeyToken   string     `json:"-"`
	ValidFrom        time.Time  `json:"valid_from"`
	ValidUntil       time.Time  `json:"valid_until"`
	State            KeyState   `json:"state"`
	RevocationReason string     `json:"revocation_reason,omitempty"`
	FailureReason    string     `json:"failure_reason,omitempty"`
	LastGatewayAck   *time.Time `json:"last_gateway_ack,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Expired reports whether the key's validity window has lapsed as of now.
func (k *KeyRecord) Expired(now time.Time) bool {
	return !k.ValidUntil.After(now)
}

type KeyDTO struct {
	KeyID            string     `json:"key_id"`
	CheckInID        string     `json:"checkin_id"`
	ReservationID    string     `json:"reservation_id"`
	RoomNumber       string     `json:"room_number"`
	ValidFrom        time.Time  `json:"valid_from"`
	ValidUntil       time.Time  `json:"valid_until"`
	State            string     `json:"state"`
	RevocationReason string     `json:"revocation_reason,omitempty"`
	FailureReason    string     `json:"failure_reason,omitempty"`
	LastGatewayAck   *time.Time `json:"last_gateway_ack,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func (k *KeyRecord) DTO() KeyDTO {
	return KeyDTO{
		KeyID:            k.KeyID,
		CheckInID:        k.CheckInID,
		ReservationID:    k.ReservationID,
		RoomNumber:       k.RoomNumber,
		ValidFrom:        k.ValidFrom,
		ValidUntil:       k.ValidUntil,
		State:            string(k.State),
		RevocationReason: k.RevocationReason,
		FailureReason:    k.FailureReason,
		LastGatewayAck:   k.LastGatewayAck,
		CreatedAt:        k.CreatedAt,
	}
}

type RevokeKeyReq struct {
	KeyID  string `json:"key_id"`
	Reason string `json:"reason"`
}

type RevokeKeyRes struct {
	Revoked   bool       `json:"revoked"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

type ExtendKeyReq struct {
	KeyID      string    `json:"key_id"`
	ValidUntil time.Time `json:"valid_until"`
}
