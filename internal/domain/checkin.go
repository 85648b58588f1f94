package domain

import "time"

type CheckInStatus string

const (
	CheckInStarted    CheckInStatus = "started"
	CheckInKeyPending CheckInStatus = "key_pending"
	CheckInCompleted  CheckInStatus = "completed"
	CheckInFailed     CheckInStatus = "failed"
	CheckInCanceled   CheckInStatus = "canceled"
)

func ParseCheckInStatus(s string) (CheckInStatus, bool) {
	switch CheckInStatus(s) {
	case CheckInStarted, CheckInKeyPending, CheckInCompleted, CheckInFailed, CheckInCanceled:
		return CheckInStatus(s), true
	default:
		return "", false
	}
}

// CheckIn is one kiosk check-in attempt. A reservation may accumulate
// several failed or canceled attempts but at most one completed one.
type CheckIn struct {
	ID            string        `json:"id"`
	ReservationID string        `json:"reservation_id"`
	RoomNumber    string        `json:"room_number"`
	Status        CheckInStatus `json:"status"`
	KeyID         *string       `json:"key_id,omitempty"`
	FailureReason string        `json:"failure_reason,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type StartCheckInReq struct {
	ReservationID string `json:"reservation_id"`
}

type StartCheckInRes struct {
	CheckInID  string `json:"checkin_id"`
	RoomNumber string `json:"room_number"`
}

type FinishCheckInReq struct {
	CheckInID  string     `json:"checkin_id"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// FinishCheckInRes is the kiosk-facing result. Status is "completed",
// "in_progress" (vendor ack outstanding, retry the call), or "failed"
// (fall back to staff-assisted check-in).
type FinishCheckInRes struct {
	Status       string     `json:"status"`
	CheckInID    string     `json:"checkin_id"`
	KeyID        string     `json:"key_id,omitempty"`
	RoomNumber   string     `json:"room_number"`
	CheckoutTime time.Time  `json:"checkout_time"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Reason       string     `json:"reason,omitempty"`
}

const (
	FinishStatusCompleted  = "completed"
	FinishStatusInProgress = "in_progress"
	FinishStatusFailed     = "failed"
)

type CancelCheckInReq struct {
	CheckInID string `json:"checkin_id"`
}

type CancelCheckInRes struct {
	Canceled bool   `json:"canceled"`
	Reason   string `json:"reason,omitempty"`
}
