package domain

import "time"

// Reservation is owned by the property management system; this service
// reads it at check-in and flips the occupancy flag.
type Reservation struct {
	ID           string    `json:"id"`
	GuestName    string    `json:"guest_name"`
	GuestEmail   string    `json:"guest_email"`
	RoomNumber   string    `json:"room_number"`
	CheckInDate  time.Time `json:"checkin_date"`
	CheckoutTime time.Time `json:"checkout_time"`
	Occupied     bool      `json:"occupied"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
