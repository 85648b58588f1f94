package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/stayos/roomkeys/pkg/logger"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
	QueueSubscribe(subject, queue string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	ID        string
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	_, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		})
	})
	return err
}

func (n *NATSEventBus) QueueSubscribe(subject, queue string, handler func(msg *Message)) error {
	_, err := n.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		})
	})
	return err
}

func (n *NATSEventBus) Close() error {
	n.conn.Close()
	return nil
}

// Event subjects
const (
	// Check-in events
	CheckInCompleted = "checkin.completed"
	CheckInFailed    = "checkin.failed"
	CheckInCanceled  = "checkin.canceled"

	// Key lifecycle events
	KeyIssued            = "key.issued"
	KeyRevoked           = "key.revoked"
	KeyExpired           = "key.expired"
	KeyRevocationPending = "key.revocation_pending"
	KeyExtended          = "key.extended"
)

// Event payloads
type CheckInCompletedEvent struct {
	CheckInID     string    `json:"checkin_id"`
	ReservationID string    `json:"reservation_id"`
	RoomNumber    string    `json:"room_number"`
	KeyID         string    `json:"key_id"`
	CheckoutTime  time.Time `json:"checkout_time"`
	CompletedAt   time.Time `json:"completed_at"`
}

type CheckInFailedEvent struct {
	CheckInID     string    `json:"checkin_id"`
	ReservationID string    `json:"reservation_id"`
	RoomNumber    string    `json:"room_number"`
	Reason        string    `json:"reason"`
	FailedAt      time.Time `json:"failed_at"`
}

type KeyIssuedEvent struct {
	KeyID      string    `json:"key_id"`
	RoomNumber string    `json:"room_number"`
	ValidFrom  time.Time `json:"valid_from"`
	ValidUntil time.Time `json:"valid_until"`
	IssuedAt   time.Time `json:"issued_at"`
}

type KeyRevokedEvent struct {
	KeyID      string    `json:"key_id"`
	RoomNumber string    `json:"room_number"`
	Reason     string    `json:"reason"`
	RevokedAt  time.Time `json:"revoked_at"`
}

type KeyRevocationPendingEvent struct {
	KeyID      string    `json:"key_id"`
	RoomNumber string    `json:"room_number"`
	Reason     string    `json:"reason"`
	Error      string    `json:"error"`
	AttemptAt  time.Time `json:"attempt_at"`
}

type KeyExtendedEvent struct {
	KeyID      string    `json:"key_id"`
	RoomNumber string    `json:"room_number"`
	ValidUntil time.Time `json:"valid_until"`
	ExtendedAt time.Time `json:"extended_at"`
}
