package notify

import (
	"encoding/json"

	"github.com/stayos/roomkeys/pkg/events"
	"github.com/stayos/roomkeys/pkg/logger"
)

const queueGroup = "notify"

// Subscribe wires the notifier to the event bus. Queue subscriptions keep
// a multi-instance deployment from double-alerting the duty desk.
func Subscribe(bus events.Subscriber, n Notifier) error {
	err := bus.QueueSubscribe(events.KeyRevocationPending, queueGroup, func(msg *events.Message) {
		var ev events.KeyRevocationPendingEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			logger.Error("Failed to decode revocation pending event", "error", err)
			return
		}
		if err := n.RevocationStuck(ev.RoomNumber, ev.KeyID, ev.Reason, ev.Error); err != nil {
			logger.Error("Failed to alert duty desk", "room", ev.RoomNumber, "key_id", ev.KeyID, "error", err)
		}
	})
	if err != nil {
		return err
	}

	return bus.QueueSubscribe(events.CheckInFailed, queueGroup, func(msg *events.Message) {
		var ev events.CheckInFailedEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			logger.Error("Failed to decode check-in failed event", "error", err)
			return
		}
		if err := n.CheckInFailed(ev.RoomNumber, ev.CheckInID, ev.Reason); err != nil {
			logger.Error("Failed to alert duty desk", "room", ev.RoomNumber, "checkin_id", ev.CheckInID, "error", err)
		}
	})
}
