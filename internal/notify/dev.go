package notify

import (
	"fmt"

	"github.com/stayos/roomkeys/pkg/logger"
)

// DevNotifier prints alerts to the log and stdout instead of emailing
// the duty desk. Used in development and tests.
type DevNotifier struct{}

func NewDevNotifier() *DevNotifier {
	return &DevNotifier{}
}

func (d *DevNotifier) RevocationStuck(roomNumber, keyID, reason, cause string) error {
	logger.Warn("📧 [DEV ALERT] Revocation stuck",
		"room", roomNumber,
		"key_id", keyID,
		"reason", reason,
		"cause", cause,
	)

	fmt.Printf("\n"+
		"━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n"+
		"📧 DUTY DESK ALERT (DEV MODE)\n"+
		"━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n"+
		"Room %s: key %s could not be revoked (%s)\n"+
		"Cause: %s\n"+
		"The key may still open the door. Consider a manual lock reset.\n"+
		"━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n",
		roomNumber, keyID, reason, cause)

	return nil
}

func (d *DevNotifier) CheckInFailed(roomNumber, checkinID, reason string) error {
	logger.Warn("📧 [DEV ALERT] Check-in failed",
		"room", roomNumber,
		"checkin_id", checkinID,
		"reason", reason,
	)
	return nil
}
