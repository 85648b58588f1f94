// Package notify alerts hotel staff about key lifecycle events that need
// a human: revocations the vendor would not confirm, and keys failed
// mid-issuance.
package notify

// Notifier delivers a staff alert. Implementations must be safe for
// concurrent use; delivery failures are the implementation's to report.
type Notifier interface {
	RevocationStuck(roomNumber, keyID, reason, cause string) error
	CheckInFailed(roomNumber, checkinID, reason string) error
}
