package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/mailersend/mailersend-go"
)

// MailerSendNotifier emails the duty desk through MailerSend.
type MailerSendNotifier struct {
	client   *mailersend.Mailersend
	from     mailersend.From
	dutyDesk string
	enabled  bool
}

func NewMailerSendNotifier(apiKey, fromName, fromEmail, dutyDeskEmail string) *MailerSendNotifier {
	m := &MailerSendNotifier{
		enabled:  apiKey != "" && fromEmail != "" && dutyDeskEmail != "",
		dutyDesk: dutyDeskEmail,
		from: mailersend.From{
			Name:  fromName,
			Email: fromEmail,
		},
	}

	if m.enabled {
		m.client = mailersend.NewMailersend(apiKey)
	}

	return m
}

func (m *MailerSendNotifier) RevocationStuck(roomNumber, keyID, reason, cause string) error {
	if !m.enabled {
		return fmt.Errorf("MailerSend not configured")
	}

	subject := fmt.Sprintf("ACTION NEEDED: room %s key revocation stuck", roomNumber)
	html := fmt.Sprintf(`
		<h2>Key revocation needs attention</h2>
		<p>Room <strong>%s</strong>: key <code>%s</code> could not be revoked.</p>
		<p>Reason for revocation: %s</p>
		<p>Cause: %s</p>
		<p>The key may still open the door. The system will keep retrying;
		if the vendor stays unreachable, reset the lock manually.</p>
	`, roomNumber, keyID, reason, cause)

	text := fmt.Sprintf("Room %s: key %s could not be revoked (%s).\nCause: %s\nThe key may still open the door.",
		roomNumber, keyID, reason, cause)

	return m.send(subject, text, html)
}

func (m *MailerSendNotifier) CheckInFailed(roomNumber, checkinID, reason string) error {
	if !m.enabled {
		return fmt.Errorf("MailerSend not configured")
	}

	subject := fmt.Sprintf("Kiosk check-in failed for room %s", roomNumber)
	html := fmt.Sprintf(`
		<h2>Kiosk check-in failed</h2>
		<p>Room <strong>%s</strong>, check-in <code>%s</code>.</p>
		<p>Reason: %s</p>
		<p>The guest was directed to the front desk.</p>
	`, roomNumber, checkinID, reason)

	text := fmt.Sprintf("Room %s: check-in %s failed (%s). The guest was directed to the front desk.",
		roomNumber, checkinID, reason)

	return m.send(subject, text, html)
}

func (m *MailerSendNotifier) send(subject, text, html string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := m.client.Email.NewMessage()
	msg.SetFrom(m.from)
	msg.SetRecipients([]mailersend.Recipient{{Name: "Duty Desk", Email: m.dutyDesk}})
	msg.SetSubject(subject)
	msg.SetText(text)
	msg.SetHTML(html)

	_, err := m.client.Email.Send(ctx, msg)
	return err
}
