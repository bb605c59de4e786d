package notify

import (
	"fmt"
	"html"
)

const bodyStyle = `font-family: Arial, sans-serif; line-height: 1.6;`

// VerificationMessage asks the owner to activate a freshly created drop.
func VerificationMessage(to, verifyURL string) Message {
	return Message{
		To:      to,
		Subject: "Confirm your drop",
		HTML: fmt.Sprintf(`<div style="%s">
  <h2>Confirm your drop</h2>
  <p>Click the link below to activate your drop:</p>
  <p><a href="%s">%s</a></p>
  <p>If you didn't create this, ignore this email.</p>
</div>`, bodyStyle, verifyURL, verifyURL),
	}
}

// ActivationMessage confirms a successful verification and hands the owner
// their check-in and receipt links.
func ActivationMessage(to, checkinURL, receiptURL string) Message {
	return Message{
		To:      to,
		Subject: "Your drop is active",
		HTML: fmt.Sprintf(`<div style="%s">
  <h2>Your drop is active</h2>
  <p>Bookmark your check-in link:</p>
  <p><a href="%s">%s</a></p>
  <p>Receipt: <a href="%s">%s</a></p>
</div>`, bodyStyle, checkinURL, checkinURL, receiptURL, receiptURL),
	}
}

// ReminderMessage nudges an overdue owner to check in.
func ReminderMessage(to, checkinURL string) Message {
	return Message{
		To:      to,
		Subject: "Check-in required",
		HTML: fmt.Sprintf(`<div style="%s">
  <h2>Check-in required</h2>
  <p>Click to reset your timer:</p>
  <p><a href="%s">%s</a></p>
</div>`, bodyStyle, checkinURL, checkinURL),
	}
}

// ReleaseMessage discloses the encrypted payload's retrieval link to the
// recipient. The download URL is a presigned, time-limited object-store link;
// the payload stays encrypted until the recipient supplies the passphrase.
func ReleaseMessage(to, downloadURL, receiptURL, passphraseHint string) Message {
	hint := html.EscapeString(passphraseHint)
	if hint == "" {
		hint = "-"
	}
	return Message{
		To:      to,
		Subject: "Release notice",
		HTML: fmt.Sprintf(`<div style="%s">
  <h2>Release notice</h2>
  <p>The deadline was missed. The encrypted payload is ready.</p>
  <p><a href="%s">Download encrypted payload</a></p>
  <p>Passphrase hint: %s</p>
  <p>Receipt: <a href="%s">%s</a></p>
</div>`, bodyStyle, downloadURL, hint, receiptURL, receiptURL),
	}
}
