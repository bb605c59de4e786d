// Package notify delivers templated mail to owners and recipients. Delivery
// is fire-and-forget from the engine's perspective: a Notifier either
// accepts the message or returns an error, and the engine decides what the
// failure means for the drop.
package notify

import "context"

// Message is one outbound mail.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Notifier delivers a single message.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}
