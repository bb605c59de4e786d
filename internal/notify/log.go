package notify

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogMailer logs messages instead of delivering them. Used in development
// and as the fallback when no mail provider is configured.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, msg Message) error {
	log.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Int("html_bytes", len(msg.HTML)).
		Msg("mail (log provider)")
	return nil
}
