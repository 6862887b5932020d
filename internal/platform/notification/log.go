package notification

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSender writes emails to the structured log instead of delivering them.
// It is the default for kiosks without a mail relay.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "email").Logger()}
}

func (s *LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.logger.Info().
		Str("to", to).
		Str("subject", subject).
		Str("body", body).
		Msg("email confirmation")
	return nil
}
