package worker

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier writes outgoing messages to the log instead of a real
// SMS/WhatsApp gateway. Stands in until a provider is wired up.
type LogNotifier struct {
	logger *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendSMS(ctx context.Context, phone, text string) error {
	n.logger.Info().Str("transport", "sms").Str("phone", phone).Str("text", text).Msg("notification sent")
	return nil
}

func (n *LogNotifier) SendWhatsApp(ctx context.Context, phone, text string) error {
	n.logger.Info().Str("transport", "whatsapp").Str("phone", phone).Str("text", text).Msg("notification sent")
	return nil
}
