// Package notify is the outbound delivery port. Delivery is fire-and-forget:
// a failed send never rolls back the state transition that triggered it.
package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Templates used by the engine.
const (
	TemplateInvitation    = "invitation"
	TemplatePasswordReset = "password_reset"
	TemplateLockoutNotice = "lockout_notice"
)

// Notifier delivers a templated message to a target address.
type Notifier interface {
	Send(ctx context.Context, template, target string, payload map[string]string) error
}

// LogNotifier writes deliveries to the log instead of sending them.
// Useful for development and tests.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Send implements Notifier.
func (n LogNotifier) Send(ctx context.Context, template, target string, payload map[string]string) error {
	evt := n.Logger.Info().Str("template", template).Str("target", target)
	for k, v := range payload {
		evt = evt.Str("payload_"+k, v)
	}
	evt.Msg("notification")
	return nil
}
