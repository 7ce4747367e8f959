package stackauth

import (
	"context"
	"log/slog"
)

// Mail template ids used by the core.
const (
	TemplateOTPSignIn     = "otp_sign_in"
	TemplateContactVerify = "contact_channel_verification"
)

// ConsoleMailer is a development Mailbox that logs mail instead of
// sending it.
type ConsoleMailer struct {
	Logger *slog.Logger
}

func (c *ConsoleMailer) Send(ctx context.Context, to, templateID string, vars map[string]any) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"to", to, "template", templateID}
	for k, v := range vars {
		attrs = append(attrs, k, v)
	}
	logger.InfoContext(ctx, "mailbox send", attrs...)
	return nil
}
