// Package whatsapp delivers staff alerts as WhatsApp text messages.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"carewatch/internal/notifications"
	"carewatch/internal/types"
)

// TextSender sends one text message. external.WhatsAppClient implements it.
type TextSender interface {
	SendText(ctx context.Context, to, body string) (string, error)
}

// Channel sends every alert to each on-call staff number.
type Channel struct {
	sender     TextSender
	recipients []string
	logger     *slog.Logger
}

// NewChannel creates a Channel. At least one recipient is required.
func NewChannel(sender TextSender, recipients []string, logger *slog.Logger) (*Channel, error) {
	if sender == nil {
		return nil, fmt.Errorf("whatsapp channel: sender is nil")
	}
	var to []string
	for _, r := range recipients {
		if r != "" {
			to = append(to, r)
		}
	}
	if len(to) == 0 {
		return nil, fmt.Errorf("whatsapp channel: no staff numbers configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{sender: sender, recipients: to, logger: logger}, nil
}

// Name returns the channel type.
func (c *Channel) Name() types.ChannelType {
	return types.ChannelWhatsApp
}

// Send messages every recipient. All recipients are attempted; the send
// fails if any one of them failed.
func (c *Channel) Send(ctx context.Context, n types.AlertNotification) error {
	body := notifications.PlainText(n)

	var errs []error
	for _, to := range c.recipients {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		msgID, err := c.sender.SendText(ctx, to, body)
		if err != nil {
			c.logger.WarnContext(ctx, "whatsapp send failed",
				"alert_id", n.ID,
				"recipient", maskNumber(to),
				"error", err,
			)
			errs = append(errs, fmt.Errorf("recipient %s: %w", maskNumber(to), err))
			continue
		}
		c.logger.InfoContext(ctx, "whatsapp alert sent",
			"alert_id", n.ID,
			"recipient", maskNumber(to),
			"provider_message_id", msgID,
		)
	}

	if len(errs) == 0 {
		return nil
	}
	return types.NewAppErrorWithDetails(types.ErrCodeUpstreamNotificationFailed,
		fmt.Sprintf("whatsapp delivery failed for %d of %d recipients", len(errs), len(c.recipients)),
		errors.Join(errs...),
		map[string]any{"failed": len(errs), "recipients": len(c.recipients)},
	)
}

// maskNumber keeps the last four digits of a phone number for logs.
func maskNumber(n string) string {
	if len(n) <= 4 {
		return "****"
	}
	return "****" + n[len(n)-4:]
}
