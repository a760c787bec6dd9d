// Package channels assembles the configured alert channels.
package channels

import (
	"fmt"
	"log/slog"
	"net/http"

	"carewatch/internal/config"
	"carewatch/internal/external"
	"carewatch/internal/monitoring"
	"carewatch/internal/notifications/webhook"
	"carewatch/internal/notifications/whatsapp"
	"carewatch/internal/queue"
	"carewatch/internal/security"
	"carewatch/internal/types"
)

// Deps carries the clients the channels are built on. SQS is required only
// when the sqs channel is enabled. Nil Guard and HTTPClient fall back to
// defaults. Failures, when set, counts provider calls that exhausted their
// retries.
type Deps struct {
	SQS        queue.SQSSender
	HTTPClient *http.Client
	Guard      *security.Guard
	Failures   external.FailureRecorder
	Logger     *slog.Logger
}

// Build returns one AlertChannel per entry of cfg.Alerts.Channels, in order.
// Duplicate entries are built once.
func Build(cfg *config.Config, deps Deps) ([]monitoring.AlertChannel, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var out []monitoring.AlertChannel
	seen := make(map[types.ChannelType]bool)
	for _, name := range cfg.Alerts.Channels {
		kind := types.ChannelType(name)
		if seen[kind] {
			continue
		}
		seen[kind] = true

		ch, err := build(kind, cfg, deps, logger.With("channel", name))
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", name, err)
		}
		out = append(out, ch)
	}
	return out, nil
}

func build(kind types.ChannelType, cfg *config.Config, deps Deps, logger *slog.Logger) (monitoring.AlertChannel, error) {
	a := cfg.Alerts
	switch kind {
	case types.ChannelWebhook:
		return webhook.NewChannel(webhook.Config{
			URL:           a.WebhookURL,
			Secret:        a.WebhookSecret.Unmask(),
			UserAgent:     a.WebhookUserAgent,
			Timeout:       a.WebhookTimeout,
			MaxRedirects:  a.WebhookMaxRedirects,
			AllowInsecure: cfg.IsLocal(),
		}, deps.Guard, logger)

	case types.ChannelWhatsApp:
		httpClient := deps.HTTPClient
		if httpClient == nil {
			httpClient = &http.Client{Timeout: a.WebhookTimeout}
		}
		sender := external.NewWhatsAppClient(httpClient, external.WhatsAppClientConfig{
			PhoneNumberID: a.WhatsAppPhoneNumberID,
			Token:         a.WhatsAppToken.Unmask(),
			BaseURL:       a.WhatsAppAPIURL,
			Logger:        logger,
			Failures:      deps.Failures,
		})
		return whatsapp.NewChannel(sender, a.WhatsAppStaffNumbers, logger)

	case types.ChannelSQS:
		if deps.SQS == nil {
			return nil, fmt.Errorf("no sqs client available")
		}
		return queue.NewPublisher(deps.SQS, cfg.AWS.AlertQueueURL, logger)
	}
	return nil, fmt.Errorf("unknown channel type")
}
