// Package webhook implements the staff webhook alert channel.
//
// It detects the platform from the URL (Slack Block Kit or the generic
// CareWatch envelope), signs the body with HMAC-SHA256 and posts it through
// an SSRF-guarded client wrapped in external.BaseClient.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"carewatch/internal/external"
	"carewatch/internal/security"
	"carewatch/internal/types"
)

// maxResponseBodyRead limits how much of a response body is read.
const maxResponseBodyRead = 4096

// Headers set on every delivery.
const (
	EventHeader   = "X-CareWatch-Event"
	AlertIDHeader = "X-CareWatch-Alert-ID"
)

// Config configures a webhook channel.
type Config struct {
	URL          string
	Secret       string
	UserAgent    string
	Timeout      time.Duration
	MaxRedirects int
	// Platform forces a formatter instead of detecting it from URL.
	Platform Platform
	// AllowInsecure permits plain http:// URLs (local development only).
	AllowInsecure bool
}

// Channel posts alerts to one webhook URL.
type Channel struct {
	url      string
	platform Platform
	registry *PlatformRegistry
	signer   *Signer
	base     *external.BaseClient
	clock    types.Clock
	logger   *slog.Logger
}

// NewChannel validates cfg and builds a channel whose client is guarded by g.
func NewChannel(cfg Config, g *security.Guard, logger *slog.Logger) (*Channel, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if g == nil {
		g = security.NewGuard()
	}
	httpClient := security.NewSafeHTTPClient(g, cfg.Timeout, cfg.MaxRedirects)
	base := external.NewBaseClient(httpClient, "webhook", external.DefaultRetryPolicy(), cfg.UserAgent,
		external.WithLogger(logger),
		external.WithPermanentError(isSSRFError),
	)
	return NewChannelWithBase(cfg, base, logger)
}

// NewChannelWithBase builds a channel over a caller-supplied BaseClient.
func NewChannelWithBase(cfg Config, base *external.BaseClient, logger *slog.Logger) (*Channel, error) {
	if err := validateURL(cfg.URL, cfg.AllowInsecure); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	ch := &Channel{
		url:      cfg.URL,
		registry: NewPlatformRegistry(),
		base:     base,
		clock:    types.RealClock{},
		logger:   logger,
	}
	ch.platform = ch.registry.Detect(cfg.URL, cfg.Platform)

	if cfg.Secret != "" {
		signer, err := NewSigner(cfg.Secret)
		if err != nil {
			return nil, err
		}
		ch.signer = signer
	}
	return ch, nil
}

func validateURL(raw string, allowInsecure bool) error {
	if raw == "" {
		return fmt.Errorf("webhook channel: url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("webhook channel: invalid url")
	}
	switch {
	case u.Scheme == "https":
	case u.Scheme == "http" && allowInsecure:
	default:
		return fmt.Errorf("webhook channel: url must use https")
	}
	return nil
}

// SetClock overrides the clock used for signature timestamps.
func (c *Channel) SetClock(clock types.Clock) {
	c.clock = clock
}

// Name returns the channel type.
func (c *Channel) Name() types.ChannelType {
	return types.ChannelWebhook
}

// Platform returns the detected destination platform.
func (c *Channel) Platform() Platform {
	return c.platform
}

// Send formats, signs and posts n.
//
// Response handling:
//   - 2xx: accepted unless the platform reports a soft failure
//   - 429 / 5xx / network: retried by BaseClient, then returned
//   - SSRF block: returned without retry
//   - other 4xx: returned as ErrCodeUpstreamNotificationFailed
func (c *Channel) Send(ctx context.Context, n types.AlertNotification) error {
	formatter := c.registry.Get(c.platform)
	payload, err := formatter.Format(n)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to format webhook payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, EventPatientRisk)
	req.Header.Set(AlertIDHeader, n.ID)
	if c.signer != nil {
		req.Header.Set(SignatureHeader, c.signer.Sign(payload, c.clock.Now()))
	}

	resp, err := c.base.Do(req)
	if err != nil {
		if isSSRFError(err) {
			c.logger.ErrorContext(ctx, "webhook destination blocked", "alert_id", n.ID, "error", err)
			return types.NewAppError(types.ErrCodeUpstreamNotificationFailed, "webhook destination blocked by SSRF policy", err)
		}
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyRead))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("webhook returned %d: %s", resp.StatusCode, truncateBody(body))
		if resp.StatusCode == http.StatusGone {
			msg = "webhook endpoint is gone (410); the URL must be replaced"
		}
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamNotificationFailed, msg, nil,
			map[string]any{"status": resp.StatusCode})
	}

	if err := formatter.ValidateResponse(resp.StatusCode, body); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamNotificationFailed, "webhook soft failure", err)
	}

	c.logger.InfoContext(ctx, "webhook delivered",
		"alert_id", n.ID,
		"platform", string(c.platform),
		"status", resp.StatusCode,
		"provider_message_id", providerMessageID(resp),
	)
	return nil
}

func providerMessageID(resp *http.Response) string {
	if id := resp.Header.Get("X-Slack-Req-Id"); id != "" {
		return id
	}
	return resp.Header.Get("X-Request-Id")
}

func isSSRFError(err error) bool {
	return errors.Is(err, security.ErrSSRFBlocked) ||
		errors.Is(err, security.ErrSSRFDNSTimeout) ||
		errors.Is(err, security.ErrSSRFDNSFailed) ||
		errors.Is(err, security.ErrSSRFTooManyRedirects) ||
		errors.Is(err, security.ErrSSRFScheme)
}
