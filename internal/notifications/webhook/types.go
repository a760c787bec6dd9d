package webhook

import (
	"carewatch/internal/types"
)

// Platform identifies a webhook destination platform.
type Platform string

const (
	// PlatformGeneric receives the stable CareWatch JSON envelope.
	PlatformGeneric Platform = "generic"

	// PlatformSlack represents Slack incoming webhooks.
	PlatformSlack Platform = "slack"
)

// PlatformFormatter transforms an alert into platform-specific JSON.
type PlatformFormatter interface {
	Format(n types.AlertNotification) ([]byte, error)

	// Platform returns the enum identifier for logs.
	Platform() Platform

	// ValidateResponse interprets a 2xx body to catch "soft failures"
	// (Slack returning 200 with "ok": false).
	ValidateResponse(statusCode int, body []byte) error
}

// --- Slack Payload Types (Block Kit) ---

// SlackPayload is the top-level structure for Slack Block Kit messages.
type SlackPayload struct {
	Text   string       `json:"text"`   // Fallback text for push notifications
	Blocks []SlackBlock `json:"blocks"` // Rich layout
}

// SlackBlock represents a single block in a Slack Block Kit message.
type SlackBlock struct {
	Type     string       `json:"type"` // "section", "header", "context", "divider"
	Text     *SlackText   `json:"text,omitempty"`
	Fields   []*SlackText `json:"fields,omitempty"`
	Elements []*SlackText `json:"elements,omitempty"`
}

// SlackText is a text composition object for Slack Block Kit.
type SlackText struct {
	Type string `json:"type"` // "plain_text", "mrkdwn"
	Text string `json:"text"`
}

// --- Generic Payload ---

// GenericPayload is the envelope posted to non-Slack endpoints. Receivers
// should rely on Event and AlertID for idempotency.
type GenericPayload struct {
	Event       string                   `json:"event"`
	AlertID     string                   `json:"alert_id"`
	Kind        types.AlertKind          `json:"kind"`
	HighestRisk types.RiskLevel          `json:"highest_risk"`
	CreatedAt   string                   `json:"created_at"`
	Patients    []types.MonitoringResult `json:"patients"`
}
