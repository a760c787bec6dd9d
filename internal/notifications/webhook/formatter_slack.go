package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"carewatch/internal/notifications"
	"carewatch/internal/types"
)

// SlackFormatter formats alerts as Slack Block Kit JSON.
type SlackFormatter struct{}

// Platform returns the platform identifier.
func (f *SlackFormatter) Platform() Platform {
	return PlatformSlack
}

// Format renders a header, one section per patient (capped at
// notifications.MaxListedResults) and a context footer.
func (f *SlackFormatter) Format(n types.AlertNotification) ([]byte, error) {
	if len(n.Results) == 0 {
		return nil, fmt.Errorf("slack formatter: alert %s has no results", n.ID)
	}

	title := notifications.Title(n)
	payload := SlackPayload{
		Text: fmt.Sprintf("[%s] %s", strings.ToUpper(string(n.HighestRisk)), title),
		Blocks: []SlackBlock{
			{
				Type: "header",
				Text: &SlackText{Type: "plain_text", Text: title},
			},
		},
	}

	listed := n.Results
	if len(listed) > notifications.MaxListedResults {
		listed = listed[:notifications.MaxListedResults]
	}
	for _, r := range listed {
		payload.Blocks = append(payload.Blocks, SlackBlock{
			Type: "section",
			Text: &SlackText{Type: "mrkdwn", Text: slackResultText(r)},
		})
	}

	if rest := len(n.Results) - len(listed); rest > 0 {
		payload.Blocks = append(payload.Blocks, SlackBlock{
			Type: "context",
			Elements: []*SlackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("...and %d more patients.", rest)},
			},
		})
	}

	payload.Blocks = append(payload.Blocks, SlackBlock{
		Type: "context",
		Elements: []*SlackText{
			{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*Highest risk*: %s | *Alert*: %s | CareWatch", n.HighestRisk, n.ID),
			},
		},
	})

	return json.Marshal(payload)
}

func slackResultText(r types.MonitoringResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s* `%s`", riskEmoji(r.RiskLevel), notifications.PatientLabel(r), r.RiskLevel)
	for _, msg := range r.ReasonMessages() {
		b.WriteString("\n• ")
		b.WriteString(msg)
	}
	return b.String()
}

func riskEmoji(level types.RiskLevel) string {
	if level == types.RiskCritical {
		return ":red_circle:"
	}
	return ":large_orange_circle:"
}

// ValidateResponse checks for Slack's "soft failure" pattern where the API
// returns HTTP 200 but the body indicates an error.
func (f *SlackFormatter) ValidateResponse(statusCode int, body []byte) error {
	if statusCode < 200 || statusCode >= 300 {
		return fmt.Errorf("slack: unexpected status %d", statusCode)
	}

	bodyStr := strings.TrimSpace(string(body))
	if bodyStr == "ok" || bodyStr == "" {
		return nil
	}

	var resp struct {
		OK    *bool  `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err == nil {
		if resp.OK != nil && !*resp.OK {
			if resp.Error == "" {
				resp.Error = "unknown error"
			}
			return fmt.Errorf("slack: API error: %s", resp.Error)
		}
		return nil
	}

	switch bodyStr {
	case "no_text", "channel_not_found", "channel_is_archived", "invalid_payload", "too_many_attachments", "no_service":
		return fmt.Errorf("slack: API error: %s", bodyStr)
	}
	return nil
}
