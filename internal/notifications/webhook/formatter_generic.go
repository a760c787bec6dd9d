package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"carewatch/internal/types"
)

// EventPatientRisk is the event name carried by generic payloads.
const EventPatientRisk = "carewatch.patient_risk"

// GenericFormatter posts the alert as a stable JSON contract for downstream
// consumers (paging tools, EHR integrations).
type GenericFormatter struct{}

// Platform returns the platform identifier.
func (f *GenericFormatter) Platform() Platform {
	return PlatformGeneric
}

// Format transforms an alert into the generic envelope.
func (f *GenericFormatter) Format(n types.AlertNotification) ([]byte, error) {
	if len(n.Results) == 0 {
		return nil, fmt.Errorf("generic formatter: alert %s has no results", n.ID)
	}
	return json.Marshal(GenericPayload{
		Event:       EventPatientRisk,
		AlertID:     n.ID,
		Kind:        n.Kind,
		HighestRisk: n.HighestRisk,
		CreatedAt:   n.CreatedAt.UTC().Format(time.RFC3339),
		Patients:    n.Results,
	})
}

// ValidateResponse accepts any 2xx.
func (f *GenericFormatter) ValidateResponse(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	return fmt.Errorf("generic webhook: unexpected status %d: %s", statusCode, truncateBody(body))
}

// truncateBody limits a response body for logs and error messages.
func truncateBody(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
