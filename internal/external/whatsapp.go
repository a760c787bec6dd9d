package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"carewatch/internal/types"
)

// whatsAppAPIBase is the default Graph API base URL.
const whatsAppAPIBase = "https://graph.facebook.com/v19.0"

// whatsAppUserAgent identifies CareWatch on outbound provider calls.
const whatsAppUserAgent = "CareWatch-Alerts/1.0"

// maxWhatsAppText is the Cloud API limit for a text message body.
const maxWhatsAppText = 4096

// WhatsAppClientConfig holds the configuration for creating a WhatsAppClient.
type WhatsAppClientConfig struct {
	PhoneNumberID string
	Token         string
	BaseURL       string // defaults to whatsAppAPIBase
	Logger        *slog.Logger
	Failures      FailureRecorder
}

// WhatsAppClient sends text messages through the WhatsApp Cloud API.
type WhatsAppClient struct {
	base          *BaseClient
	phoneNumberID string
	token         string
	baseURL       string
	logger        *slog.Logger
}

// NewWhatsAppClient creates a WhatsAppClient with the default retry policy.
func NewWhatsAppClient(httpClient *http.Client, cfg WhatsAppClientConfig) *WhatsAppClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts := []BaseClientOption{WithLogger(logger)}
	if cfg.Failures != nil {
		opts = append(opts, WithFailureRecorder(cfg.Failures, string(types.ChannelWhatsApp)))
	}
	base := NewBaseClient(httpClient, "whatsapp", DefaultRetryPolicy(), whatsAppUserAgent, opts...)
	return NewWhatsAppClientWithBase(base, cfg)
}

// NewWhatsAppClientWithBase creates a WhatsAppClient over a pre-configured
// BaseClient.
func NewWhatsAppClientWithBase(base *BaseClient, cfg WhatsAppClientConfig) *WhatsAppClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = whatsAppAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WhatsAppClient{
		base:          base,
		phoneNumberID: cfg.PhoneNumberID,
		token:         cfg.Token,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		logger:        logger,
	}
}

type whatsAppTextPayload struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             whatsAppText `json:"text"`
}

type whatsAppText struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type whatsAppSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type whatsAppErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendText sends body to the E.164 number to and returns the provider
// message id. Bodies over the API limit are truncated.
//
// Error mapping:
//   - 429 and 5xx: retried by BaseClient, then ErrCodeUpstreamRateLimited / ErrCodeUpstreamUnavailable
//   - other non-2xx: ErrCodeUpstreamNotificationFailed
func (c *WhatsAppClient) SendText(ctx context.Context, to, body string) (string, error) {
	if to == "" {
		return "", types.NewAppError(types.ErrCodeValidationMissingField, "whatsapp recipient is required", nil)
	}
	if len(body) > maxWhatsAppText {
		body = body[:maxWhatsAppText]
	}

	payload, err := json.Marshal(whatsAppTextPayload{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               strings.TrimPrefix(to, "+"),
		Type:             "text",
		Text:             whatsAppText{Body: body},
	})
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal whatsapp payload", err)
	}

	reqURL := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create whatsapp request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.base.Do(req)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return "", err
		}
		return "", types.NewAppError(types.ErrCodeUpstreamNotificationFailed, "whatsapp request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", c.handleErrorResponse(resp)
	}

	var out whatsAppSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || len(out.Messages) == 0 {
		// Delivery was accepted; a missing id only affects correlation.
		c.logger.WarnContext(ctx, "whatsapp response carried no message id", "status", resp.StatusCode)
		return "", nil
	}
	return out.Messages[0].ID, nil
}

func (c *WhatsAppClient) handleErrorResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	msg := strings.TrimSpace(string(raw))
	var waErr whatsAppErrorResponse
	if json.Unmarshal(raw, &waErr) == nil && waErr.Error.Message != "" {
		msg = waErr.Error.Message
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeUpstreamNotificationFailed,
		fmt.Sprintf("whatsapp returned %d: %s", resp.StatusCode, msg),
		nil,
		map[string]any{"status": resp.StatusCode, "provider_code": waErr.Error.Code},
	)
}
