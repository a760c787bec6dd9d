// Package queue publishes staff alerts to an SQS queue for downstream
// fan-out (paging, EHR inbox, audit).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"carewatch/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Message attribute names set on every alert.
const (
	AttrHighestRisk = "highest_risk"
	AttrKind        = "kind"
	AttrRequestID   = "request_id"
)

// Message is the body published for each alert.
type Message struct {
	Version int                     `json:"version"`
	Alert   types.AlertNotification `json:"alert"`
	Trigger types.Trigger           `json:"trigger"`
}

const messageVersion = 1

// Publisher implements monitoring.AlertChannel over SQS.
type Publisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewPublisher creates a Publisher targeting queueURL.
func NewPublisher(client SQSSender, queueURL string, logger *slog.Logger) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("sqs publisher: client is nil")
	}
	if queueURL == "" {
		return nil, fmt.Errorf("sqs publisher: queue url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, queueURL: queueURL, logger: logger}, nil
}

// Name returns the channel type.
func (p *Publisher) Name() types.ChannelType {
	return types.ChannelSQS
}

// Send serializes n and sends it as one message. The alert id doubles as
// the FIFO deduplication id when the queue is FIFO. Consumers must still
// treat delivery as at-least-once.
func (p *Publisher) Send(ctx context.Context, n types.AlertNotification) error {
	body, err := json.Marshal(Message{
		Version: messageVersion,
		Alert:   n,
		Trigger: types.GetTrigger(ctx),
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal alert message", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			AttrHighestRisk: stringAttr(string(n.HighestRisk)),
			AttrKind:        stringAttr(string(n.Kind)),
		},
	}
	if id := types.GetRequestID(ctx); id != "" {
		input.MessageAttributes[AttrRequestID] = stringAttr(id)
	}
	if isFIFO(p.queueURL) {
		input.MessageGroupId = aws.String("carewatch-alerts")
		input.MessageDeduplicationId = aws.String(n.ID)
	}

	out, err := p.client.SendMessage(ctx, input)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamNotificationFailed,
			fmt.Sprintf("failed to send alert to %s", p.queueURL), err)
	}

	p.logger.InfoContext(ctx, "alert message published",
		"alert_id", n.ID,
		"message_id", aws.ToString(out.MessageId),
		"results", len(n.Results),
	)
	return nil
}

func stringAttr(v string) sqstypes.MessageAttributeValue {
	return sqstypes.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
}

func isFIFO(queueURL string) bool {
	const suffix = ".fifo"
	return len(queueURL) > len(suffix) && queueURL[len(queueURL)-len(suffix):] == suffix
}
