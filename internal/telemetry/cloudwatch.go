package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"carewatch/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatch pushes run and delivery metrics to AWS CloudWatch.
//
// Metrics emitted:
//   - MonitoringRunCompleted, MonitoringRunDuration: Dims {Trigger}
//   - PatientsMonitored, PatientsSkipped, CriticalCasesCreated, CriticalCaseFailures
//   - PatientsAtRisk: Dims {RiskLevel}
//   - MonitoringRunFailed: Dims {Stage}
//   - AlertDelivered / AlertFailed: Dims {Channel}
//   - ExternalAPIFailure: Dims {Provider}
//
// Publish failures are logged and never returned.
type CloudWatch struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatch creates a CloudWatch publisher. An empty namespace uses
// types.MetricNamespace.
func NewCloudWatch(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatch {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatch{client: client, namespace: namespace, logger: logger}
}

func count(name string, v int, dims ...cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(float64(v)),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims,
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

// RunCompleted emits the run counters in one PutMetricData call.
func (c *CloudWatch) RunCompleted(ctx context.Context, s *types.RunSummary, d time.Duration) {
	trigger := dim(types.DimTrigger, string(types.GetTrigger(ctx)))
	data := []cwtypes.MetricDatum{
		count(types.MetricRunCompleted, 1, trigger),
		{
			MetricName: aws.String(types.MetricRunDuration),
			Value:      aws.Float64(float64(d.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: []cwtypes.Dimension{trigger},
		},
		count(types.MetricPatientsMonitored, s.Monitored),
		count(types.MetricPatientsSkipped, s.Skipped),
		count(types.MetricPatientsAtRisk, s.High, dim(types.DimRiskLevel, string(types.RiskHigh))),
		count(types.MetricPatientsAtRisk, s.Critical, dim(types.DimRiskLevel, string(types.RiskCritical))),
		count(types.MetricCasesCreated, s.CasesCreated),
		count(types.MetricCaseFailures, s.CaseFailures),
	}
	c.put(ctx, data, "run_completed")
}

// RunFailed emits MonitoringRunFailed with the failing stage.
func (c *CloudWatch) RunFailed(ctx context.Context, stage types.RunState) {
	c.put(ctx, []cwtypes.MetricDatum{
		count(types.MetricRunFailed, 1, dim(types.DimStage, string(stage))),
	}, "run_failed")
}

// AlertSent emits AlertDelivered or AlertFailed for the channel.
func (c *CloudWatch) AlertSent(channel types.ChannelType, ok bool) {
	name := types.MetricAlertDelivered
	if !ok {
		name = types.MetricAlertFailed
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.put(ctx, []cwtypes.MetricDatum{
		count(name, 1, dim(types.DimChannel, string(channel))),
	}, "alert_sent")
}

// ExternalAPIFailure emits ExternalAPIFailure for the provider.
func (c *CloudWatch) ExternalAPIFailure(provider string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.put(ctx, []cwtypes.MetricDatum{
		count(types.MetricExternalAPIFailure, 1, dim(types.DimProvider, provider)),
	}, "external_api_failure")
}

func (c *CloudWatch) put(ctx context.Context, data []cwtypes.MetricDatum, what string) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(c.namespace),
		MetricData: data,
	}
	if _, err := c.client.PutMetricData(ctx, input); err != nil {
		c.logger.ErrorContext(ctx, "failed to publish metrics",
			"metric", what,
			"error", err,
		)
	}
}
