package types

// Telemetry metric names shared by the Prometheus and CloudWatch backends.
const (
	MetricRunCompleted       = "MonitoringRunCompleted"
	MetricRunFailed          = "MonitoringRunFailed"
	MetricRunDuration        = "MonitoringRunDuration"
	MetricPatientsMonitored  = "PatientsMonitored"
	MetricPatientsSkipped    = "PatientsSkipped"
	MetricPatientsAtRisk     = "PatientsAtRisk"
	MetricCasesCreated       = "CriticalCasesCreated"
	MetricCaseFailures       = "CriticalCaseFailures"
	MetricAlertDelivered     = "AlertDelivered"
	MetricAlertFailed        = "AlertFailed"
	MetricExternalAPIFailure = "ExternalAPIFailure"

	// Dimension keys
	DimRiskLevel = "RiskLevel"
	DimChannel   = "Channel"
	DimStage     = "Stage"
	DimProvider  = "Provider"
	DimTrigger   = "Trigger"

	MetricNamespace = "CareWatch"
)
