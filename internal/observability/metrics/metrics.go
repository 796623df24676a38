package metrics

import (
	"database/sql"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "gearshare_"

	resultSuccess = "success"
	resultError   = "error"
	resultSkipped = "skipped"
)

var (
	registerOnce sync.Once

	consumerLag        *prometheus.GaugeVec
	duplicateDelivered *prometheus.CounterVec

	outboxDispatchTotal   *prometheus.CounterVec
	outboxDispatchLatency prometheus.Histogram
	outboxRecords         *prometheus.CounterVec

	operationTotal   *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec

	externalCallTotal   *prometheus.CounterVec
	externalCallLatency *prometheus.HistogramVec

	reconciliationTotal *prometheus.CounterVec
	notificationTotal   *prometheus.CounterVec
	webhookTotal        *prometheus.CounterVec
	relayTotal          *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	statementExportTotal   *prometheus.CounterVec
	statementExportLatency *prometheus.HistogramVec
)

// Init registers metrics and DB-backed gauges. Calls after the first are no-ops.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		consumerLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "event_consumer_lag_seconds",
				Help: "Consumer processing lag in seconds",
			},
			[]string{"consumer"},
		)

		outboxDispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_dispatch_total",
				Help: "Outbox dispatch runs by result",
			},
			[]string{"result"},
		)
		outboxDispatchLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "outbox_dispatch_latency_seconds",
				Help:    "Outbox dispatch run latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)
		outboxRecords = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_records_total",
				Help: "Outbox records by outcome",
			},
			[]string{"outcome"},
		)

		operationTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "booking_operations_total",
				Help: "Booking operations by name and result",
			},
			[]string{"operation", "result"},
		)
		operationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "booking_operation_latency_seconds",
				Help:    "Booking operation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		)

		externalCallTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "external_calls_total",
				Help: "External service calls by service, operation and result",
			},
			[]string{"service", "operation", "result"},
		)
		externalCallLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "external_call_latency_seconds",
				Help:    "External service call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "operation"},
		)

		duplicateDelivered = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "consumer_duplicates_total",
				Help: "Redelivered events skipped by a consumer",
			},
			[]string{"consumer"},
		)
		reconciliationTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconciliation_required_total",
				Help: "Money movements that succeeded without a persisted record",
			},
			[]string{"operation"},
		)
		notificationTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Notifications by kind and result",
			},
			[]string{"kind", "result"},
		)
		webhookTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "webhooks_total",
				Help: "Payment provider webhooks by type and result",
			},
			[]string{"type", "result"},
		)
		relayTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "event_relay_total",
				Help: "Events relayed to the message broker by result",
			},
			[]string{"result"},
		)

		httpRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "HTTP requests by method and status",
			},
			[]string{"method", "status"},
		)
		httpLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_request_latency_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		)

		statementExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "statement_export_total",
				Help: "Total statement export operations by format and result",
			},
			[]string{"format", "result"},
		)
		statementExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "statement_export_latency_seconds",
				Help:    "Statement export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			consumerLag,
			duplicateDelivered,
			outboxDispatchTotal,
			outboxDispatchLatency,
			outboxRecords,
			operationTotal,
			operationLatency,
			externalCallTotal,
			externalCallLatency,
			reconciliationTotal,
			notificationTotal,
			webhookTotal,
			relayTotal,
			httpRequests,
			httpLatency,
			statementExportTotal,
			statementExportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveConsumerLag sets consumer lag in seconds.
func ObserveConsumerLag(consumer string, lag time.Duration) {
	if consumer == "" {
		consumer = "unknown"
	}
	if lag < 0 {
		lag = 0
	}
	if consumerLag != nil {
		consumerLag.WithLabelValues(consumer).Set(lag.Seconds())
	}
}

// IncDuplicateDelivery counts an event a consumer had already handled.
func IncDuplicateDelivery(consumer string) {
	if duplicateDelivered != nil {
		duplicateDelivered.WithLabelValues(consumer).Inc()
	}
}

// ObserveOutboxDispatch records one dispatch run.
func ObserveOutboxDispatch(result string, duration time.Duration, sent, failed, dlq int) {
	if result == "" {
		result = resultSuccess
	}
	if outboxDispatchTotal != nil {
		outboxDispatchTotal.WithLabelValues(result).Inc()
	}
	if outboxDispatchLatency != nil {
		outboxDispatchLatency.Observe(duration.Seconds())
	}
	if outboxRecords != nil {
		outboxRecords.WithLabelValues("sent").Add(float64(sent))
		outboxRecords.WithLabelValues("failed").Add(float64(failed))
		outboxRecords.WithLabelValues("dlq").Add(float64(dlq))
	}
}

// ObserveOperation records a booking operation outcome.
func ObserveOperation(operation, result string, duration time.Duration) {
	if operation == "" {
		operation = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if operationTotal != nil {
		operationTotal.WithLabelValues(operation, result).Inc()
	}
	if operationLatency != nil {
		operationLatency.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

// ObserveExternalCall records a call to a payment or email provider.
func ObserveExternalCall(service, operation, result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if externalCallTotal != nil {
		externalCallTotal.WithLabelValues(service, operation, result).Inc()
	}
	if externalCallLatency != nil {
		externalCallLatency.WithLabelValues(service, operation).Observe(duration.Seconds())
	}
}

// IncReconciliationRequired counts money movements needing manual repair.
func IncReconciliationRequired(operation string) {
	if reconciliationTotal != nil {
		reconciliationTotal.WithLabelValues(operation).Inc()
	}
}

// IncNotification counts a notification attempt.
func IncNotification(kind, result string) {
	if kind == "" {
		kind = "unknown"
	}
	if notificationTotal != nil {
		notificationTotal.WithLabelValues(kind, result).Inc()
	}
}

// IncWebhook counts a payment provider webhook.
func IncWebhook(eventType, result string) {
	if eventType == "" {
		eventType = "unknown"
	}
	if webhookTotal != nil {
		webhookTotal.WithLabelValues(eventType, result).Inc()
	}
}

// IncRelay counts a broker publish.
func IncRelay(result string) {
	if relayTotal != nil {
		relayTotal.WithLabelValues(result).Inc()
	}
}

// ObserveHTTPRequest records an HTTP request.
func ObserveHTTPRequest(method string, status int, duration time.Duration) {
	if httpRequests != nil {
		httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	}
	if httpLatency != nil {
		httpLatency.WithLabelValues(method).Observe(duration.Seconds())
	}
}

// ObserveStatementExport records export latency and result.
func ObserveStatementExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if statementExportTotal != nil {
		statementExportTotal.WithLabelValues(format, result).Inc()
	}
	if statementExportLatency != nil {
		statementExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultSkipped = resultSkipped
)
