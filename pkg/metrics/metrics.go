package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 生命周期操作计数
	LifecycleOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_operations_total",
			Help: "Plan and milestone lifecycle operations by outcome",
		},
		[]string{"operation", "outcome"}, // outcome: ok, already_done, <error kind>
	)

	// 托管资金流转金额
	EscrowAmount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_amount_total",
			Help: "Money moved through escrow",
		},
		[]string{"direction"}, // held, released, platform_fee
	)

	// 审批 saga 步骤失败计数
	ApprovalStepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_step_failures_total",
			Help: "Milestone approval saga step failures",
		},
		[]string{"step"},
	)

	// Outbox 发布计数
	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Outbox events published to the bus",
		},
		[]string{"routing_key", "status"},
	)

	// 通知推送计数
	NotificationPush = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_push_total",
			Help: "Real-time notification pushes",
		},
		[]string{"status"}, // sent, failed, skipped
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Database queries slower than the configured threshold",
		},
		[]string{"statement"},
	)
)

// RecordOperation 记录生命周期操作结果
func RecordOperation(operation, outcome string) {
	LifecycleOperations.WithLabelValues(operation, outcome).Inc()
}

// AddEscrowAmount 记录托管金额
func AddEscrowAmount(direction string, amount float64) {
	EscrowAmount.WithLabelValues(direction).Add(amount)
}

// IncrementApprovalStepFailure 增加审批步骤失败计数
func IncrementApprovalStepFailure(step string) {
	ApprovalStepFailures.WithLabelValues(step).Inc()
}

// IncrementOutboxPublished 增加 outbox 发布计数
func IncrementOutboxPublished(routingKey, status string) {
	OutboxPublished.WithLabelValues(routingKey, status).Inc()
}

// IncrementNotificationPush 增加推送计数
func IncrementNotificationPush(status string) {
	NotificationPush.WithLabelValues(status).Inc()
}

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementSlowQuery 增加慢查询计数
func IncrementSlowQuery(statement string, _ time.Duration) {
	SlowQueryCount.WithLabelValues(statement).Inc()
}
