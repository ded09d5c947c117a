package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Total number of queries slower than the configured threshold",
		},
		[]string{"operation"},
	)

	// 事务耗时（秒），outcome: committed / rolled_back
	TxDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_tx_duration_seconds",
			Help:    "Coordinator transaction duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation", "outcome"},
	)

	// 事务冲突重试计数
	TxRetryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_tx_retry_total",
			Help: "Total number of transaction retries after serialization failures",
		},
		[]string{"operation", "reason"},
	)

	// 自愈计数（悬空引用被自动修正）
	SelfHealCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consistency_self_heal_total",
			Help: "Total number of stale references corrected during writes",
		},
		[]string{"entity", "reason"}, // reason: missing_user, stale_name, unknown_task, moved_task
	)

	// Outbox 发布计数
	OutboxPublishCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_total",
			Help: "Total number of outbox events publish attempts",
		},
		[]string{"routing_key", "status"}, // status: sent, failed, skipped
	)

	// 熔断器状态：0 closed, 1 open, 2 half-open
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state",
		},
		[]string{"name"},
	)
)

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(sql string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(Operation(sql)).Observe(duration.Seconds())
}

// IncrementSlowQuery 增加慢查询计数
func IncrementSlowQuery(sql string) {
	SlowQueryCount.WithLabelValues(Operation(sql)).Inc()
}

// RecordTxDuration 记录事务耗时
func RecordTxDuration(operation, outcome string, duration time.Duration) {
	TxDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

// IncrementTxRetry 增加事务重试计数
func IncrementTxRetry(operation, reason string) {
	TxRetryCount.WithLabelValues(operation, reason).Inc()
}

// IncrementSelfHeal 增加自愈计数
func IncrementSelfHeal(entity, reason string) {
	SelfHealCount.WithLabelValues(entity, reason).Inc()
}

// IncrementOutboxPublish 增加 outbox 发布计数
func IncrementOutboxPublish(routingKey, status string) {
	OutboxPublishCount.WithLabelValues(routingKey, status).Inc()
}

// SetCircuitBreakerState 更新熔断器状态
func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// Operation 取 SQL 的首个关键字作为低基数标签
func Operation(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToLower(fields[0])
}
