package outbox

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"taskhub/pkg/circuitbreaker"
	"taskhub/pkg/metrics"
	"taskhub/pkg/otel"
)

// EventStore Dispatcher 依赖的事件存储
type EventStore interface {
	GetPendingEvents(ctx context.Context, limit int) ([]*Event, error)
	MarkAsSent(ctx context.Context, eventID int64) error
	MarkAsFailed(ctx context.Context, eventID int64, maxRetries int) error
}

// EventPublisher 事件发布方，*mq.Publisher 实现了它
type EventPublisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// Deduper 多副本部署时避免同一事件被重复投递，*util.Deduper 实现了它
type Deduper interface {
	AcquireOnce(ctx context.Context, scope string, id string) bool
	Release(ctx context.Context, scope string, id string)
}

const dedupScope = "outbox"

// Dispatcher 负责从 outbox 中读取事件并发布到 MQ
type Dispatcher struct {
	store      EventStore
	publisher  EventPublisher
	breaker    *circuitbreaker.CircuitBreaker
	deduper    Deduper
	logger     *zap.Logger
	maxRetries int
	interval   time.Duration
	batchSize  int
}

// NewDispatcher 创建新的 Dispatcher
func NewDispatcher(store EventStore, publisher EventPublisher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:      store,
		publisher:  publisher,
		breaker:    circuitbreaker.New("outbox_publisher", circuitbreaker.DefaultConfig()),
		logger:     logger,
		maxRetries: 5,               // 默认最大重试5次
		interval:   1 * time.Second, // 默认每秒扫描一次
		batchSize:  100,             // 默认每次处理100个事件
	}
}

// WithMaxRetries 设置最大重试次数
func (d *Dispatcher) WithMaxRetries(maxRetries int) *Dispatcher {
	if maxRetries > 0 {
		d.maxRetries = maxRetries
	}
	return d
}

// WithInterval 设置扫描间隔
func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

// WithBatchSize 设置批次大小
func (d *Dispatcher) WithBatchSize(batchSize int) *Dispatcher {
	if batchSize > 0 {
		d.batchSize = batchSize
	}
	return d
}

// WithDeduper 启用基于 Redis 的投递去重
func (d *Dispatcher) WithDeduper(deduper Deduper) *Dispatcher {
	d.deduper = deduper
	return d
}

// WithCircuitBreaker 替换默认熔断器
func (d *Dispatcher) WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) *Dispatcher {
	d.breaker = cb
	return d
}

// Start 启动 Dispatcher，阻塞直到 ctx 取消（调用方在 goroutine 中运行）
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("Starting Outbox Dispatcher",
		zap.Int("max_retries", d.maxRetries),
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize),
		zap.Bool("dedup_enabled", d.deduper != nil),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Outbox Dispatcher stopped")
			return
		case <-ticker.C:
			d.ProcessPendingEvents(ctx)
		}
	}
}

// ProcessPendingEvents 处理一批待发送的事件，返回成功发送的数量
func (d *Dispatcher) ProcessPendingEvents(ctx context.Context) int {
	events, err := d.store.GetPendingEvents(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("Failed to get pending events", zap.Error(err))
		return 0
	}

	if len(events) == 0 {
		return 0
	}

	d.logger.Debug("Processing pending events", zap.Int("count", len(events)))

	// 每批一个父 span，单条消息的 mq.publish span 挂在它下面
	ctx, span := otel.StartSpan(ctx, "outbox.dispatch")
	defer span.End()

	sent := 0
	for _, event := range events {
		if d.dispatch(ctx, event) {
			sent++
		}
	}
	return sent
}

func (d *Dispatcher) dispatch(ctx context.Context, event *Event) bool {
	id := strconv.FormatInt(event.ID, 10)
	if d.deduper != nil && !d.deduper.AcquireOnce(ctx, dedupScope, id) {
		metrics.IncrementOutboxPublish(event.RoutingKey, "skipped")
		return false
	}

	err := d.breaker.Execute(func() error {
		return d.publishEvent(ctx, event)
	})
	if err != nil {
		if d.deduper != nil {
			d.deduper.Release(ctx, dedupScope, id)
		}

		// 熔断打开时不消耗重试次数
		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
			metrics.IncrementOutboxPublish(event.RoutingKey, "skipped")
			return false
		}

		metrics.IncrementOutboxPublish(event.RoutingKey, "failed")
		d.logger.Error("Failed to publish event",
			zap.Int64("event_id", event.ID),
			zap.String("routing_key", event.RoutingKey),
			zap.Error(err),
		)
		if err := d.store.MarkAsFailed(ctx, event.ID, d.maxRetries); err != nil {
			d.logger.Error("Failed to mark event as failed",
				zap.Int64("event_id", event.ID),
				zap.Error(err),
			)
		}
		return false
	}

	metrics.IncrementOutboxPublish(event.RoutingKey, "sent")
	if err := d.store.MarkAsSent(ctx, event.ID); err != nil {
		d.logger.Error("Failed to mark event as sent",
			zap.Int64("event_id", event.ID),
			zap.Error(err),
		)
		return false
	}

	d.logger.Debug("Event published successfully",
		zap.Int64("event_id", event.ID),
		zap.String("routing_key", event.RoutingKey),
	)
	return true
}

// publishEvent 发布单个事件到 MQ，payload 中的 trace_id 随消息头传播
func (d *Dispatcher) publishEvent(ctx context.Context, event *Event) error {
	ctx = extractTraceIDFromPayload(ctx, event.Payload)
	if err := d.publisher.PublishWithContext(ctx, event.RoutingKey, event.Payload); err != nil {
		return fmt.Errorf("failed to publish to MQ: %w", err)
	}
	return nil
}
