package outbox

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ReplayStore ReplayService 依赖的事件存储
type ReplayStore interface {
	GetEventByID(ctx context.Context, eventID int64) (*Event, error)
	GetFailedEvents(ctx context.Context, limit int) ([]*Event, error)
	MarkAsSent(ctx context.Context, eventID int64) error
	MarkAsFailed(ctx context.Context, eventID int64, maxRetries int) error
}

// ReplayService 提供重放 Outbox 事件的服务
type ReplayService struct {
	store      ReplayStore
	publisher  EventPublisher
	logger     *zap.Logger
	maxRetries int
}

// NewReplayService 创建新的 ReplayService，publisher 为 nil 时重放直接失败
func NewReplayService(store ReplayStore, publisher EventPublisher, logger *zap.Logger, maxRetries int) *ReplayService {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &ReplayService{
		store:      store,
		publisher:  publisher,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// ErrPublisherUnavailable MQ 未启用
var ErrPublisherUnavailable = errors.New("outbox: publisher unavailable")

// ListFailed 列出失败的事件
func (s *ReplayService) ListFailed(ctx context.Context, limit int) ([]*Event, error) {
	events, err := s.store.GetFailedEvents(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed events: %w", err)
	}
	if events == nil {
		events = []*Event{}
	}
	return events, nil
}

// ReplayEvent 重放指定的事件
func (s *ReplayService) ReplayEvent(ctx context.Context, eventID int64) error {
	if s.publisher == nil {
		return ErrPublisherUnavailable
	}

	event, err := s.store.GetEventByID(ctx, eventID)
	if err != nil {
		return fmt.Errorf("failed to get event: %w", err)
	}

	ctx = extractTraceIDFromPayload(ctx, event.Payload)
	if err := s.publisher.PublishWithContext(ctx, event.RoutingKey, event.Payload); err != nil {
		if markErr := s.store.MarkAsFailed(ctx, eventID, s.maxRetries); markErr != nil {
			return fmt.Errorf("failed to publish and mark as failed: %w (mark error: %v)", err, markErr)
		}
		return fmt.Errorf("failed to publish: %w", err)
	}

	if err := s.store.MarkAsSent(ctx, eventID); err != nil {
		return fmt.Errorf("failed to mark as sent: %w", err)
	}

	return nil
}

// ReplayFailedEvents 重放所有失败的事件，返回成功数量
func (s *ReplayService) ReplayFailedEvents(ctx context.Context, limit int) (int, error) {
	if s.publisher == nil {
		return 0, ErrPublisherUnavailable
	}

	events, err := s.store.GetFailedEvents(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to get failed events: %w", err)
	}

	successCount := 0
	for _, event := range events {
		if err := s.ReplayEvent(ctx, event.ID); err != nil {
			// 记录错误但继续处理其他事件
			s.logger.Warn("Replay failed",
				zap.Int64("event_id", event.ID),
				zap.String("routing_key", event.RoutingKey),
				zap.Error(err),
			)
			continue
		}
		successCount++
	}

	return successCount, nil
}
