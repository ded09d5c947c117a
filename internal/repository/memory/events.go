package memory

import (
	"context"
	"fmt"
	"time"

	"taskhub/pkg/outbox"
)

// Record 在当前事务中记录 outbox 事件，语义同 outbox.Repository.Record
func (s *Store) Record(ctx context.Context, aggregateType, aggregateID, routingKey string, payload interface{}) error {
	if !s.inTx(ctx) {
		return fmt.Errorf("outbox: %s must be recorded inside a transaction", routingKey)
	}

	event, err := outbox.NewEvent(aggregateType, aggregateID, routingKey, payload)
	if err != nil {
		return err
	}
	s.nextEventID++
	event.ID = s.nextEventID
	event.CreatedAt = s.now().UTC()
	event.UpdatedAt = event.CreatedAt
	s.events = append(s.events, event)
	return nil
}

// Events 返回全部事件的副本，按写入顺序
func (s *Store) Events() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbox.Event, len(s.events))
	for i, e := range s.events {
		out[i] = *e
	}
	return out
}

func (s *Store) GetPendingEvents(ctx context.Context, limit int) ([]*outbox.Event, error) {
	defer s.lock(ctx)()
	now := s.now()
	var out []*outbox.Event
	for _, e := range s.events {
		if len(out) >= limit {
			break
		}
		if e.Status == outbox.StatusPending && (e.NextRetryAt == nil || !e.NextRetryAt.After(now)) {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) GetFailedEvents(ctx context.Context, limit int) ([]*outbox.Event, error) {
	defer s.lock(ctx)()
	var out []*outbox.Event
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if e := s.events[i]; e.Status == outbox.StatusFailed {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) GetEventByID(ctx context.Context, eventID int64) (*outbox.Event, error) {
	defer s.lock(ctx)()
	e := s.findEvent(eventID)
	if e == nil {
		return nil, fmt.Errorf("%w: %d", outbox.ErrEventNotFound, eventID)
	}
	c := *e
	return &c, nil
}

func (s *Store) MarkAsSent(ctx context.Context, eventID int64) error {
	defer s.lock(ctx)()
	// 已发送的事件不再需要，直接移除
	for i, e := range s.events {
		if e.ID == eventID {
			s.events = append(s.events[:i], s.events[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) MarkAsFailed(ctx context.Context, eventID int64, maxRetries int) error {
	defer s.lock(ctx)()
	e := s.findEvent(eventID)
	if e == nil {
		return nil
	}
	e.RetryCount++
	e.UpdatedAt = s.now().UTC()
	if e.RetryCount >= maxRetries {
		e.Status = outbox.StatusFailed
		e.NextRetryAt = nil
		return nil
	}
	next := e.UpdatedAt.Add(time.Duration(e.RetryCount) * 5 * time.Second)
	e.NextRetryAt = &next
	return nil
}

func (s *Store) findEvent(id int64) *outbox.Event {
	for _, e := range s.events {
		if e.ID == id {
			return e
		}
	}
	return nil
}
