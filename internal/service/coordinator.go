package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	mqcontracts "taskhub/contracts/mq"
	"taskhub/internal/apperr"
	"taskhub/internal/model"
	"taskhub/internal/query"
	"taskhub/pkg/db"
	"taskhub/pkg/logger"
	"taskhub/pkg/metrics"
	"taskhub/pkg/trace"
	"taskhub/pkg/util"
)

const (
	aggregateTask = "task"
	aggregateUser = "user"
)

// Coordinator 唯一负责维护 Task.assignedUser 与 User.pendingTasks 之间的双向引用。
// 每个写操作在一个事务内同时修改两侧，任何一步失败整体回滚。
type Coordinator struct {
	tasks  TaskStore
	users  UserStore
	events EventRecorder
	tx     TxManager
	logger *zap.Logger
	now    func() time.Time
}

func NewCoordinator(tasks TaskStore, users UserStore, events EventRecorder, tx TxManager, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		tasks:  tasks,
		users:  users,
		events: events,
		tx:     tx,
		logger: logger,
		now:    time.Now,
	}
}

// run 在事务中执行 fn，并把底层冲突/超时转换为 Transient
func (c *Coordinator) run(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	err := c.tx.WithinTx(ctx, operation, fn)
	if err == nil {
		return nil
	}

	if apperr.KindOf(err) != apperr.KindInternal {
		return err
	}

	retryable, reason := util.IsRetryableError(err)
	if retryable || errors.Is(err, db.ErrRetriesExhausted) {
		logger.WithTrace(ctx, c.logger).Warn("Transaction gave up",
			zap.String("operation", operation),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return apperr.Transient("Service temporarily unavailable, please retry", err)
	}
	return err
}

func (c *Coordinator) selfHeal(ctx context.Context, entity, reason string, fields ...zap.Field) {
	metrics.IncrementSelfHeal(entity, reason)
	logger.WithTrace(ctx, c.logger).Info("Stale reference corrected",
		append([]zap.Field{zap.String("entity", entity), zap.String("reason", reason)}, fields...)...,
	)
}

func (c *Coordinator) recordTask(ctx context.Context, routingKey string, t *model.Task, prevAssignee string, healed bool) error {
	payload := mqcontracts.TaskEventPayload{
		Task:             taskSnapshot(t),
		PreviousAssignee: prevAssignee,
		SelfHealed:       healed,
		OccurredAt:       c.now().UTC(),
		TraceID:          trace.FromContext(ctx),
	}
	return c.events.Record(ctx, aggregateTask, t.ID, routingKey, payload)
}

func (c *Coordinator) recordUser(ctx context.Context, routingKey string, u *model.User, assigned, unassigned []string) error {
	payload := mqcontracts.UserEventPayload{
		User:            userSnapshot(u),
		AssignedTasks:   assigned,
		UnassignedTasks: unassigned,
		OccurredAt:      c.now().UTC(),
		TraceID:         trace.FromContext(ctx),
	}
	return c.events.Record(ctx, aggregateUser, u.ID, routingKey, payload)
}

func taskSnapshot(t *model.Task) mqcontracts.TaskSnapshot {
	return mqcontracts.TaskSnapshot{
		ID:               t.ID,
		Name:             t.Name,
		Description:      t.Description,
		Deadline:         t.Deadline,
		Completed:        t.Completed,
		AssignedUser:     t.AssignedUser,
		AssignedUserName: t.AssignedUserName,
		DateCreated:      t.DateCreated,
	}
}

func userSnapshot(u *model.User) mqcontracts.UserSnapshot {
	pending := append([]string{}, u.PendingTasks...)
	return mqcontracts.UserSnapshot{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		PendingTasks: pending,
		DateCreated:  u.DateCreated,
	}
}

// ListTasks / CountTasks / GetTask 等读操作直接访问存储，不开启事务

func (c *Coordinator) ListTasks(ctx context.Context, d query.Descriptor) ([]model.Document, error) {
	if d.Invalid {
		return nil, apperr.InvalidQuery("Invalid JSON in query params", d.Err)
	}
	return c.tasks.List(ctx, d)
}

func (c *Coordinator) CountTasks(ctx context.Context, d query.Descriptor) (int64, error) {
	if d.Invalid {
		return 0, apperr.InvalidQuery("Invalid JSON in query params", d.Err)
	}
	return c.tasks.Count(ctx, d.Filter)
}

func (c *Coordinator) GetTask(ctx context.Context, id string, p *query.Projection) (model.Document, error) {
	return c.tasks.Get(ctx, id, p)
}

func (c *Coordinator) ListUsers(ctx context.Context, d query.Descriptor) ([]model.Document, error) {
	if d.Invalid {
		return nil, apperr.InvalidQuery("Invalid JSON in query params", d.Err)
	}
	return c.users.List(ctx, d)
}

func (c *Coordinator) CountUsers(ctx context.Context, d query.Descriptor) (int64, error) {
	if d.Invalid {
		return 0, apperr.InvalidQuery("Invalid JSON in query params", d.Err)
	}
	return c.users.Count(ctx, d.Filter)
}

func (c *Coordinator) GetUser(ctx context.Context, id string, p *query.Projection) (model.Document, error) {
	return c.users.Get(ctx, id, p)
}
