package service

import (
	"context"

	"taskhub/internal/model"
	"taskhub/internal/query"
)

// TaskStore 任务存储；不包含任何关系维护逻辑
type TaskStore interface {
	List(ctx context.Context, d query.Descriptor) ([]model.Document, error)
	Count(ctx context.Context, f query.Filter) (int64, error)
	Get(ctx context.Context, id string, p *query.Projection) (model.Document, error)
	FindByID(ctx context.Context, id string) (*model.Task, error)
	FindByIDs(ctx context.Context, ids []string) ([]*model.Task, error)
	Insert(ctx context.Context, t *model.Task) error
	Update(ctx context.Context, t *model.Task) error
	Delete(ctx context.Context, id string) error
	AssignMany(ctx context.Context, ids []string, userID, userName string) (int64, error)
	UnassignUser(ctx context.Context, userID string, keep []string) ([]string, error)
}

// UserStore 用户存储
type UserStore interface {
	List(ctx context.Context, d query.Descriptor) ([]model.Document, error)
	Count(ctx context.Context, f query.Filter) (int64, error)
	Get(ctx context.Context, id string, p *query.Projection) (model.Document, error)
	FindByID(ctx context.Context, id string) (*model.User, error)
	Insert(ctx context.Context, u *model.User) error
	Update(ctx context.Context, u *model.User) error
	Delete(ctx context.Context, id string) error
	AddPendingTask(ctx context.Context, userID, taskID string) error
	RemovePendingTask(ctx context.Context, userID, taskID string) error
	SetPendingTasks(ctx context.Context, userID string, taskIDs []string) error
	PullTasks(ctx context.Context, taskIDs []string, exceptUserID string) ([]string, error)
}

// EventRecorder 在当前事务中写入 outbox
type EventRecorder interface {
	Record(ctx context.Context, aggregateType, aggregateID, routingKey string, payload interface{}) error
}

// TxManager 事务边界；*db.TxManager 与 *memory.Store 实现了它
type TxManager interface {
	WithinTx(ctx context.Context, operation string, fn func(ctx context.Context) error) error
}
