package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"taskhub/internal/model"
	"taskhub/internal/query"
	"taskhub/pkg/db"
)

var taskColumns = []string{
	"id", "name", "description", "deadline", "completed",
	"assigned_user", "assigned_user_name", "date_created",
}

const taskSelect = `
        SELECT id, name, description, deadline, completed,
               assigned_user, assigned_user_name, date_created
        FROM tasks
    `

type TaskRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewTaskRepository(db *pgxpool.Pool, logger *zap.Logger) *TaskRepository {
	return &TaskRepository{db: db, logger: logger}
}

func scanTask(row pgx.Row) (*model.Task, error) {
	var t model.Task
	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.Description,
		&t.Deadline,
		&t.Completed,
		&t.AssignedUser,
		&t.AssignedUserName,
		&t.DateCreated,
	)
	if err != nil {
		return nil, err
	}
	t.Deadline = t.Deadline.UTC()
	t.DateCreated = t.DateCreated.UTC()
	return &t, nil
}

// List 按查询描述返回任务文档（已投影）
func (r *TaskRepository) List(ctx context.Context, d query.Descriptor) ([]model.Document, error) {
	sql, args, err := query.SelectList("tasks", taskColumns, d)
	if err != nil {
		return nil, fmt.Errorf("failed to build task query: %w", err)
	}
	r.logger.Debug("Listing tasks", zap.String("sql", sql), zap.Int("args", len(args)))

	rows, err := db.Conn(ctx, r.db).Query(ctx, sql, args...)
	if err != nil {
		r.logger.Error("Failed to query tasks", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	docs := []model.Document{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			r.logger.Error("Failed to scan task row", zap.Error(err))
			return nil, err
		}
		docs = append(docs, d.Projection.Apply(t.Document()))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	r.logger.Debug("Tasks listed", zap.Int("count", len(docs)))
	return docs, nil
}

// Count 统计满足过滤条件的任务数，不受 skip/limit 影响
func (r *TaskRepository) Count(ctx context.Context, f query.Filter) (int64, error) {
	sql, args, err := query.SelectCount("tasks", f)
	if err != nil {
		return 0, fmt.Errorf("failed to build task count: %w", err)
	}

	var n int64
	if err := db.Conn(ctx, r.db).QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		r.logger.Error("Failed to count tasks", zap.Error(err))
		return 0, err
	}
	return n, nil
}

// Get 读取单个任务并投影
func (r *TaskRepository) Get(ctx context.Context, id string, p *query.Projection) (model.Document, error) {
	t, err := scanTask(db.Conn(ctx, r.db).QueryRow(ctx, taskSelect+" WHERE id = $1", id))
	if err != nil {
		return nil, translate(err, ErrTaskNotFound)
	}
	return p.Apply(t.Document()), nil
}

// FindByID 在事务中会锁定该行
func (r *TaskRepository) FindByID(ctx context.Context, id string) (*model.Task, error) {
	sql := taskSelect + " WHERE id = $1"
	if db.InTx(ctx) {
		sql += " FOR UPDATE"
	}

	t, err := scanTask(db.Conn(ctx, r.db).QueryRow(ctx, sql, id))
	if err != nil {
		return nil, translate(err, ErrTaskNotFound)
	}
	return t, nil
}

// FindByIDs 返回存在的任务，不存在的 id 被忽略
func (r *TaskRepository) FindByIDs(ctx context.Context, ids []string) ([]*model.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	sql := taskSelect + " WHERE id = ANY($1::text[]) ORDER BY date_created ASC, id ASC"
	if db.InTx(ctx) {
		sql += " FOR UPDATE"
	}

	rows, err := db.Conn(ctx, r.db).Query(ctx, sql, ids)
	if err != nil {
		r.logger.Error("Failed to query tasks by ids", zap.Error(err), zap.Int("ids", len(ids)))
		return nil, err
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *TaskRepository) Insert(ctx context.Context, t *model.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	t.ID = uuid.NewString()

	r.logger.Debug("Inserting task",
		zap.String("task_id", t.ID),
		zap.String("name", t.Name),
		zap.String("assigned_user", t.AssignedUser),
	)
	stmt := `
        INSERT INTO tasks (id, name, description, deadline, completed, assigned_user, assigned_user_name)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING date_created
    `
	err := db.Conn(ctx, r.db).QueryRow(ctx, stmt,
		t.ID,
		t.Name,
		t.Description,
		t.Deadline,
		t.Completed,
		t.AssignedUser,
		t.AssignedUserName,
	).Scan(&t.DateCreated)
	if err != nil {
		r.logger.Error("Failed to insert task", zap.Error(err), zap.String("task_id", t.ID))
		return translate(err, ErrTaskNotFound)
	}
	t.DateCreated = t.DateCreated.UTC()

	r.logger.Info("Task inserted successfully", zap.String("task_id", t.ID))
	return nil
}

func (r *TaskRepository) Update(ctx context.Context, t *model.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}

	stmt := `
        UPDATE tasks
        SET name = $2, description = $3, deadline = $4, completed = $5,
            assigned_user = $6, assigned_user_name = $7
        WHERE id = $1
    `
	result, err := db.Conn(ctx, r.db).Exec(ctx, stmt,
		t.ID,
		t.Name,
		t.Description,
		t.Deadline,
		t.Completed,
		t.AssignedUser,
		t.AssignedUserName,
	)
	if err != nil {
		r.logger.Error("Failed to update task", zap.Error(err), zap.String("task_id", t.ID))
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTaskNotFound
	}

	r.logger.Info("Task updated", zap.String("task_id", t.ID))
	return nil
}

func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	result, err := db.Conn(ctx, r.db).Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		r.logger.Error("Failed to delete task", zap.Error(err), zap.String("task_id", id))
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTaskNotFound
	}

	r.logger.Info("Task deleted", zap.String("task_id", id))
	return nil
}

// AssignMany 把任务分配给用户，返回实际变化的行数
func (r *TaskRepository) AssignMany(ctx context.Context, ids []string, userID, userName string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	stmt := `
        UPDATE tasks
        SET assigned_user = $2, assigned_user_name = $3
        WHERE id = ANY($1::text[])
        AND (assigned_user <> $2 OR assigned_user_name <> $3)
    `
	result, err := db.Conn(ctx, r.db).Exec(ctx, stmt, ids, userID, userName)
	if err != nil {
		r.logger.Error("Failed to assign tasks", zap.Error(err), zap.String("user_id", userID))
		return 0, err
	}

	r.logger.Info("Tasks assigned",
		zap.String("user_id", userID),
		zap.Int64("rows_affected", result.RowsAffected()),
	)
	return result.RowsAffected(), nil
}

// UnassignUser 清除指向 userID 但不在 keep 中的任务分配，返回被清除的任务 id
func (r *TaskRepository) UnassignUser(ctx context.Context, userID string, keep []string) ([]string, error) {
	stmt := `
        UPDATE tasks
        SET assigned_user = '', assigned_user_name = 'unassigned'
        WHERE assigned_user = $1
        AND NOT (id = ANY($2::text[]))
        RETURNING id
    `
	rows, err := db.Conn(ctx, r.db).Query(ctx, stmt, userID, nonNil(keep))
	if err != nil {
		r.logger.Error("Failed to unassign tasks", zap.Error(err), zap.String("user_id", userID))
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) > 0 {
		r.logger.Info("Tasks unassigned", zap.String("user_id", userID), zap.Int("count", len(ids)))
	}
	return ids, nil
}
