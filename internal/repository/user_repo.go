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

var userColumns = []string{"id", "name", "email", "pending_tasks", "date_created"}

const userSelect = `
        SELECT id, name, email, pending_tasks, date_created
        FROM users
    `

type UserRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewUserRepository(db *pgxpool.Pool, logger *zap.Logger) *UserRepository {
	return &UserRepository{db: db, logger: logger}
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PendingTasks, &u.DateCreated); err != nil {
		return nil, err
	}
	if u.PendingTasks == nil {
		u.PendingTasks = []string{}
	}
	u.DateCreated = u.DateCreated.UTC()
	return &u, nil
}

// List 按查询描述返回用户文档（已投影），没有默认 limit
func (r *UserRepository) List(ctx context.Context, d query.Descriptor) ([]model.Document, error) {
	sql, args, err := query.SelectList("users", userColumns, d)
	if err != nil {
		return nil, fmt.Errorf("failed to build user query: %w", err)
	}
	r.logger.Debug("Listing users", zap.String("sql", sql), zap.Int("args", len(args)))

	rows, err := db.Conn(ctx, r.db).Query(ctx, sql, args...)
	if err != nil {
		r.logger.Error("Failed to query users", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	docs := []model.Document{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			r.logger.Error("Failed to scan user row", zap.Error(err))
			return nil, err
		}
		docs = append(docs, d.Projection.Apply(u.Document()))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *UserRepository) Count(ctx context.Context, f query.Filter) (int64, error) {
	sql, args, err := query.SelectCount("users", f)
	if err != nil {
		return 0, fmt.Errorf("failed to build user count: %w", err)
	}

	var n int64
	if err := db.Conn(ctx, r.db).QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		r.logger.Error("Failed to count users", zap.Error(err))
		return 0, err
	}
	return n, nil
}

func (r *UserRepository) Get(ctx context.Context, id string, p *query.Projection) (model.Document, error) {
	u, err := scanUser(db.Conn(ctx, r.db).QueryRow(ctx, userSelect+" WHERE id = $1", id))
	if err != nil {
		return nil, translate(err, ErrUserNotFound)
	}
	return p.Apply(u.Document()), nil
}

// FindByID 在事务中会锁定该行
func (r *UserRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	sql := userSelect + " WHERE id = $1"
	if db.InTx(ctx) {
		sql += " FOR UPDATE"
	}

	u, err := scanUser(db.Conn(ctx, r.db).QueryRow(ctx, sql, id))
	if err != nil {
		return nil, translate(err, ErrUserNotFound)
	}
	return u, nil
}

// Insert 邮箱冲突时返回 DuplicateKey
func (r *UserRepository) Insert(ctx context.Context, u *model.User) error {
	u.Email = model.NormalizeEmail(u.Email)
	if err := u.Validate(); err != nil {
		return err
	}
	u.ID = uuid.NewString()
	u.PendingTasks = model.DedupeIDs(u.PendingTasks)

	r.logger.Debug("Inserting user", zap.String("user_id", u.ID), zap.String("email", u.Email))
	stmt := `
        INSERT INTO users (id, name, email, pending_tasks)
        VALUES ($1, $2, $3, $4::text[])
        RETURNING date_created
    `
	err := db.Conn(ctx, r.db).QueryRow(ctx, stmt, u.ID, u.Name, u.Email, u.PendingTasks).Scan(&u.DateCreated)
	if err != nil {
		r.logger.Error("Failed to insert user", zap.Error(err), zap.String("email", u.Email))
		return translate(err, ErrUserNotFound)
	}
	u.DateCreated = u.DateCreated.UTC()

	r.logger.Info("User inserted successfully", zap.String("user_id", u.ID))
	return nil
}

// Update 只更新 name / email，pendingTasks 由 SetPendingTasks 维护
func (r *UserRepository) Update(ctx context.Context, u *model.User) error {
	u.Email = model.NormalizeEmail(u.Email)
	if err := u.Validate(); err != nil {
		return err
	}

	result, err := db.Conn(ctx, r.db).Exec(ctx,
		`UPDATE users SET name = $2, email = $3 WHERE id = $1`,
		u.ID, u.Name, u.Email,
	)
	if err != nil {
		r.logger.Error("Failed to update user", zap.Error(err), zap.String("user_id", u.ID))
		return translate(err, ErrUserNotFound)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	r.logger.Info("User updated", zap.String("user_id", u.ID))
	return nil
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	result, err := db.Conn(ctx, r.db).Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		r.logger.Error("Failed to delete user", zap.Error(err), zap.String("user_id", id))
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	r.logger.Info("User deleted", zap.String("user_id", id))
	return nil
}

// AddPendingTask 幂等追加
func (r *UserRepository) AddPendingTask(ctx context.Context, userID, taskID string) error {
	stmt := `
        UPDATE users
        SET pending_tasks = array_append(pending_tasks, $2::text)
        WHERE id = $1
        AND NOT ($2::text = ANY(pending_tasks))
    `
	if _, err := db.Conn(ctx, r.db).Exec(ctx, stmt, userID, taskID); err != nil {
		r.logger.Error("Failed to add pending task",
			zap.Error(err),
			zap.String("user_id", userID),
			zap.String("task_id", taskID),
		)
		return err
	}
	return nil
}

// RemovePendingTask 幂等移除
func (r *UserRepository) RemovePendingTask(ctx context.Context, userID, taskID string) error {
	stmt := `
        UPDATE users
        SET pending_tasks = array_remove(pending_tasks, $2::text)
        WHERE id = $1
        AND $2::text = ANY(pending_tasks)
    `
	if _, err := db.Conn(ctx, r.db).Exec(ctx, stmt, userID, taskID); err != nil {
		r.logger.Error("Failed to remove pending task",
			zap.Error(err),
			zap.String("user_id", userID),
			zap.String("task_id", taskID),
		)
		return err
	}
	return nil
}

// SetPendingTasks 整体替换 pendingTasks
func (r *UserRepository) SetPendingTasks(ctx context.Context, userID string, taskIDs []string) error {
	result, err := db.Conn(ctx, r.db).Exec(ctx,
		`UPDATE users SET pending_tasks = $2::text[] WHERE id = $1`,
		userID, nonNil(model.DedupeIDs(taskIDs)),
	)
	if err != nil {
		r.logger.Error("Failed to set pending tasks", zap.Error(err), zap.String("user_id", userID))
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// PullTasks 从除 exceptUserID 外所有用户的 pendingTasks 中移除这些任务，返回受影响的用户 id
func (r *UserRepository) PullTasks(ctx context.Context, taskIDs []string, exceptUserID string) ([]string, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}

	stmt := `
        UPDATE users
        SET pending_tasks = ARRAY(
            SELECT p.task_id
            FROM unnest(pending_tasks) WITH ORDINALITY AS p(task_id, ord)
            WHERE NOT (p.task_id = ANY($1::text[]))
            ORDER BY p.ord
        )
        WHERE pending_tasks && $1::text[]
        AND id <> $2
        RETURNING id
    `
	rows, err := db.Conn(ctx, r.db).Query(ctx, stmt, taskIDs, exceptUserID)
	if err != nil {
		r.logger.Error("Failed to pull tasks from users", zap.Error(err), zap.Int("tasks", len(taskIDs)))
		return nil, err
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		userIDs = append(userIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(userIDs) > 0 {
		r.logger.Info("Tasks pulled from users", zap.Strings("user_ids", userIDs))
	}
	return userIDs, nil
}
