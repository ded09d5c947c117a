package service

import (
	"context"

	"go.uber.org/zap"

	mqcontracts "taskhub/contracts/mq"
	"taskhub/internal/model"
)

// existingTasks 过滤掉不存在的任务 id，保留调用方给出的顺序
func (c *Coordinator) existingTasks(ctx context.Context, userID string, ids []string) ([]string, map[string]*model.Task, error) {
	ids = model.DedupeIDs(ids)
	found := make(map[string]*model.Task, len(ids))
	if len(ids) == 0 {
		return []string{}, found, nil
	}

	tasks, err := c.tasks.FindByIDs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	for _, t := range tasks {
		found[t.ID] = t
	}

	existing := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			c.selfHeal(ctx, aggregateUser, "unknown_task",
				zap.String("user_id", userID),
				zap.String("task_id", id),
			)
			continue
		}
		existing = append(existing, id)
	}
	return existing, found, nil
}

// claimTasks 把 ids 对应的任务指向 u，并从其他用户的 pendingTasks 中移除
func (c *Coordinator) claimTasks(ctx context.Context, u *model.User, ids []string, found map[string]*model.Task) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}

	moved, err := c.users.PullTasks(ctx, ids, u.ID)
	if err != nil {
		return nil, err
	}
	for _, from := range moved {
		c.selfHeal(ctx, aggregateUser, "moved_task",
			zap.String("user_id", u.ID),
			zap.String("from_user", from),
		)
	}

	if _, err := c.tasks.AssignMany(ctx, ids, u.ID, u.Name); err != nil {
		return nil, err
	}

	assigned := make([]string, 0, len(ids))
	for _, id := range ids {
		if found[id].AssignedUser != u.ID {
			assigned = append(assigned, id)
		}
	}
	return assigned, nil
}

// CreateUser 创建用户；pendingTasks 中已存在的任务被分配给新用户
func (c *Coordinator) CreateUser(ctx context.Context, in model.UserInput) (*model.User, error) {
	u := &model.User{
		Name:  in.Name,
		Email: model.NormalizeEmail(in.Email),
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}

	var created *model.User
	err := c.run(ctx, "create_user", func(ctx context.Context) error {
		user := *u
		existing, found, err := c.existingTasks(ctx, "", in.PendingTasks)
		if err != nil {
			return err
		}
		user.PendingTasks = existing

		if err := c.users.Insert(ctx, &user); err != nil {
			return err
		}

		assigned, err := c.claimTasks(ctx, &user, existing, found)
		if err != nil {
			return err
		}

		if err := c.recordUser(ctx, mqcontracts.RoutingKeyUserCreated, &user, assigned, nil); err != nil {
			return err
		}
		created = &user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateUser 整体替换用户字段。pendingTasks 视为权威：列出的任务改为指向该用户，
// 其余仍指向该用户的任务全部清除分配。
func (c *Coordinator) UpdateUser(ctx context.Context, id string, in model.UserInput) (*model.User, error) {
	next := &model.User{
		Name:  in.Name,
		Email: model.NormalizeEmail(in.Email),
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	var updated *model.User
	err := c.run(ctx, "update_user", func(ctx context.Context) error {
		user, err := c.users.FindByID(ctx, id)
		if err != nil {
			return err
		}

		existing, found, err := c.existingTasks(ctx, user.ID, in.PendingTasks)
		if err != nil {
			return err
		}

		user.Name = next.Name
		user.Email = next.Email
		if err := c.users.Update(ctx, user); err != nil {
			return err
		}
		if err := c.users.SetPendingTasks(ctx, user.ID, existing); err != nil {
			return err
		}
		user.PendingTasks = existing

		assigned, err := c.claimTasks(ctx, user, existing, found)
		if err != nil {
			return err
		}

		// 全表扫描 assignedUser，清除不在新集合中的反向引用
		unassigned, err := c.tasks.UnassignUser(ctx, user.ID, existing)
		if err != nil {
			return err
		}

		if err := c.recordUser(ctx, mqcontracts.RoutingKeyUserUpdated, user, assigned, unassigned); err != nil {
			return err
		}
		updated = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteUser 删除用户，所有指向它的任务改为未分配
func (c *Coordinator) DeleteUser(ctx context.Context, id string) error {
	return c.run(ctx, "delete_user", func(ctx context.Context) error {
		user, err := c.users.FindByID(ctx, id)
		if err != nil {
			return err
		}

		unassigned, err := c.tasks.UnassignUser(ctx, user.ID, nil)
		if err != nil {
			return err
		}

		if err := c.users.Delete(ctx, user.ID); err != nil {
			return err
		}

		return c.recordUser(ctx, mqcontracts.RoutingKeyUserDeleted, user, nil, unassigned)
	})
}
