package service

import (
	"context"

	"go.uber.org/zap"

	mqcontracts "taskhub/contracts/mq"
	"taskhub/internal/apperr"
	"taskhub/internal/model"
)

// resolveAssignee 按用户记录校正 assignedUserName；用户不存在时把任务改为未分配。
// 返回值表示是否发生了自愈。
func (c *Coordinator) resolveAssignee(ctx context.Context, t *model.Task, callerName string) (bool, error) {
	if t.AssignedUser == "" {
		t.Unassign()
		return false, nil
	}

	u, err := c.users.FindByID(ctx, t.AssignedUser)
	if apperr.KindOf(err) == apperr.KindNotFound {
		c.selfHeal(ctx, aggregateTask, "missing_user",
			zap.String("task_id", t.ID),
			zap.String("assigned_user", t.AssignedUser),
		)
		t.Unassign()
		return true, nil
	}
	if err != nil {
		return false, err
	}

	if callerName != u.Name {
		if callerName != model.UnassignedName {
			c.selfHeal(ctx, aggregateTask, "stale_name",
				zap.String("task_id", t.ID),
				zap.String("given_name", callerName),
				zap.String("user_name", u.Name),
			)
		}
		t.AssignedUserName = u.Name
	}
	return false, nil
}

// CreateTask 创建任务并把它加入负责人的 pendingTasks（未完成时）
func (c *Coordinator) CreateTask(ctx context.Context, in model.TaskInput) (*model.Task, error) {
	t, err := in.ToTask()
	if err != nil {
		return nil, err
	}

	var created *model.Task
	err = c.run(ctx, "create_task", func(ctx context.Context) error {
		task := *t
		healed, err := c.resolveAssignee(ctx, &task, in.AssignedUserName)
		if err != nil {
			return err
		}

		if err := c.tasks.Insert(ctx, &task); err != nil {
			return err
		}

		if task.IsPendingFor(task.AssignedUser) {
			if err := c.users.AddPendingTask(ctx, task.AssignedUser, task.ID); err != nil {
				return err
			}
		}

		if err := c.recordTask(ctx, mqcontracts.RoutingKeyTaskCreated, &task, "", healed); err != nil {
			return err
		}
		created = &task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateTask 整体替换任务字段，并同步新旧负责人的 pendingTasks
func (c *Coordinator) UpdateTask(ctx context.Context, id string, in model.TaskInput) (*model.Task, error) {
	next, err := in.ToTask()
	if err != nil {
		return nil, err
	}

	var updated *model.Task
	err = c.run(ctx, "update_task", func(ctx context.Context) error {
		task, err := c.tasks.FindByID(ctx, id)
		if err != nil {
			return err
		}
		prevAssignee := task.AssignedUser

		task.Name = next.Name
		task.Description = next.Description
		task.Deadline = next.Deadline
		task.Completed = next.Completed
		task.AssignedUser = next.AssignedUser
		task.AssignedUserName = next.AssignedUserName

		healed, err := c.resolveAssignee(ctx, task, in.AssignedUserName)
		if err != nil {
			return err
		}

		if err := c.tasks.Update(ctx, task); err != nil {
			return err
		}

		// 先无条件从旧负责人移除，再按需加回新负责人，成员关系保持幂等
		if prevAssignee != "" {
			if err := c.users.RemovePendingTask(ctx, prevAssignee, task.ID); err != nil {
				return err
			}
		}
		if task.IsPendingFor(task.AssignedUser) {
			if err := c.users.AddPendingTask(ctx, task.AssignedUser, task.ID); err != nil {
				return err
			}
		}

		if err := c.recordTask(ctx, mqcontracts.RoutingKeyTaskUpdated, task, prevAssignee, healed); err != nil {
			return err
		}
		updated = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteTask 删除任务并从所有用户的 pendingTasks 中移除
func (c *Coordinator) DeleteTask(ctx context.Context, id string) error {
	return c.run(ctx, "delete_task", func(ctx context.Context) error {
		task, err := c.tasks.FindByID(ctx, id)
		if err != nil {
			return err
		}

		if err := c.tasks.Delete(ctx, id); err != nil {
			return err
		}

		pulled, err := c.users.PullTasks(ctx, []string{id}, "")
		if err != nil {
			return err
		}
		for _, userID := range pulled {
			if userID != task.AssignedUser {
				c.selfHeal(ctx, aggregateUser, "unknown_task",
					zap.String("user_id", userID),
					zap.String("task_id", id),
				)
			}
		}

		return c.recordTask(ctx, mqcontracts.RoutingKeyTaskDeleted, task, task.AssignedUser, false)
	})
}
