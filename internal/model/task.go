package model

import (
	"time"

	"taskhub/internal/apperr"
)

// UnassignedName 未分配任务的 assignedUserName
const UnassignedName = "unassigned"

type Task struct {
	ID               string    `json:"_id"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	Deadline         time.Time `json:"deadline"`
	Completed        bool      `json:"completed"`
	AssignedUser     string    `json:"assignedUser"`
	AssignedUserName string    `json:"assignedUserName"`
	DateCreated      time.Time `json:"dateCreated"`
}

// Validate 检查必填字段
func (t *Task) Validate() error {
	if t.Name == "" || t.Deadline.IsZero() {
		return apperr.Validation("name and deadline are required")
	}
	return nil
}

// Unassign 清除分配关系
func (t *Task) Unassign() {
	t.AssignedUser = ""
	t.AssignedUserName = UnassignedName
}

// IsPendingFor 任务是否应出现在 userID 的 pendingTasks 中
func (t *Task) IsPendingFor(userID string) bool {
	return userID != "" && t.AssignedUser == userID && !t.Completed
}

// Document 以查询字段名展开，供内存匹配与投影使用
func (t *Task) Document() Document {
	return Document{
		"_id":              t.ID,
		"name":             t.Name,
		"description":      t.Description,
		"deadline":         t.Deadline,
		"completed":        t.Completed,
		"assignedUser":     t.AssignedUser,
		"assignedUserName": t.AssignedUserName,
		"dateCreated":      t.DateCreated,
	}
}
