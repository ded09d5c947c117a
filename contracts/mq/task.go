package mq

import "time"

// 路由键，发布到 events topic exchange
const (
	RoutingKeyTaskCreated = "task.created"
	RoutingKeyTaskUpdated = "task.updated"
	RoutingKeyTaskDeleted = "task.deleted"
)

// TaskSnapshot 事件中携带的任务快照
type TaskSnapshot struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	Deadline         time.Time `json:"deadline"`
	Completed        bool      `json:"completed"`
	AssignedUser     string    `json:"assigned_user"`
	AssignedUserName string    `json:"assigned_user_name"`
	DateCreated      time.Time `json:"date_created"`
}

// TaskEventPayload task.created / task.updated / task.deleted 的 payload
// PreviousAssignee 为变更前的负责人（仅 updated / deleted）
type TaskEventPayload struct {
	Task             TaskSnapshot `json:"task"`
	PreviousAssignee string       `json:"previous_assignee,omitempty"`
	SelfHealed       bool         `json:"self_healed,omitempty"`
	OccurredAt       time.Time    `json:"occurred_at"`
	TraceID          string       `json:"trace_id,omitempty"`
}
