package mq

import "time"

const (
	RoutingKeyUserCreated = "user.created"
	RoutingKeyUserUpdated = "user.updated"
	RoutingKeyUserDeleted = "user.deleted"
)

type UserSnapshot struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PendingTasks []string  `json:"pending_tasks"`
	DateCreated  time.Time `json:"date_created"`
}

// UserEventPayload user.* 事件的 payload
// AssignedTasks / UnassignedTasks 为本次写入连带改变分配关系的任务
type UserEventPayload struct {
	User            UserSnapshot `json:"user"`
	AssignedTasks   []string     `json:"assigned_tasks,omitempty"`
	UnassignedTasks []string     `json:"unassigned_tasks,omitempty"`
	OccurredAt      time.Time    `json:"occurred_at"`
	TraceID         string       `json:"trace_id,omitempty"`
}
