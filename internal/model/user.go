package model

import (
	"strings"
	"time"

	"taskhub/internal/apperr"
)

type User struct {
	ID           string    `json:"_id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PendingTasks []string  `json:"pendingTasks"`
	DateCreated  time.Time `json:"dateCreated"`
}

// NormalizeEmail 去除首尾空白并转小写，唯一性按归一化后的值判断
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (u *User) Validate() error {
	if u.Name == "" || u.Email == "" {
		return apperr.Validation("name and email are required")
	}
	return nil
}

// HasPendingTask 判断 pendingTasks 是否包含 taskID
func (u *User) HasPendingTask(taskID string) bool {
	for _, id := range u.PendingTasks {
		if id == taskID {
			return true
		}
	}
	return false
}

func (u *User) Document() Document {
	pending := make([]string, len(u.PendingTasks))
	copy(pending, u.PendingTasks)
	return Document{
		"_id":          u.ID,
		"name":         u.Name,
		"email":        u.Email,
		"pendingTasks": pending,
		"dateCreated":  u.DateCreated,
	}
}

// DedupeIDs 去重并保留首次出现的顺序，空串被丢弃
func DedupeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
