package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"taskhub/internal/apperr"
)

// TaskInput 创建/整体替换任务时调用方提供的字段
type TaskInput struct {
	Name             string
	Description      string
	Deadline         any
	Completed        bool
	AssignedUser     string
	AssignedUserName string
}

// UserInput 创建/整体替换用户时调用方提供的字段
type UserInput struct {
	Name         string
	Email        string
	PendingTasks []string
}

// TaskInputFromFields 从解码后的请求体构造 TaskInput，缺省值与存储默认值一致
func TaskInputFromFields(fields map[string]any) (TaskInput, error) {
	in := TaskInput{
		AssignedUserName: UnassignedName,
		Deadline:         fields["deadline"],
	}

	var err error
	if in.Name, err = stringField(fields, "name"); err != nil {
		return in, err
	}
	if in.Description, err = stringField(fields, "description"); err != nil {
		return in, err
	}
	if in.AssignedUser, err = stringField(fields, "assignedUser"); err != nil {
		return in, err
	}
	if name, err := stringField(fields, "assignedUserName"); err != nil {
		return in, err
	} else if name != "" {
		in.AssignedUserName = name
	}

	if v, ok := fields["completed"]; ok && v != nil {
		completed, err := boolValue(v)
		if err != nil {
			return in, apperr.Validation("completed must be a boolean")
		}
		in.Completed = completed
	}

	return in, nil
}

// ToTask 校验并转换为 Task（不含 ID 与 DateCreated）
func (in TaskInput) ToTask() (*Task, error) {
	t := &Task{
		Name:             in.Name,
		Description:      in.Description,
		Completed:        in.Completed,
		AssignedUser:     in.AssignedUser,
		AssignedUserName: in.AssignedUserName,
	}
	if t.Name == "" || in.Deadline == nil || in.Deadline == "" {
		return nil, apperr.Validation("name and deadline are required")
	}
	deadline, err := ParseTimestamp(in.Deadline)
	if err != nil {
		return nil, apperr.Validation("deadline must be a valid date")
	}
	t.Deadline = deadline
	if t.AssignedUserName == "" {
		t.AssignedUserName = UnassignedName
	}
	return t, nil
}

// UserInputFromFields 从解码后的请求体构造 UserInput
// pendingTasks 不是数组时视为空集合
func UserInputFromFields(fields map[string]any) (UserInput, error) {
	var in UserInput
	var err error
	if in.Name, err = stringField(fields, "name"); err != nil {
		return in, err
	}
	if in.Email, err = stringField(fields, "email"); err != nil {
		return in, err
	}
	in.Email = NormalizeEmail(in.Email)

	in.PendingTasks = []string{}
	if list, ok := fields["pendingTasks"].([]any); ok {
		for _, item := range list {
			id, ok := scalarString(item)
			if !ok {
				return in, apperr.Validation("pendingTasks must be an array of task ids")
			}
			in.PendingTasks = append(in.PendingTasks, id)
		}
	}
	in.PendingTasks = DedupeIDs(in.PendingTasks)

	if in.Name == "" || in.Email == "" {
		return in, apperr.Validation("name and email are required")
	}
	return in, nil
}

func stringField(fields map[string]any, key string) (string, error) {
	v, ok := fields[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := scalarString(v)
	if !ok {
		return "", apperr.Validation(fmt.Sprintf("%s must be a string", key))
	}
	return s, nil
}

func scalarString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case bool:
		return strconv.FormatBool(val), true
	}
	return "", false
}

func boolValue(v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(val))
	case json.Number:
		return strconv.ParseBool(val.String())
	}
	return false, fmt.Errorf("not a boolean: %v", v)
}
