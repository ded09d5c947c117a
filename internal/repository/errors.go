package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"

	"taskhub/internal/apperr"
	"taskhub/pkg/util"
)

const emailConstraint = "users_email_key"

var (
	ErrTaskNotFound = apperr.NotFound("Task not found")
	ErrUserNotFound = apperr.NotFound("User not found")
)

// DuplicateEmailMessage 邮箱冲突时返回给调用方的信息
const DuplicateEmailMessage = "A user with that email already exists."

// translate 把驱动错误转换为业务错误，其余原样返回
func translate(err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return notFound
	case util.IsUniqueViolation(err, emailConstraint):
		return apperr.DuplicateKey(DuplicateEmailMessage, err)
	}
	return err
}

// nonNil pgx 会把 nil 切片编码为 NULL，数组比较需要空数组
func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
