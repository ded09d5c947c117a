package apperr

import (
	"errors"
	"fmt"
)

// Kind 错误分类，由边界层映射为 HTTP 状态码
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindDuplicateKey
	KindInvalidQuery
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindDuplicateKey:
		return "duplicate_key"
	case KindInvalidQuery:
		return "invalid_query"
	case KindTransient:
		return "transient"
	}
	return "internal"
}

// Error 携带分类的业务错误，Msg 可以直接返回给调用方
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is 让 errors.Is(err, apperr.ErrNotFound) 按 Kind 匹配
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// 哨兵值，只用于 errors.Is 比较
var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrDuplicateKey = &Error{Kind: KindDuplicateKey}
	ErrInvalidQuery = &Error{Kind: KindInvalidQuery}
	ErrTransient    = &Error{Kind: KindTransient}
)

func Validation(msg string) error { return &Error{Kind: KindValidation, Msg: msg} }

func NotFound(msg string) error { return &Error{Kind: KindNotFound, Msg: msg} }

func DuplicateKey(msg string, err error) error {
	return &Error{Kind: KindDuplicateKey, Msg: msg, Err: err}
}

func InvalidQuery(msg string, err error) error {
	return &Error{Kind: KindInvalidQuery, Msg: msg, Err: err}
}

func Transient(msg string, err error) error {
	return &Error{Kind: KindTransient, Msg: msg, Err: err}
}

// KindOf 返回错误链上第一个 *Error 的分类，没有则视为内部错误
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf 返回可以暴露给调用方的信息
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Msg
	}
	return "Server error"
}
