package service

import (
	"errors"
	"fmt"
)

// 业务错误分级：校验失败在本地直接拒绝，不产生存储调用；
// 未找到与密码错误原样上浮，不重试；存储错误携带底层诊断信息。
var (
	ErrValidation    = errors.New("validation failed")
	ErrRoomNotFound  = errors.New("room not found")
	ErrWrongPassword = errors.New("wrong room password")
)

// StoreError 包装来自实时存储的失败，保留底层诊断。
// 所有 StoreError 都是可恢复的：调用方重试对应的用户操作即可。
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store operation %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsStoreError 报告 err 是否为（或包装了）StoreError。
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

func validationErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
