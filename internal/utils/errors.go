package utils

import (
	"errors"
	"fmt"
)

// ErrorKind 错误类别，决定调用方的处理策略
type ErrorKind string

const (
	KindTransient   ErrorKind = "transient"   // 瞬时错误：记录日志后继续
	KindValidation  ErrorKind = "validation"  // 校验错误：拒绝请求，不改动任何状态
	KindStorage     ErrorKind = "storage"     // 存储错误：中止本次写入
	KindUnavailable ErrorKind = "unavailable" // 依赖不可用：该子组件本进程内禁用
)

// ClassifiedError 带类别的错误
type ClassifiedError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Transient 包装为瞬时错误
func Transient(format string, args ...interface{}) error {
	return &ClassifiedError{Kind: KindTransient, Err: fmt.Errorf(format, args...)}
}

// Validation 包装为校验错误
func Validation(format string, args ...interface{}) error {
	return &ClassifiedError{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

// Storage 包装为存储错误
func Storage(format string, args ...interface{}) error {
	return &ClassifiedError{Kind: KindStorage, Err: fmt.Errorf(format, args...)}
}

// Unavailable 包装为依赖不可用错误
func Unavailable(format string, args ...interface{}) error {
	return &ClassifiedError{Kind: KindUnavailable, Err: fmt.Errorf(format, args...)}
}

// KindOf 返回错误类别，未分类的错误按瞬时错误处理
func KindOf(err error) ErrorKind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindTransient
}

// IsValidation 判断是否为校验错误
func IsValidation(err error) bool {
	return err != nil && KindOf(err) == KindValidation
}

// IsStorage 判断是否为存储错误
func IsStorage(err error) bool {
	return err != nil && KindOf(err) == KindStorage
}

// IsUnavailable 判断是否为依赖不可用错误
func IsUnavailable(err error) bool {
	return err != nil && KindOf(err) == KindUnavailable
}
