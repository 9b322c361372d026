package signal

import (
	"errors"
	"fmt"
)

// RejectionError 表示提案未通过校验或准入。
// 这是正常控制流结果：上报为风险事件后继续运行，不算系统故障。
type RejectionError struct {
	Code   string
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("rejected [%s]: %s", e.Code, e.Reason)
}

func rejectf(code, format string, args ...any) *RejectionError {
	return &RejectionError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// IsRejection 判断 err 是否为（或包装了）RejectionError。
func IsRejection(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej)
}

// FatalError 表示该 key 的处理必须终止：策略生成超时，
// 或已校验数据中再次出现不变量破坏。
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error { return e.Err }

func fatalf(format string, args ...any) *FatalError {
	return &FatalError{Err: fmt.Errorf(format, args...)}
}

// IsFatal 判断 err 是否为致命故障。
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}
