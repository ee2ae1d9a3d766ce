package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound 项目或资源不存在
var ErrNotFound = errors.New("not found")

// ValidationError 输入不合法（缺源图、非 https 等），立即失败且不重试
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Msg
}

// PreconditionError 项目状态不满足阶段前置条件，重试无意义
type PreconditionError struct {
	ProjectID string
	Status    string
	Want      string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition: project %s status=%s, want %s", e.ProjectID, e.Status, e.Want)
}

// ProviderError 上游 AI / 存储服务失败，可在任务级别重试
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// TimeoutError 轮询耗尽次数预算，重试策略上等同 ProviderError
type TimeoutError struct {
	TaskID   string
	Attempts int
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("poll timeout: task %s still pending after %d attempts (%s)", e.TaskID, e.Attempts, e.Elapsed)
}

// StateConflictError 原子状态更新时发现项目不在期望状态
type StateConflictError struct {
	ProjectID string
	Current   string
	Expected  []string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("state conflict: project %s is %s, expected %s", e.ProjectID, e.Current, strings.Join(e.Expected, "|"))
}

// IsRetryable 判断错误是否值得由队列重投。未知错误按可重试处理，
// 交给重试预算兜底。
func IsRetryable(err error) bool {
	var ve *ValidationError
	var pe *PreconditionError
	var sc *StateConflictError
	if errors.As(err, &ve) || errors.As(err, &pe) || errors.As(err, &sc) {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return false
	}
	return true
}
