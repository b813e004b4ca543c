package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrShed 操作因负载过高被拒绝（可重试）
	ErrShed = errors.New("resilience: operation shed")

	// ErrClosed 分发器已关闭
	ErrClosed = errors.New("resilience: dispatcher closed")

	// ErrRejected 协调器返回 success=false
	ErrRejected = errors.New("resilience: coordinator rejected operation")

	// ErrHeartbeatOpen 心跳断路器打开
	ErrHeartbeatOpen = errors.New("resilience: heartbeat circuit open")
)

// ShedError 负载卸载错误
type ShedError struct {
	Operation string
	Priority  Priority
	Depth     int
	Capacity  int
	// Threshold 触发拒绝的负载阈值（0.5 / 0.75 / 0.9）
	Threshold float64
}

func (e *ShedError) Error() string {
	return fmt.Sprintf("resilience: %s (%s) shed at depth %d/%d, threshold %.0f%%",
		e.Operation, e.Priority, e.Depth, e.Capacity, e.Threshold*100)
}

// Retryable 卸载总是可重试
func (e *ShedError) Retryable() bool { return true }

// Is 支持 errors.Is(err, ErrShed)
func (e *ShedError) Is(target error) bool { return target == ErrShed }

// TimeoutError 单个操作超时
type TimeoutError struct {
	Operation string
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("resilience: %s timed out after %s", e.Operation, e.After)
}

// Timeout 实现 net.Error 约定
func (e *TimeoutError) Timeout() bool { return true }

// Unwrap 返回 context.DeadlineExceeded
func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// ValidationError 协调器响应缺少必填字段
type ValidationError struct {
	Action  string
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("resilience: %s response missing fields: %s", e.Action, strings.Join(e.Missing, ", "))
}
