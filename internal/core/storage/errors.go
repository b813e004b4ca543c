package storage

import (
	"context"
	"errors"
)

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrWriteFailed 存储写入失败
	ErrWriteFailed = errors.New("storage: write failed")

	// ErrCircuitOpen 存储写断路器打开，写入被拒绝
	ErrCircuitOpen = errors.New("storage: write circuit open")

	// ErrCorruptRecord 记录无法解码
	ErrCorruptRecord = errors.New("storage: corrupt record")

	// ErrClosed 管理器已停止
	ErrClosed = errors.New("storage: manager closed")
)

// timeoutError 带 Timeout() 方法的错误（与 net.Error 约定一致）
type timeoutError interface {
	Timeout() bool
}

// isTimeout 判断协调器调用是否因超时失败
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te timeoutError
	return errors.As(err, &te) && te.Timeout()
}
