package broadcast

import "errors"

// 错误定义
var (
	// ErrNotStarted 管理器未启动
	ErrNotStarted = errors.New("broadcast: manager not started")

	// ErrNoTransport 通道与存储回退都不可用
	ErrNoTransport = errors.New("broadcast: no transport available")

	// ErrRateLimited 回退传输被限流
	ErrRateLimited = errors.New("broadcast: fallback rate limited")

	// ErrSelfEcho 自己发出的消息
	ErrSelfEcho = errors.New("broadcast: self echo")

	// ErrSequenceAnomaly 序列号未递增
	ErrSequenceAnomaly = errors.New("broadcast: sequence anomaly")

	// ErrContainerViolation 容器不匹配
	ErrContainerViolation = errors.New("broadcast: container violation")

	// ErrDebounced 去抖窗口内的重复消息
	ErrDebounced = errors.New("broadcast: debounced")
)
