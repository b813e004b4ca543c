package quicktabs

import "errors"

// 公共错误定义
var (
	// ────────────────────────────────────────────────────────────────────────
	// Tab 生命周期错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrNotStarted Tab 未启动
	ErrNotStarted = errors.New("quicktabs: tab not started")

	// ErrAlreadyStarted Tab 已启动
	ErrAlreadyStarted = errors.New("quicktabs: tab already started")

	// ErrTabClosed Tab 已关闭
	ErrTabClosed = errors.New("quicktabs: tab closed")

	// ────────────────────────────────────────────────────────────────────────
	// 构造错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrNoChannelFactory 未提供广播通道工厂
	ErrNoChannelFactory = errors.New("quicktabs: channel factory required")

	// ErrNoCoordinator 未提供协调器传输
	ErrNoCoordinator = errors.New("quicktabs: coordinator transport required")

	// ErrUnknownPreset 未知预设
	ErrUnknownPreset = errors.New("quicktabs: unknown preset")
)
