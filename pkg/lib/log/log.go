// Package log 提供 Quick Tabs 同步核心的统一日志接口
//
// 基于 Go 标准库 log/slog 封装。每个组件在包级声明自己的 LazyLogger：
//
//	var logger = log.Logger("core/state")
//
//	logger.Info("overlay 已添加", "id", id, "slot", slot)
//
// LazyLogger 每次调用时读取 slog.Default()，因此 SetOutput / SetLevel
// 在任意时刻调用都会立即影响所有组件。
package log

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	levelVar = new(slog.LevelVar)
	outputMu sync.Mutex
)

// SetOutput 设置日志输出目标
//
// 重新创建默认 logger，保留当前级别。
func SetOutput(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: levelVar})))
}

// SetJSONOutput 设置 JSON 格式的日志输出
func SetJSONOutput(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: levelVar})))
}

// SetLevel 动态设置日志级别
func SetLevel(level slog.Level) {
	levelVar.Set(level)
}

// ParseLevel 解析级别字符串（debug/info/warn/error），无法识别时返回 info
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// ============================================================================
//                              LazyLogger
// ============================================================================

// LazyLogger 懒加载 logger
//
// 每次日志调用时都从 slog.Default() 获取最新的 handler，
// 并附加 component 属性。
type LazyLogger struct {
	component string
}

// Logger 返回带组件名的 LazyLogger
func Logger(component string) *LazyLogger {
	return &LazyLogger{component: component}
}

func (l *LazyLogger) base() *slog.Logger {
	return slog.Default().With("component", l.component)
}

// Debug 输出 Debug 级别日志
func (l *LazyLogger) Debug(msg string, args ...any) {
	l.base().Debug(msg, args...)
}

// Info 输出 Info 级别日志
func (l *LazyLogger) Info(msg string, args ...any) {
	l.base().Info(msg, args...)
}

// Warn 输出 Warn 级别日志
func (l *LazyLogger) Warn(msg string, args ...any) {
	l.base().Warn(msg, args...)
}

// Error 输出 Error 级别日志
func (l *LazyLogger) Error(msg string, args ...any) {
	l.base().Error(msg, args...)
}

// With 添加额外的属性
//
// 返回的 *slog.Logger 绑定当前 default handler，适合生命周期与
// 单个 Tab 相同的对象（例如带 tab / sender 属性的 Manager）。
func (l *LazyLogger) With(args ...any) *slog.Logger {
	return l.base().With(args...)
}

// TruncateID 安全截取 ID 用于日志显示
func TruncateID(id string, maxLen int) string {
	if len(id) <= maxLen {
		return id
	}
	return id[:maxLen]
}

func init() {
	levelVar.Set(slog.LevelInfo)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))
}
