// Package types 定义 Quick Tabs 同步核心的公共数据结构
//
// 这是整个系统的最底层包，不依赖任何其他内部包。
// 所有类型都是纯值类型，用于在 StateManager / StorageManager /
// BroadcastManager / ResilienceLayer 之间传递数据。
//
// # 文件组织
//
//   - overlay.go  - Overlay、Position、Size 以及可见性规则
//   - message.go  - SyncMessage 跨上下文信封与各类 payload
//   - events.go   - 事件主题与事件 payload
//   - errors.go   - 公共错误定义
package types
