// Package engine 定义共享存储引擎的内部接口
//
// interfaces.Engine 是上下文可见的最小读写面；InternalEngine 额外提供
// 批量写入和生命周期，只给 StorageManager 与协调器使用。
//
// 写入提交成功后，引擎在写入者的 goroutine 中同步调用前缀匹配的
// Watch 回调。回调内不得同步写入引擎。
package engine

import (
	"github.com/dep2p/go-quicktabs/pkg/interfaces"
)

// InternalEngine 共享存储的内部接口
type InternalEngine interface {
	interfaces.Engine

	// NewBatch 创建批量写入，提交后按添加顺序通知订阅者
	NewBatch() Batch

	// Start 启动后台值日志回收（内存模式下不做任何事）
	Start() error

	// Stats 读写计数快照
	Stats() Stats
}

// Batch 批量写入，非线程安全
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)

	// Write 原子提交并清空已累积的操作
	Write() error

	// Len 已累积的操作数
	Len() int
}

// Stats 引擎计数
type Stats struct {
	Reads     int64 `json:"reads"`
	Writes    int64 `json:"writes"`
	Deletes   int64 `json:"deletes"`
	Watchers  int   `json:"watchers"`
	LSMBytes  int64 `json:"lsm_bytes"`
	VlogBytes int64 `json:"vlog_bytes"`
}
